// nolint: gochecknoglobals
package idgenerator

import gonanoid "github.com/matoous/go-nanoid/v2"

const (
	TaskIDLength  = 25
	GroupIDLength = 25
)

// alphabet used in ID generation.
var alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func TaskID() string {
	return gonanoid.MustGenerate(alphabet, TaskIDLength)
}

func GroupID() string {
	return gonanoid.MustGenerate(alphabet, GroupIDLength)
}

func Random(length int) string {
	return gonanoid.MustGenerate(alphabet, length)
}
