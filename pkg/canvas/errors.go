package canvas

import (
	"fmt"
)

// InvalidOptionsError is returned when a signature carries
// an unrecognized or malformed execution option.
type InvalidOptionsError struct {
	Key    string
	Reason string
}

func (e *InvalidOptionsError) Error() string {
	return fmt.Sprintf(`invalid option "%s": %s`, e.Key, e.Reason)
}
