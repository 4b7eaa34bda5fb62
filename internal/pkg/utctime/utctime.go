// Package utctime provides a time value normalized to UTC with millisecond precision,
// so serialized values are stable and comparable.
package utctime

import (
	"time"

	"github.com/taskmesh/taskmesh/internal/pkg/utils/errors"
)

const TimeFormat = "2006-01-02T15:04:05.000Z"

type UTCTime time.Time

func From(t time.Time) UTCTime {
	return UTCTime(t.UTC())
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

func (v UTCTime) String() string {
	return FormatTime(time.Time(v))
}

func (v UTCTime) Time() time.Time {
	return time.Time(v)
}

func (v UTCTime) IsZero() bool {
	return time.Time(v).IsZero()
}

func (v UTCTime) After(target UTCTime) bool {
	return v.Time().After(target.Time())
}

func (v UTCTime) Sub(target UTCTime) time.Duration {
	return v.Time().Sub(target.Time())
}

func (v UTCTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

func (v *UTCTime) UnmarshalJSON(b []byte) error {
	str := string(b)
	if len(str) < 2 || str[0] != '"' || str[len(str)-1] != '"' {
		return errors.Errorf(`unexpected UTCTime value "%s"`, str)
	}
	out, err := time.Parse(TimeFormat, str[1:len(str)-1])
	if err != nil {
		return err
	}
	*v = UTCTime(out)
	return nil
}
