package xtaf

import (
	"fmt"
	"time"
)

// FatTimestamp is a DOS-style date/time pair as stored in a directory record.
// Only the presentation is provided here; nothing in the parser depends on it.
type FatTimestamp struct {
	Date uint16
	Time uint16
}

func (ft FatTimestamp) Day() int {
	return int(ft.Date & 0x1f)
}

func (ft FatTimestamp) Month() int {
	return int(ft.Date&0x1e0) >> 5
}

func (ft FatTimestamp) Year() int {
	return 1980 + int(ft.Date&0xfe00)>>9
}

// Second has a two-second granularity.
func (ft FatTimestamp) Second() int {
	return int(ft.Time&0x1f) * 2
}

func (ft FatTimestamp) Minute() int {
	return int(ft.Time&0x7e0) >> 5
}

func (ft FatTimestamp) Hour() int {
	return int(ft.Time&0xf800) >> 11
}

// IsZero indicates that the date is unset or invalid (a zero day or month).
func (ft FatTimestamp) IsZero() bool {
	return ft.Day() == 0 || ft.Month() == 0
}

// Timestamp returns the UTC time. An unset or invalid date returns the zero
// time so that `time.Time.IsZero()` can be used.
func (ft FatTimestamp) Timestamp() time.Time {
	if ft.IsZero() == true {
		return time.Time{}
	}

	return time.Date(ft.Year(), time.Month(ft.Month()), ft.Day(), ft.Hour(), ft.Minute(), ft.Second(), 0, time.UTC)
}

func (ft FatTimestamp) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d", ft.Year(), ft.Month(), ft.Day(), ft.Hour(), ft.Minute(), ft.Second())
}
