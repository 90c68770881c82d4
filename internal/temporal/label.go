package temporal

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Meridiem is the AM/PM marker of a label, empty when the label has none.
type Meridiem string

const (
	MeridiemNone Meridiem = ""
	AM           Meridiem = "AM"
	PM           Meridiem = "PM"
)

var (
	// \p{Zs} covers the narrow no-break space chat clients put before AM/PM.
	searchPattern = regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}[\s\p{Zs}]?(?:AM|PM)?\b`)
	labelPattern  = regexp.MustCompile(`(?i)^(\d{1,2}):(\d{2})(?:[\s\p{Zs}]?(AM|PM))?$`)
)

// ErrParse matches every *ParseError.
var ErrParse = errors.New("malformed time label")

// ParseError reports a label that contains a time but cannot be read as one.
type ParseError struct {
	Label  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse time label %q: %s", e.Label, e.Reason)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// Clock is a parsed time-of-day label.
type Clock struct {
	Hour     int
	Minute   int
	Meridiem Meridiem
}

// Hour24 converts the label hour to 24-hour form. Labels without a
// meridiem are passed through unchanged.
func (c Clock) Hour24() int {
	switch {
	case c.Meridiem == AM && c.Hour == 12:
		return 0
	case c.Meridiem == PM && c.Hour != 12:
		return c.Hour + 12
	default:
		return c.Hour
	}
}

// FindLabel returns the first time-of-day substring of raw. ok is false when
// raw carries no time at all; such messages are skipped, not errors.
func FindLabel(raw string) (label string, ok bool) {
	m := searchPattern.FindString(raw)
	if m == "" {
		return "", false
	}
	return strings.Map(plainSpace, strings.TrimSpace(m)), true
}

func plainSpace(r rune) rune {
	if unicode.Is(unicode.Zs, r) {
		return ' '
	}
	return r
}

// ParseLabel reads "H:MM" optionally followed by AM or PM, case-insensitive.
func ParseLabel(label string) (Clock, error) {
	trimmed := strings.TrimSpace(label)
	m := labelPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return Clock{}, &ParseError{Label: label, Reason: "expected H:MM with optional AM/PM"}
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	c := Clock{Hour: hour, Minute: minute, Meridiem: Meridiem(strings.ToUpper(m[3]))}
	if minute > 59 {
		return Clock{}, &ParseError{Label: label, Reason: "minute out of range"}
	}
	if c.Meridiem == MeridiemNone {
		if hour > 23 {
			return Clock{}, &ParseError{Label: label, Reason: "hour out of range"}
		}
	} else if hour < 1 || hour > 12 {
		return Clock{}, &ParseError{Label: label, Reason: "12-hour clock hour out of range"}
	}
	return c, nil
}
