package quantity

import (
	"regexp"
	"strconv"
	"strings"
)

// plusPattern matches an explicit "+N" count as its own token.
var plusPattern = regexp.MustCompile(`(?:^|[\s\p{Zs}])\+(\d{1,2})(?:[\s\p{Zs}]|$)`)

// Payload is the raw quantity bundle captured for one message.
type Payload struct {
	HasImage bool   `json:"has_image"`
	HasGIF   bool   `json:"has_gif"`
	HasVideo bool   `json:"has_video"`
	ViewOnce bool   `json:"view_once"`
	Text     string `json:"text"`
}

// Attachments returns how many attachment kinds are present.
func (p Payload) Attachments() int {
	n := 0
	for _, present := range []bool{p.HasImage, p.HasGIF, p.HasVideo} {
		if present {
			n++
		}
	}
	return n
}

// Extract maps a payload to a count. ok is false when the message carries
// nothing countable.
func Extract(p Payload) (n int, ok bool) {
	attachments := p.Attachments()
	if attachments > 0 {
		if v, found := plusCount(p.Text); found {
			return v, true
		}
		return attachments, true
	}
	if p.ViewOnce {
		return 1, true
	}
	return 0, false
}

func plusCount(text string) (int, bool) {
	m := plusPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}
