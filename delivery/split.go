package delivery

import "strings"

// utf16Len returns the number of UTF-16 code units needed to encode r.
// Discord measures message length in UTF-16 code units.
func utf16Len(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// Units returns the length of s in UTF-16 code units.
func Units(s string) int {
	n := 0
	for _, r := range s {
		n += utf16Len(r)
	}
	return n
}

// SplitMessage splits s into chunks of at most limit UTF-16 code units,
// never splitting a rune. Concatenating the chunks yields s.
func SplitMessage(s string, limit int) []string {
	if Units(s) <= limit {
		return []string{s}
	}
	var parts []string
	var buf strings.Builder
	units := 0
	for _, r := range s {
		rLen := utf16Len(r)
		if units+rLen > limit && buf.Len() > 0 {
			parts = append(parts, buf.String())
			buf.Reset()
			units = 0
		}
		buf.WriteRune(r)
		units += rLen
	}
	if buf.Len() > 0 {
		parts = append(parts, buf.String())
	}
	return parts
}
