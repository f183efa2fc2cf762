package engine

import (
	"strconv"
	"strings"
)

// ParseMinAge turns an age marker such as "16+" or "12" into its minimum age.
// ok is false for anything that is not an integer once a trailing "+" is
// stripped.
func ParseMinAge(marker string) (age int, ok bool) {
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(marker), "+"))
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsAgeCompatible reports whether a work marked entryMarker may be shown to a
// reader marked readerMarker. Unparsable markers are never compatible.
func IsAgeCompatible(readerMarker, entryMarker string) bool {
	r, ok := ParseMinAge(readerMarker)
	if !ok {
		return false
	}
	w, ok := ParseMinAge(entryMarker)
	if !ok {
		return false
	}
	return r >= w
}
