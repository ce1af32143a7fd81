package roblox

import (
	"errors"
	"regexp"
	"strings"
)

var ErrInvalidGroupURL = errors.New("invalid Roblox group URL. Use https://www.roblox.com/groups/<id>/... or a numeric group id")

var (
	groupURLPattern = regexp.MustCompile(`^(?:https?://)?(?:www\.|web\.)?roblox\.com/(?:groups|communities)/(\d+)(?:[/?#].*)?$`)
	numericPattern  = regexp.MustCompile(`^\d+$`)
)

// ParseGroupID extracts a group id from a group or community URL, or
// accepts a bare numeric id.
func ParseGroupID(input string) (string, error) {
	input = strings.TrimSpace(input)
	if numericPattern.MatchString(input) {
		return input, nil
	}
	if m := groupURLPattern.FindStringSubmatch(input); m != nil {
		return m[1], nil
	}
	return "", ErrInvalidGroupURL
}

// IsNumeric reports whether s is a non-empty string of digits. Discord
// snowflakes and Roblox ids both take this form.
func IsNumeric(s string) bool {
	return numericPattern.MatchString(s)
}
