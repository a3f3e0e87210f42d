package utils

import (
	"strings"
)

func Capitalize(str string) string {
	if len(str) == 0 {
		return ""
	}
	return strings.ToUpper(string([]rune(str)[0])) + string([]rune(str)[1:])
}

// SplitScope splits a space separated scope string, dropping empty entries.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}

func TruncateString(str string, length int) string {
	runes := []rune(str)
	if len(runes) <= length {
		return str
	}
	return string(runes[:length])
}
