package util

import (
	"regexp"
	"strings"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	invalidChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	dashRuns     = regexp.MustCompile(`-+`)
)

// SanitizeFilename strips characters that cannot appear in file names on
// common filesystems. Use it on client-supplied upload names before they
// touch the recordings directory.
func SanitizeFilename(name string) string {
	if name == "" {
		return ""
	}

	safe := controlChars.ReplaceAllString(name, "")
	safe = invalidChars.ReplaceAllString(safe, "-")

	// Windows rejects leading/trailing spaces and dots.
	safe = strings.Trim(safe, " .")
	safe = dashRuns.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, "-")

	return safe
}
