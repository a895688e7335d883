package storage

import (
	"regexp"
	"strings"
)

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._\-\s]`)
	dotRuns     = regexp.MustCompile(`\.{2,}`)
	onlyDots    = regexp.MustCompile(`^\.+$`)
)

const maxFilenameLen = 255

// SanitizeFilename turns arbitrary client input into a name that is safe to
// hand to the storage backend: non-empty, free of path separators, no
// traversal segments, at most 255 characters with the extension preserved.
func SanitizeFilename(original string) string {
	if strings.TrimSpace(original) == "" {
		return "unnamed"
	}

	cleaned := strings.ReplaceAll(original, "\\", "/")
	if slash := strings.LastIndex(cleaned, "/"); slash >= 0 {
		cleaned = cleaned[slash+1:]
	}

	cleaned = unsafeChars.ReplaceAllString(cleaned, "_")
	cleaned = dotRuns.ReplaceAllString(cleaned, ".")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" || onlyDots.MatchString(cleaned) {
		return "unnamed"
	}

	if len(cleaned) > maxFilenameLen {
		lastDot := strings.LastIndex(cleaned, ".")
		if lastDot > 0 && maxFilenameLen-(len(cleaned)-lastDot) > 0 {
			ext := cleaned[lastDot:]
			cut := maxFilenameLen - len(ext)
			if cut > lastDot {
				cut = lastDot
			}
			// the cut can land right after a dot in the stem, which would
			// splice a fresh dot run against the extension
			stem := strings.TrimRight(cleaned[:cut], ".")
			if stem == "" {
				return "unnamed"
			}
			cleaned = stem + ext
		} else {
			cleaned = strings.TrimRight(cleaned[:maxFilenameLen], ".")
		}
	}

	return cleaned
}
