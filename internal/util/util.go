// Package util provides small helpers shared by the export pipeline
// and the query API.
package util

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// maxNameLength caps sanitized path components so descriptions typed
// by clinicians cannot blow past filesystem limits.
const maxNameLength = 50

var nameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

// SanitizeName makes name safe for use as a file or directory name:
// filesystem-reserved characters become underscores, surrounding
// whitespace is stripped and the result is truncated to 50 characters.
// Empty input becomes the literal "unknown".
func SanitizeName(name string) string {
	name = strings.TrimSpace(nameReplacer.Replace(name))
	if utf8.RuneCountInString(name) > maxNameLength {
		// Truncate on a rune boundary so a multibyte character at the
		// cutoff cannot leave invalid UTF-8 in a path component.
		name = string([]rune(name)[:maxNameLength])
	}
	if name == "" {
		return "unknown"
	}
	return name
}

// FormatStudyDate reformats an 8-digit DICOM date (YYYYMMDD) to
// YYYY-MM-DD. Anything else passes through unchanged.
func FormatStudyDate(date string) string {
	if len(date) != 8 {
		return date
	}
	return date[:4] + "-" + date[4:6] + "-" + date[6:8]
}

// StudyDateISO renders an 8-digit DICOM date as an ISO timestamp at
// midnight, the form the viewer frontend expects.
func StudyDateISO(date string) string {
	if len(date) != 8 {
		return date
	}
	return FormatStudyDate(date) + "T00:00:00"
}

// ShortStudyID derives a short, stable identifier from a study
// instance UID, suitable for use in URLs.
func ShortStudyID(studyUID string) string {
	sum := md5.Sum([]byte(studyUID))
	return hex.EncodeToString(sum[:])[:12]
}
