// Package format normalizes caller-supplied conversion formats and sniffs the
// actual type of uploaded content.
package format

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrInvalidFormat is returned when a format is empty or contains characters
// that are not allowed in a vendor URL path segment.
var ErrInvalidFormat = errors.New("format: invalid format")

var formatPattern = regexp.MustCompile(`^[a-z0-9]{1,16}$`)

var aliases = map[string]string{
	"jpeg":     "jpg",
	"htm":      "html",
	"tif":      "tiff",
	"markdown": "md",
}

// Detection is the result of sniffing uploaded content.
type Detection struct {
	// MIME is the detected media type, e.g. "application/pdf".
	MIME string
	// Extension is the canonical extension without a dot, e.g. "pdf".
	// Empty for generic binary content.
	Extension string

	mime *mimetype.MIME
}

// Normalize trims, lowercases and strips a leading dot from s.
// It returns ErrInvalidFormat when the result is not 1-16 ASCII letters or digits.
func Normalize(s string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(s))
	f = strings.TrimPrefix(f, ".")
	if !formatPattern.MatchString(f) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	return f, nil
}

// Detect sniffs the media type of data.
func Detect(data []byte) Detection {
	m := mimetype.Detect(data)
	return Detection{
		MIME:      m.String(),
		Extension: strings.TrimPrefix(m.Extension(), "."),
		mime:      m,
	}
}

// Generic reports whether the detection is too unspecific to contradict a
// declared format (plain text or unknown binary).
func (d Detection) Generic() bool {
	if d.mime == nil {
		return true
	}
	return d.Extension == "" || d.Extension == "txt"
}

// Matches reports whether format is consistent with the detected content.
// Container formats match their ancestors, so a detected docx also matches zip.
func (d Detection) Matches(format string) bool {
	if d.Generic() {
		return true
	}
	want := canonical(format)
	for m := d.mime; m != nil; m = m.Parent() {
		if canonical(strings.TrimPrefix(m.Extension(), ".")) == want {
			return true
		}
	}
	return false
}

func canonical(f string) string {
	if a, ok := aliases[f]; ok {
		return a
	}
	return f
}
