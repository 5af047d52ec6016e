package usecase

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/satriahrh/livescribe/domain/entities"
)

var errInvalidUTF8 = errors.New("percent-encoding is not valid UTF-8")

// Transcript accumulates transcript segments. It assumes the service only
// ever supersedes the most recent partial segment, never an older one.
type Transcript struct {
	text    string
	partial string
}

// Text returns the accumulated transcript
func (t *Transcript) Text() string {
	return t.text
}

// Apply reconciles one inbound event. The previously tracked partial segment
// is removed once and the first alternative of the first result appended.
// A final result clears the tracked partial, a partial result replaces it.
// Events without alternatives are ignored and report changed=false.
func (t *Transcript) Apply(event entities.TranscriptEvent) (text string, changed bool, err error) {
	result, alternative, ok := event.FirstAlternative()
	if !ok {
		return t.text, false, nil
	}

	decoded, err := url.PathUnescape(alternative.Transcript)
	if err != nil {
		return t.text, false, fmt.Errorf("failed to decode transcript: %w", err)
	}
	if !utf8.ValidString(decoded) {
		return t.text, false, fmt.Errorf("failed to decode transcript: %w", errInvalidUTF8)
	}

	base := t.text
	if t.partial != "" {
		base = removeLast(base, t.partial)
	} else if needsSeparator(base, decoded) {
		base += " "
	}
	t.text = base + decoded

	if result.IsPartial {
		t.partial = decoded
	} else {
		t.partial = ""
	}

	return t.text, true, nil
}

// removeLast removes one occurrence of segment, preferring the trailing one
// it was appended as.
func removeLast(s, segment string) string {
	if strings.HasSuffix(s, segment) {
		return s[:len(s)-len(segment)]
	}
	return strings.Replace(s, segment, "", 1)
}

// needsSeparator reports whether a new segment must be joined with a space
func needsSeparator(base, segment string) bool {
	if base == "" || segment == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(base)
	first, _ := utf8.DecodeRuneInString(segment)
	return !unicode.IsSpace(last) && !unicode.IsSpace(first)
}
