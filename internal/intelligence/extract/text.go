package extract

import (
	"bytes"
	"strings"
	"unicode"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Text passes plain-text files through, stripping a UTF-8 BOM, replacing
// invalid byte sequences and scrubbing control characters that PDF-to-text
// converters tend to leave behind. Line breaks and tabs survive so the
// normalizer can still drop boilerplate line by line.
type Text struct{}

var _ Extractor = Text{}

// Extract implements Extractor.
func (Text) Extract(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	data = bytes.ToValidUTF8(data, nil)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, string(data)), nil
}
