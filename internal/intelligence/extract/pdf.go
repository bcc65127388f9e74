package extract

import (
	"bytes"
	"io"

	"github.com/ledongthuc/pdf"

	"github.com/defectwise/defectwise/pkg/errors"
)

// PDF extracts plain text from PDF documents with github.com/ledongthuc/pdf.
type PDF struct{}

var _ Extractor = PDF{}

// Extract implements Extractor. The underlying parser panics on some
// malformed xref tables, so the panic is converted into an extraction error.
func (PDF) Extract(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodeExtractFailed, "extract: parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExtractFailed, "extract: open pdf")
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExtractFailed, "extract: read pdf text")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExtractFailed, "extract: read pdf text")
	}
	return buf.String(), nil
}
