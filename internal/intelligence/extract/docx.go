package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/defectwise/defectwise/pkg/errors"
)

const docxDocumentPath = "word/document.xml"

// DOCX extracts paragraph text from Office Open XML documents. A .docx file
// is a zip archive; the text lives in word/document.xml as w:t runs grouped
// into w:p paragraphs. Paragraph ends become newlines, tabs and breaks keep
// their meaning.
type DOCX struct{}

var _ Extractor = DOCX{}

// Extract implements Extractor.
func (DOCX) Extract(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExtractFailed, "extract: open docx archive")
	}

	var document *zip.File
	for _, f := range archive.File {
		if f.Name == docxDocumentPath {
			document = f
			break
		}
	}
	if document == nil {
		return "", errors.Newf(errors.ErrCodeExtractFailed, "extract: docx has no %s", docxDocumentPath)
	}

	rc, err := document.Open()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExtractFailed, "extract: open docx document part")
	}
	defer rc.Close()

	return readDocumentXML(rc)
}

// readDocumentXML streams the document part, collecting character data from
// w:t elements.
func readDocumentXML(r io.Reader) (string, error) {
	var (
		buf     strings.Builder
		decoder = xml.NewDecoder(r)
		inText  bool
	)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeExtractFailed, "extract: parse docx document xml")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				buf.WriteString("\t")
			case "br":
				buf.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				buf.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				buf.Write(t)
			}
		}
	}
	return buf.String(), nil
}
