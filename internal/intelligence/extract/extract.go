// Package extract turns uploaded survey documents into plain text for
// analysis. Each supported format has its own extractor; the registry maps
// file extensions to them. Extraction failures carry typed codes so callers
// can tell a broken document from a clean one.
package extract

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/defectwise/defectwise/pkg/errors"
)

// Extractor converts one document format into plain text.
type Extractor interface {
	Extract(data []byte) (string, error)
}

var registry = map[string]Extractor{
	".txt":  Text{},
	".html": HTML{},
	".htm":  HTML{},
	".docx": DOCX{},
	".pdf":  PDF{},
}

// ForFilename resolves the extractor for a file by its extension.
func ForFilename(name string) (Extractor, error) {
	ext := strings.ToLower(filepath.Ext(name))
	e, ok := registry[ext]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeExtractUnsupportedFormat,
			"extract: unsupported file format %q", ext)
	}
	return e, nil
}

// Supported reports whether files named like name can be extracted.
func Supported(name string) bool {
	_, ok := registry[strings.ToLower(filepath.Ext(name))]
	return ok
}

// SupportedExtensions lists the registered extensions in sorted order.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(registry))
	for ext := range registry {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract resolves the extractor for name and runs it. A document that
// yields no text at all is an error, not an empty analysis.
func Extract(name string, data []byte) (string, error) {
	e, err := ForFilename(name)
	if err != nil {
		return "", err
	}
	text, err := e.Extract(data)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.Newf(errors.ErrCodeExtractEmptyText, "extract: %s contains no text", name)
	}
	return text, nil
}
