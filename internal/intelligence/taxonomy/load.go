package taxonomy

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/defectwise/defectwise/pkg/errors"
)

// ruleFile is the on-disk schema for a custom taxonomy:
//
//	rules:
//	  - category: Structural
//	    keyword: severe crack
//	    severity: High
type ruleFile struct {
	Rules []KeywordRule `yaml:"rules"`
}

// Parse builds a Taxonomy from YAML bytes. The document replaces the default
// rule set entirely; there is no merging with built-in rules.
func Parse(data []byte) (*Taxonomy, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTaxonomyFileInvalid, "taxonomy: malformed rules file")
	}
	return New(f.Rules)
}

// LoadFile reads and parses a YAML taxonomy file. Any failure, from a missing
// file to a rule that fails validation, is returned so the caller can refuse
// to start rather than run with a partial vocabulary.
func LoadFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrCodeTaxonomyFileInvalid, "taxonomy: read %s", path)
	}
	return Parse(data)
}
