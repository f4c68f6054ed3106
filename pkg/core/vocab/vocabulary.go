// Package vocab holds the fixed canonical line-item vocabulary and the terminology
// table that maps reporting-standard synonyms onto it.
package vocab

import (
	_ "embed"
	"os"
	"strings"
	"unicode"

	"annualreports/pkg/models"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v2"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

// Item is one canonical line item and the labels reports use for it.
type Item struct {
	Name     string   `yaml:"name"`
	Synonyms []string `yaml:"synonyms"`
}

// Mapping pairs a reported label with its canonical item.
type Mapping struct {
	Statement models.StatementType
	Label     string
	Canonical string
}

// Vocabulary is the canonical item set of the three statements.
type Vocabulary struct {
	Statements map[string][]Item `yaml:"statements"`

	index map[models.StatementType]map[string]string
}

// Default returns the embedded vocabulary.
func Default() *Vocabulary {
	v, err := Parse(defaultVocabulary)
	if err != nil {
		panic(err)
	}
	return v
}

// Load reads a vocabulary file. An empty path yields the embedded default.
func Load(path string) (*Vocabulary, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read vocabulary %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML vocabulary.
func Parse(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, eris.Wrap(err, "failed to parse vocabulary")
	}

	v.index = make(map[models.StatementType]map[string]string)
	for _, st := range models.StatementTypes {
		items := v.Statements[string(st)]
		if len(items) == 0 {
			return nil, eris.Errorf("vocabulary has no items for %s", st)
		}
		idx := make(map[string]string)
		for _, item := range items {
			key := normalizeLabel(item.Name)
			if key == "" {
				return nil, eris.Errorf("vocabulary item without name in %s", st)
			}
			if _, dup := idx[key]; dup {
				return nil, eris.Errorf("duplicate vocabulary item %q in %s", item.Name, st)
			}
			idx[key] = item.Name
		}
		// Synonyms never shadow a canonical name.
		for _, item := range items {
			for _, syn := range item.Synonyms {
				key := normalizeLabel(syn)
				if _, taken := idx[key]; !taken {
					idx[key] = item.Name
				}
			}
		}
		v.index[st] = idx
	}
	return &v, nil
}

// Items returns the canonical item names of a statement in export order.
func (v *Vocabulary) Items(st models.StatementType) []string {
	items := v.Statements[string(st)]
	names := make([]string, len(items))
	for i, item := range items {
		names[i] = item.Name
	}
	return names
}

// Canonical maps a reported label to its canonical item name.
func (v *Vocabulary) Canonical(st models.StatementType, label string) (string, bool) {
	name, ok := v.index[st][normalizeLabel(label)]
	return name, ok
}

// Terminology lists every synonym mapping, statement by statement.
func (v *Vocabulary) Terminology() []Mapping {
	var out []Mapping
	for _, st := range models.StatementTypes {
		for _, item := range v.Statements[string(st)] {
			for _, syn := range item.Synonyms {
				out = append(out, Mapping{Statement: st, Label: syn, Canonical: item.Name})
			}
		}
	}
	return out
}

// normalizeLabel folds case and drops punctuation so "Selling, general & admin."
// style variants compare equal.
func normalizeLabel(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '&':
			b.WriteString("and")
		}
	}
	return b.String()
}
