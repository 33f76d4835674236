package prompt

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk shape of a template seed file:
//
//	templates:
//	  - identifier: review_security
//	    name: Security review
//	    content: |
//	      ...
type seedFile struct {
	Templates []seedTemplate `yaml:"templates"`
}

type seedTemplate struct {
	Identifier  string `yaml:"identifier"`
	Name        string `yaml:"name"`
	Content     string `yaml:"content"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	IsActive    *bool  `yaml:"is_active"` // omitted means active
}

// LoadTemplates parses a YAML seed file. Identifiers must be non-empty word
// characters and unique within the file.
func LoadTemplates(r io.Reader) ([]Template, error) {
	var f seedFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode templates: %w", err)
	}

	seen := make(map[string]bool, len(f.Templates))
	out := make([]Template, 0, len(f.Templates))
	for i, st := range f.Templates {
		if !identifierPattern.MatchString(st.Identifier) {
			return nil, fmt.Errorf("template %d: invalid identifier %q", i, st.Identifier)
		}
		if seen[st.Identifier] {
			return nil, fmt.Errorf("template %d: duplicate identifier %q", i, st.Identifier)
		}
		seen[st.Identifier] = true
		if st.Content == "" {
			return nil, fmt.Errorf("template %q: empty content", st.Identifier)
		}
		name := st.Name
		if name == "" {
			name = st.Identifier
		}
		active := true
		if st.IsActive != nil {
			active = *st.IsActive
		}
		out = append(out, Template{
			Identifier:  st.Identifier,
			Name:        name,
			Content:     st.Content,
			Description: st.Description,
			Category:    st.Category,
			IsActive:    active,
		})
	}
	return out, nil
}
