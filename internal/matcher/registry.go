package matcher

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ErrEmptyRegistry is returned when a registry file lists no competitors.
var ErrEmptyRegistry = eris.New("matcher: competitor registry is empty")

// Competitor is one canonical entity and the name variants it is known by.
// Aliases are tried in the order written, after the canonical name.
// WholeWord restricts its name and aliases to whole-word matches, for short
// names like "HP" that otherwise hit inside unrelated words.
type Competitor struct {
	Name      string   `yaml:"name" json:"name"`
	Aliases   []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	WholeWord bool     `yaml:"whole_word,omitempty" json:"whole_word,omitempty"`
}

// Registry is the ordered competitor list. Order is match priority: put
// specific names ahead of generic ones.
type Registry struct {
	Competitors []Competitor `yaml:"competitors" json:"competitors"`
}

// LoadRegistry reads and validates a registry YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "matcher: read registry %s", path)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and validates registry YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, eris.Wrap(err, "matcher: parse registry")
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Validate rejects registries that would make every match meaningless.
func (r *Registry) Validate() error {
	if len(r.Competitors) == 0 {
		return ErrEmptyRegistry
	}
	seen := make(map[string]bool, len(r.Competitors))
	for i, c := range r.Competitors {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return eris.Errorf("matcher: competitor %d has no name", i)
		}
		key := Normalize(name)
		if key == "" {
			return eris.Errorf("matcher: competitor %q normalizes to nothing", name)
		}
		if seen[key] {
			return eris.Errorf("matcher: duplicate competitor %q", name)
		}
		seen[key] = true
	}
	return nil
}

// Names returns canonical names in registry order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.Competitors))
	for i, c := range r.Competitors {
		names[i] = c.Name
	}
	return names
}
