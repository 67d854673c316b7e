package activity

import (
	_ "embed"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var embeddedPolicy []byte

type policyTable struct {
	Prefixes      map[string]string `yaml:"prefixes"`
	GroupPriority []string          `yaml:"group_priority"`
}

// Policy resolves a raw event kind to its configured category and orders
// summary groups by priority when a title must combine several kinds.
type Policy struct {
	prefixes      map[string]string
	groupPriority map[string]int
}

// LoadPolicy parses the embedded category/priority table, or a file at path
// when one is given (empty path uses the embedded default).
func LoadPolicy(path string) (*Policy, error) {
	raw := embeddedPolicy
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		raw = data
	}

	var table policyTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, err
	}

	priority := make(map[string]int, len(table.GroupPriority))
	for i, kind := range table.GroupPriority {
		priority[kind] = i
	}

	return &Policy{prefixes: table.Prefixes, groupPriority: priority}, nil
}

// Category returns the configured category for an event kind's prefix.
// Unknown prefixes report ok=false; callers treat that as "enabled".
func (p *Policy) Category(kind string) (category string, ok bool) {
	prefix, _, _ := strings.Cut(kind, ".")
	category, ok = p.prefixes[prefix]
	return category, ok
}

// GroupPriority returns the sort rank of a summary group kind; unknown
// kinds sort last.
func (p *Policy) GroupPriority(groupKind string) int {
	if rank, ok := p.groupPriority[groupKind]; ok {
		return rank
	}
	return len(p.groupPriority)
}
