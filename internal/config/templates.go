package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Templates is the workspace template table plus the entity root layout.
//
//	[servers]
//	"ssl:perforce.example.com:1666" = "sgtk_Ark2Depot_master"
//
//	[prefixes]
//	ssl = "sgtk_devaDepot_master"
//
//	[roots]
//	Asset = "{root}/assets/{type}/{code}"
//	Shot  = "{root}/shots/{sequence}/{code}"
type Templates struct {
	Servers  map[string]string `toml:"servers"`
	Prefixes map[string]string `toml:"prefixes"`
	Roots    map[string]string `toml:"roots"`
}

// DefaultTemplates returns the table used when no TEMPLATES_FILE is set.
func DefaultTemplates() *Templates {
	return &Templates{
		Servers: map[string]string{},
		Prefixes: map[string]string{
			"swc": "sgtk_Ark2Depot_master",
			"ssl": "sgtk_devaDepot_master",
		},
		Roots: map[string]string{
			"Asset": "{root}/assets/{code}",
			"Shot":  "{root}/shots/{code}",
		},
	}
}

// LoadTemplates decodes a TOML template table.
func LoadTemplates(path string) (*Templates, error) {
	t := &Templates{}
	md, err := toml.DecodeFile(path, t)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode %s: unknown keys %v", path, undecoded)
	}
	if t.Servers == nil {
		t.Servers = map[string]string{}
	}
	if t.Prefixes == nil {
		t.Prefixes = map[string]string{}
	}
	if t.Roots == nil {
		t.Roots = DefaultTemplates().Roots
	}
	return t, nil
}

// ForServer returns the template workspace registered for a server address,
// first by exact address, then by the longest matching address prefix.
func (t *Templates) ForServer(server string) (string, bool) {
	c := t.Candidates(server)
	if len(c) == 0 {
		return "", false
	}
	return c[0], true
}

// Candidates lists the template workspaces for a server in lookup order:
// the exact address entry, then the longest matching prefix entry.
func (t *Templates) Candidates(server string) []string {
	if t == nil {
		return nil
	}
	var out []string
	if name, ok := t.Servers[server]; ok {
		out = append(out, name)
	}

	prefixes := make([]string, 0, len(t.Prefixes))
	for p := range t.Prefixes {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool {
		return len(prefixes[i]) > len(prefixes[j])
	})
	for _, p := range prefixes {
		if strings.HasPrefix(server, p) {
			out = append(out, t.Prefixes[p])
			break
		}
	}
	return out
}
