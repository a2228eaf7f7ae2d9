package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// TemplateResolver resolves entity roots from per-type path templates such
// as "{root}/assets/{code}". {root} is the project root; {type}, {id} and
// {code} come from the entity; any other name is looked up in its Fields.
type TemplateResolver struct {
	ProjectRoot string
	Roots       map[string]string
}

// ResolveRoot implements Resolver.
func (r *TemplateResolver) ResolveRoot(ctx context.Context, ref EntityRef) (string, error) {
	tmpl, ok := r.Roots[ref.Type]
	if !ok {
		return "", fmt.Errorf("no template specified for resolving root path for type: %s", ref.Type)
	}

	var missing []string
	out := placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := m[1 : len(m)-1]
		switch name {
		case "root":
			return r.ProjectRoot
		case "type":
			return ref.Type
		case "id":
			return strconv.Itoa(ref.ID)
		case "code":
			if ref.Code != "" {
				return ref.Code
			}
		default:
			if v, ok := ref.Fields[name]; ok && v != "" {
				return v
			}
		}
		missing = append(missing, name)
		return m
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("resolve %s: missing fields %v for template %q", ref, missing, tmpl)
	}
	return filepath.Clean(filepath.FromSlash(out)), nil
}
