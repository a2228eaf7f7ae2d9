// Package pipeline is the boundary to the host pipeline runtime: who the
// user is, which depot serves a project, where entities live on disk and
// what publish metadata is known for depot files.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
)

// EntityRef identifies a pipeline entity (asset, shot...).
type EntityRef struct {
	Type   string            `yaml:"type" json:"type"`
	ID     int               `yaml:"id" json:"id"`
	Code   string            `yaml:"code" json:"code"`
	Fields map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Name returns the display name of the entity.
func (e EntityRef) Name() string {
	if e.Code != "" {
		return e.Code
	}
	return e.Type + " " + strconv.Itoa(e.ID)
}

func (e EntityRef) String() string {
	return fmt.Sprintf("%s:%s", e.Type, e.Name())
}

// Publish is the pipeline metadata recorded for a depot file.
type Publish struct {
	DepotPath string
	Step      string
	Type      string
}

// Runtime answers configuration questions about the current session.
type Runtime interface {
	CurrentUser(ctx context.Context) (string, error)
	// ServerAddress returns "" when nothing is configured.
	ServerAddress(ctx context.Context, project, region string) (string, error)
	ProjectName() string
	ProjectRoot() string
}

// Resolver maps an entity to its local root directory.
type Resolver interface {
	ResolveRoot(ctx context.Context, ref EntityRef) (string, error)
}

// MetadataStore looks up publish records for many depot paths at once.
// Paths without a publish are absent from the result.
type MetadataStore interface {
	LookupPublishes(ctx context.Context, depotPaths []string) (map[string]Publish, error)
}

// NoMetadata is a MetadataStore that knows nothing.
type NoMetadata struct{}

// LookupPublishes implements MetadataStore.
func (NoMetadata) LookupPublishes(ctx context.Context, depotPaths []string) (map[string]Publish, error) {
	return map[string]Publish{}, nil
}
