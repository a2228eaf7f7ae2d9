package pipeline

import (
	"context"
	"fmt"
	"os/user"
)

// UserSource returns the current pipeline user.
type UserSource interface {
	CurrentUser(ctx context.Context) (string, error)
}

// EnvRuntime is a Runtime backed by process configuration.
type EnvRuntime struct {
	Project string
	Root    string
	// Servers maps a region to a depot server address.
	Servers map[string]string
	// Users resolves the current user. When nil, the OS account is used.
	Users UserSource
}

// CurrentUser implements Runtime.
func (r *EnvRuntime) CurrentUser(ctx context.Context) (string, error) {
	if r.Users != nil {
		return r.Users.CurrentUser(ctx)
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("pipeline: current user: %w", err)
	}
	return u.Username, nil
}

// ServerAddress implements Runtime. Projects share the region table.
func (r *EnvRuntime) ServerAddress(ctx context.Context, project, region string) (string, error) {
	return r.Servers[region], nil
}

// ProjectName implements Runtime.
func (r *EnvRuntime) ProjectName() string {
	return r.Project
}

// ProjectRoot implements Runtime.
func (r *EnvRuntime) ProjectRoot() string {
	return r.Root
}
