// Package session tracks authenticated org connections and persists their
// credentials.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mdsync/mdsync/internal/metadata"
)

// EnvSource and EnvTarget are the two connection slots.
const (
	EnvSource = "source"
	EnvTarget = "target"
)

// ErrNotConnected means the requested slot has no live session.
var ErrNotConnected = errors.New("environment not connected")

// Connection is one live org session.
type Connection struct {
	API         metadata.API
	InstanceURL string
	Username    string
	ConnectedAt time.Time
}

// Registry holds the source and target connections. Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	envs map[string]Connection
}

func NewRegistry() *Registry {
	return &Registry{envs: make(map[string]Connection)}
}

// ValidEnv reports whether env names a known slot.
func ValidEnv(env string) bool {
	return env == EnvSource || env == EnvTarget
}

// Set installs or replaces the connection for env.
func (r *Registry) Set(env string, c Connection) error {
	if !ValidEnv(env) {
		return fmt.Errorf("unknown environment %q", env)
	}
	if c.ConnectedAt.IsZero() {
		c.ConnectedAt = time.Now().UTC()
	}
	r.mu.Lock()
	r.envs[env] = c
	r.mu.Unlock()
	return nil
}

// Get returns the connection for env, or ErrNotConnected.
func (r *Registry) Get(env string) (Connection, error) {
	r.mu.RLock()
	c, ok := r.envs[env]
	r.mu.RUnlock()
	if !ok {
		return Connection{}, fmt.Errorf("%s: %w", env, ErrNotConnected)
	}
	return c, nil
}

// Connected lists the slots that currently hold a session.
func (r *Registry) Connected() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var envs []string
	for _, env := range []string{EnvSource, EnvTarget} {
		if _, ok := r.envs[env]; ok {
			envs = append(envs, env)
		}
	}
	return envs
}
