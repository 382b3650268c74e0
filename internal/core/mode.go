// Package core is the orchestration layer.  It composes the transport,
// session and worker-pool packages into complete operational modes and
// provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  registry/broadcast  →  session  →  core  →  cmd (CLI)
package core

import (
	"context"

	"chatrelay/config"
)

// Mode represents a complete operational mode of chatrelay (serve or
// connect).  Each mode owns its full lifecycle from connection
// establishment to teardown.
type Mode interface {
	Run(ctx context.Context) error
}

// Reloadable is implemented by modes that accept configuration
// changes while running.
type Reloadable interface {
	Apply(cfg *config.Config)
}
