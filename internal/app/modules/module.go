// Package modules groups the composition root into dependency modules.
package modules

import (
	"context"

	"stockpulse.io/stockpulse/internal/api/handlers"
	"stockpulse.io/stockpulse/internal/jobs"
)

// Module represents a dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging.
	Name() string

	// ContributeServerDeps injects module-owned dependencies into the HTTP server deps.
	ContributeServerDeps(*handlers.ServerDeps)

	// ContributeJobDeps injects module-owned dependencies into the job deps.
	ContributeJobDeps(*jobs.Deps)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}
