// Package handlers implements the stockpulse HTTP API.
//
// Handlers report failures with c.Error and leave rendering to
// middleware.ErrorHandler. Routes are registered by the app package.
package handlers

import (
	"time"

	"stockpulse.io/stockpulse/internal/processor"
	"stockpulse.io/stockpulse/internal/service"
	"stockpulse.io/stockpulse/internal/storage"
)

// Server holds the handler dependencies.
type Server struct {
	uow         storage.UnitOfWork
	events      *service.EventService
	deadLetters *service.DeadLetterService
	maintenance *service.MaintenanceService
	processor   *processor.Processor

	maxAge  time.Duration
	maxSize int64
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Storage     storage.UnitOfWork
	Events      *service.EventService
	DeadLetters *service.DeadLetterService
	Maintenance *service.MaintenanceService
	Processor   *processor.Processor

	// BackpressureMaxAge and BackpressureMaxSize are the limits used when a
	// backpressure query does not override them.
	BackpressureMaxAge  time.Duration
	BackpressureMaxSize int64
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		uow:         deps.Storage,
		events:      deps.Events,
		deadLetters: deps.DeadLetters,
		maintenance: deps.Maintenance,
		processor:   deps.Processor,
		maxAge:      deps.BackpressureMaxAge,
		maxSize:     deps.BackpressureMaxSize,
	}
}
