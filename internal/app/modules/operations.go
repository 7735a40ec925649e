package modules

import (
	"context"

	"stockpulse.io/stockpulse/internal/api/handlers"
	"stockpulse.io/stockpulse/internal/jobs"
	"stockpulse.io/stockpulse/internal/service"
)

// OperationsModule owns dead letter administration and maintenance.
type OperationsModule struct {
	deadLetters *service.DeadLetterService
	maintenance *service.MaintenanceService
}

// NewOperationsModule wires the operator services.
func NewOperationsModule(infra *Infrastructure) *OperationsModule {
	cfg := infra.Config
	return &OperationsModule{
		deadLetters: service.NewDeadLetterService(infra.Storage, cfg.Processor.MaxRetries),
		maintenance: service.NewMaintenanceService(infra.Storage, service.Retention{
			DailyStatsDays: cfg.Retention.DailyStatsDays,
			DeadLetterDays: cfg.Retention.DeadLetterDays,
			EventLogDays:   cfg.Retention.EventLogDays,
			PrecreateDays:  cfg.Retention.PrecreateDays,
		}, cfg.Rolling.HybridWarehouses, infra.Rules),
	}
}

func (m *OperationsModule) Name() string { return "operations" }

// DeadLetters returns the dead letter service.
func (m *OperationsModule) DeadLetters() *service.DeadLetterService { return m.deadLetters }

// Maintenance returns the maintenance service.
func (m *OperationsModule) Maintenance() *service.MaintenanceService { return m.maintenance }

func (m *OperationsModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	deps.DeadLetters = m.deadLetters
	deps.Maintenance = m.maintenance
}

func (m *OperationsModule) ContributeJobDeps(deps *jobs.Deps) {
	deps.DeadLetters = m.deadLetters
	deps.Maintenance = m.maintenance
}

func (m *OperationsModule) Shutdown(context.Context) error { return nil }
