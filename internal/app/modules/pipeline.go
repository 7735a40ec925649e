package modules

import (
	"context"

	"stockpulse.io/stockpulse/internal/api/handlers"
	"stockpulse.io/stockpulse/internal/backpressure"
	"stockpulse.io/stockpulse/internal/jobs"
	"stockpulse.io/stockpulse/internal/processor"
	"stockpulse.io/stockpulse/internal/service"
)

// PipelineModule owns intake and the queue processor.
type PipelineModule struct {
	processor *processor.Processor
	events    *service.EventService
}

// NewPipelineModule wires the intake service and the processor.
func NewPipelineModule(infra *Infrastructure) *PipelineModule {
	cfg := infra.Config
	stores := infra.Storage.Stores()

	monitor := backpressure.NewMonitor(stores.Queue, backpressure.WithCacheTTL(cfg.Backpressure.CacheTTL))
	throttle := backpressure.NewThrottle(monitor,
		cfg.Backpressure.MaxAge, cfg.Backpressure.MaxQueueSize,
		cfg.Backpressure.ThrottleRate, cfg.Backpressure.ThrottleBurst)

	p := processor.New(infra.Storage, infra.Rules, infra.Refresher, processor.Config{
		BatchSize:        cfg.Processor.BatchSize,
		TimeBudget:       cfg.Processor.TimeBudget,
		HybridWarehouses: cfg.Rolling.HybridWarehouses,
		MaxRetries:       cfg.Processor.MaxRetries,
	}).WithBackpressure(monitor, cfg.Backpressure.MaxAge, cfg.Backpressure.MaxQueueSize)
	return &PipelineModule{
		processor: p,
		events:    service.NewEventService(stores.Queue, monitor, throttle),
	}
}

func (m *PipelineModule) Name() string { return "pipeline" }

// Processor returns the queue processor.
func (m *PipelineModule) Processor() *processor.Processor { return m.processor }

func (m *PipelineModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	deps.Events = m.events
	deps.Processor = m.processor
}

func (m *PipelineModule) ContributeJobDeps(deps *jobs.Deps) {
	deps.Processor = m.processor
}

func (m *PipelineModule) Shutdown(context.Context) error { return nil }
