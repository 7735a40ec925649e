// Package app is the composition root. Bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"stockpulse.io/stockpulse/internal/api/handlers"
	"stockpulse.io/stockpulse/internal/app/modules"
	"stockpulse.io/stockpulse/internal/config"
	"stockpulse.io/stockpulse/internal/infrastructure"
	"stockpulse.io/stockpulse/internal/jobs"
	"stockpulse.io/stockpulse/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Infra   *modules.Infrastructure
	Modules []modules.Module

	// Loops replace River periodic jobs with the memory driver.
	Loops []jobs.Loop
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	mods := []modules.Module{
		modules.NewPipelineModule(infra),
		modules.NewOperationsModule(infra),
	}

	jobDeps := modules.NewJobDeps(cfg, mods)
	schedule := jobs.Schedule{
		ProcessInterval: cfg.Processor.Interval,
		RetryInterval:   cfg.Processor.RetryInterval,
	}

	application := &Application{
		Config:  cfg,
		DB:      infra.DB,
		Pools:   infra.Pools,
		Infra:   infra,
		Modules: mods,
	}

	if infra.DB != nil {
		workers := river.NewWorkers()
		if err := jobs.Register(workers, jobDeps); err != nil {
			infra.Close()
			return nil, fmt.Errorf("register river workers: %w", err)
		}
		if err := infra.DB.InitRiverClient(workers, jobs.PeriodicJobs(schedule), cfg.River); err != nil {
			infra.Close()
			return nil, fmt.Errorf("init river: %w", err)
		}
	} else {
		application.Loops = jobs.Loops(jobDeps, schedule)
	}

	server := handlers.NewServer(modules.NewServerDeps(cfg, infra, mods))
	application.Router = newRouter(cfg, server, modules.NewJWTConfig(cfg.Security))
	return application, nil
}
