package modules

import (
	"strings"

	"stockpulse.io/stockpulse/internal/api/handlers"
	"stockpulse.io/stockpulse/internal/api/middleware"
	"stockpulse.io/stockpulse/internal/config"
	"stockpulse.io/stockpulse/internal/jobs"
)

// NewServerDeps builds base server deps then lets each module contribute.
func NewServerDeps(cfg *config.Config, infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		Storage:             infra.Storage,
		BackpressureMaxAge:  cfg.Backpressure.MaxAge,
		BackpressureMaxSize: cfg.Backpressure.MaxQueueSize,
	}
	for _, mod := range mods {
		if mod != nil {
			mod.ContributeServerDeps(&deps)
		}
	}
	return deps
}

// NewJobDeps collects the job dependencies of every module.
func NewJobDeps(cfg *config.Config, mods []Module) jobs.Deps {
	deps := jobs.Deps{
		// The job outlives the processor budget by the final commit.
		ProcessTimeout: cfg.Processor.TimeBudget + cfg.Processor.RuleTimeout*2,
	}
	for _, mod := range mods {
		if mod != nil {
			mod.ContributeJobDeps(&deps)
		}
	}
	return deps
}

// NewJWTConfig builds token settings from the security section.
func NewJWTConfig(cfg config.SecurityConfig) middleware.JWTConfig {
	verificationKeys := make([][]byte, 0, len(cfg.JWTVerificationKeys))
	for _, key := range cfg.JWTVerificationKeys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		verificationKeys = append(verificationKeys, []byte(key))
	}
	return middleware.JWTConfig{
		SigningKey:       []byte(cfg.JWTSigningKey),
		VerificationKeys: verificationKeys,
		Issuer:           cfg.JWTIssuer,
	}
}
