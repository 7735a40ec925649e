package reorder

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"stockpulse.io/stockpulse/internal/domain"
	apperrors "stockpulse.io/stockpulse/internal/pkg/errors"
	"stockpulse.io/stockpulse/internal/pkg/logger"
	"stockpulse.io/stockpulse/internal/pkg/metrics"
	"stockpulse.io/stockpulse/internal/pkg/worker"
)

// Evaluation statuses reported to metrics.
const (
	StatusOK      = "ok"
	StatusTimeout = "timeout"
	StatusError   = "error"
)

// Refresher fans engine evaluations out over a bounded pool, each call
// limited by Timeout.
type Refresher struct {
	Engine  Engine
	Pool    *worker.Pool
	Timeout time.Duration
}

// Outcome splits a refresh into computed orderpoints and pairs to retry.
type Outcome struct {
	Orderpoints []domain.Orderpoint
	// Skipped holds pairs whose evaluation timed out or failed, with the
	// classified error.
	Skipped map[domain.Pair]error
}

// SkippedPairs returns the skipped pairs.
func (o Outcome) SkippedPairs() []domain.Pair {
	out := make([]domain.Pair, 0, len(o.Skipped))
	for p := range o.Skipped {
		out = append(out, p)
	}
	return out
}

// Refresh evaluates every input. locations maps warehouses to their stock
// location. It never fails as a whole: per-pair errors land in Skipped.
func (r *Refresher) Refresh(ctx context.Context, rules *RuleSet, inputs []Input, locations map[int64]int64, now time.Time) Outcome {
	type result struct {
		op  domain.Orderpoint
		err error
		ran bool
	}
	results := make([]result, len(inputs))

	var group *worker.Group
	if r.Pool != nil {
		group = r.Pool.Group()
	}
	for i, in := range inputs {
		run := func(ctx context.Context) {
			op, err := r.evaluate(ctx, rules, in, locations[in.Pair.WarehouseID], now)
			results[i] = result{op: op, err: err, ran: true}
		}
		if group == nil {
			if ctx.Err() == nil {
				run(ctx)
			}
			continue
		}
		if err := group.Go(ctx, run); err != nil && !errors.Is(err, ctx.Err()) {
			results[i] = result{err: err, ran: true}
		}
	}
	if group != nil {
		group.Wait()
	}

	out := Outcome{Skipped: map[domain.Pair]error{}}
	for i, res := range results {
		p := inputs[i].Pair
		switch {
		case !res.ran:
			out.Skipped[p] = apperrors.RuleEngineTimeout("evaluate "+p.String(), ctx.Err())
			metrics.RuleEvaluations.WithLabelValues(StatusTimeout).Inc()
		case res.err == nil:
			out.Orderpoints = append(out.Orderpoints, res.op)
			metrics.RuleEvaluations.WithLabelValues(StatusOK).Inc()
		case apperrors.KindOf(res.err) == apperrors.KindRuleEngineTimeout:
			out.Skipped[p] = res.err
			metrics.RuleEvaluations.WithLabelValues(StatusTimeout).Inc()
		default:
			out.Skipped[p] = res.err
			metrics.RuleEvaluations.WithLabelValues(StatusError).Inc()
		}
	}
	if len(out.Skipped) > 0 {
		logger.Warn("Orderpoint refresh skipped pairs",
			zap.Int("skipped", len(out.Skipped)),
			zap.Int("refreshed", len(out.Orderpoints)),
		)
	}
	return out
}

func (r *Refresher) evaluate(ctx context.Context, rules *RuleSet, in Input, locationID int64, now time.Time) (domain.Orderpoint, error) {
	callCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	res, err := r.call(callCtx, rules, in)
	if err == nil {
		err = callCtx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return domain.Orderpoint{}, apperrors.RuleEngineTimeout("evaluate "+in.Pair.String(), err)
		}
		return domain.Orderpoint{}, err
	}
	op, err := res.Orderpoint(in.Pair, locationID)
	if err != nil {
		return domain.Orderpoint{}, err
	}
	op.UpdatedAt = now.UTC()
	return op, nil
}

type evaluation struct {
	res Result
	err error
}

// call returns when the engine answers or ctx is done, whichever comes
// first. An engine that ignores ctx keeps running in the background and its
// late answer is discarded.
func (r *Refresher) call(ctx context.Context, rules *RuleSet, in Input) (Result, error) {
	if ctx.Done() == nil {
		return r.Engine.Evaluate(ctx, rules, in)
	}
	done := make(chan evaluation, 1)
	go func() {
		res, err := r.Engine.Evaluate(ctx, rules, in)
		done <- evaluation{res: res, err: err}
	}()
	select {
	case ev := <-done:
		return ev.res, ev.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
