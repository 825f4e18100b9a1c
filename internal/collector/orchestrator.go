package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/docsismon/internal/errors"
	"codeberg.org/mutker/docsismon/internal/logger"
)

const TickInterval = time.Second

// PollObserver is told about every finished poll, successful or not.
type PollObserver interface {
	ObservePoll(res Result, failures int, penalty time.Duration)
}

// Orchestrator ticks its collectors sequentially from a single goroutine.
// Manual triggers share the per-collector try-lock with the loop.
type Orchestrator struct {
	mu         sync.RWMutex
	collectors []Collector
	bySource   map[string]Collector
	observer   PollObserver
	log        logger.Logger
	tick       time.Duration
}

type OrchestratorOption func(*Orchestrator)

func WithObserver(o PollObserver) OrchestratorOption {
	return func(orc *Orchestrator) { orc.observer = o }
}

func WithTick(d time.Duration) OrchestratorOption {
	return func(orc *Orchestrator) { orc.tick = d }
}

func NewOrchestrator(log logger.Logger, opts ...OrchestratorOption) *Orchestrator {
	if log == nil {
		log = logger.Nop()
	}
	o := &Orchestrator{
		bySource: make(map[string]Collector),
		log:      log,
		tick:     TickInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Register(c Collector) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.bySource[c.Source()]; ok {
		return errors.New().WithData(ErrDuplicateSource, c.Source())
	}
	o.bySource[c.Source()] = c
	o.collectors = append(o.collectors, c)
	return nil
}

func (o *Orchestrator) Collectors() []Collector {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]Collector(nil), o.collectors...)
}

// Run ticks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	o.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick polls every collector that is due. A collector held by a manual
// trigger is skipped until the next tick.
func (o *Orchestrator) Tick(ctx context.Context) {
	for _, c := range o.Collectors() {
		if ctx.Err() != nil {
			return
		}
		if !c.ShouldPoll() {
			continue
		}
		if !c.TryLock() {
			o.log.Debug().Str("source", c.Source()).Msg("Poll already in progress, skipping")
			continue
		}
		o.poll(ctx, c)
	}
}

// Trigger polls source immediately. It returns ErrPollInProgress instead of
// waiting when a poll is already running.
func (o *Orchestrator) Trigger(ctx context.Context, source string) (Result, error) {
	o.mu.RLock()
	c, ok := o.bySource[source]
	o.mu.RUnlock()
	if !ok {
		return Result{}, errors.New().WithData(ErrUnknownSource, source)
	}
	if !c.TryLock() {
		return Result{}, ErrPollInProgress
	}
	return o.poll(ctx, c), nil
}

// poll runs one cycle on a locked collector and releases it.
func (o *Orchestrator) poll(ctx context.Context, c Collector) Result {
	defer c.Unlock()

	res := o.collect(ctx, c)
	if res.Source == "" {
		res.Source = c.Source()
	}
	if res.Success {
		c.RecordSuccess()
	} else {
		c.RecordFailure()
	}

	failures, penalty := c.ConsecutiveFailures(), c.Penalty()
	if res.Success {
		o.log.Info().Str("source", res.Source).Dur("duration", res.Duration).Msg("Poll succeeded")
	} else {
		o.log.Warn().
			Str("source", res.Source).
			Str("error", res.Error).
			Int("failures", failures).
			Dur("penalty", penalty).
			Msg("Poll failed")
	}

	if o.observer != nil {
		o.observer.ObservePoll(res, failures, penalty)
	}
	return res
}

func (o *Orchestrator) collect(ctx context.Context, c Collector) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.New().WithData(ErrCollectPanic, r)
			o.log.ErrorWithCode(err).Str("source", c.Source()).Msg("Collector panicked")
			res = Result{Source: c.Source(), Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return c.Collect(ctx)
}

// Close closes every collector and returns the first error.
func (o *Orchestrator) Close() error {
	var first error
	for _, c := range o.Collectors() {
		if err := c.Close(); err != nil {
			o.log.ErrorWithContext(err, "close collector").Str("source", c.Source()).Send()
			if first == nil {
				first = err
			}
		}
	}
	return first
}
