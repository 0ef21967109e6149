package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/ticket-orchestrator/internal/domain"
	"github.com/spec-kit/ticket-orchestrator/internal/scheduler"
)

// Pipeline is the part of the orchestrator the pool drives.
type Pipeline interface {
	Intake() <-chan *domain.Ticket
	Process(ctx context.Context, t *domain.Ticket) error
	DispatchNext(ctx context.Context) error
	SealQueue()
}

// PoolConfig sizes the two worker stages.
type PoolConfig struct {
	Processors  int
	Dispatchers int
}

// Pool runs processor workers over the intake and dispatcher workers over the
// scheduler. Processors stop when the intake closes; the queue is then sealed
// and dispatchers drain it.
type Pool struct {
	cfg      PoolConfig
	pipeline Pipeline
	logger   *zap.Logger
	group    *errgroup.Group
}

// NewPool creates a pool. Start launches it.
func NewPool(cfg PoolConfig, pipeline Pipeline, logger *zap.Logger) *Pool {
	if cfg.Processors < 1 {
		cfg.Processors = 1
	}
	if cfg.Dispatchers < 1 {
		cfg.Dispatchers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{cfg: cfg, pipeline: pipeline, logger: logger.With(zap.String("component", "worker_pool"))}
}

// Start launches the workers. Cancelling ctx abandons queued work.
func (p *Pool) Start(ctx context.Context) {
	group, ctx := errgroup.WithContext(ctx)
	p.group = group

	var processors errgroup.Group
	for i := 0; i < p.cfg.Processors; i++ {
		id := i
		processors.Go(func() error {
			p.runProcessor(ctx, id)
			return nil
		})
	}
	group.Go(func() error {
		err := processors.Wait()
		p.pipeline.SealQueue()
		p.logger.Info("processors drained; queue sealed")
		return err
	})

	for i := 0; i < p.cfg.Dispatchers; i++ {
		id := i
		group.Go(func() error {
			p.runDispatcher(ctx, id)
			return nil
		})
	}
	p.logger.Info("worker pool started",
		zap.Int("processors", p.cfg.Processors),
		zap.Int("dispatchers", p.cfg.Dispatchers))
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() error {
	if p.group == nil {
		return nil
	}
	return p.group.Wait()
}

func (p *Pool) runProcessor(ctx context.Context, id int) {
	intake := p.pipeline.Intake()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-intake:
			if !ok {
				return
			}
			if err := p.safely(func() error { return p.pipeline.Process(ctx, t) }); err != nil {
				p.logger.Warn("ticket processing failed",
					zap.Int("processor", id),
					zap.String("ticket_id", t.ID),
					zap.Error(err))
			}
		}
	}
}

func (p *Pool) runDispatcher(ctx context.Context, id int) {
	for {
		err := p.safely(func() error { return p.pipeline.DispatchNext(ctx) })
		switch {
		case err == nil:
		case errors.Is(err, scheduler.ErrClosed):
			return
		case ctx.Err() != nil:
			return
		default:
			p.logger.Warn("ticket dispatch failed", zap.Int("dispatcher", id), zap.Error(err))
		}
	}
}

func (p *Pool) safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
			p.logger.Error("worker recovered from panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	return fn()
}
