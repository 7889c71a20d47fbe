package phase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Boot phases in run order, followed by the shutdown phase.
const (
	InitPhase1 = "init_phase_1"
	InitPhase2 = "init_phase_2"
	InitPhase3 = "init_phase_3"
	InitPhase4 = "init_phase_4"
	InitPhase5 = "init_phase_5"
	Shutdown   = "shutdown"
)

// InitPhases lists the boot phases in order.
var InitPhases = []string{InitPhase1, InitPhase2, InitPhase3, InitPhase4, InitPhase5}

// Func is a phase handler. It may take tickets from gate and release them
// from other goroutines after it returns.
type Func func(ctx context.Context, gate Gate) error

type entry struct {
	name     string
	priority int
	fn       Func
}

// Sequencer runs phase handlers in order and waits on each phase's queue.
type Sequencer struct {
	mu       sync.Mutex
	handlers map[string][]entry
}

func NewSequencer() *Sequencer { return &Sequencer{handlers: make(map[string][]entry)} }

// On registers fn for phase. Higher priority runs first.
func (s *Sequencer) On(phase, name string, fn Func, priority ...int) {
	p := 0
	if len(priority) > 0 {
		p = priority[0]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := append(s.handlers[phase], entry{name: name, priority: p, fn: fn})
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].priority > hs[j].priority })
	s.handlers[phase] = hs
}

// RunPhase runs the handlers of one phase and blocks until all tickets
// taken during it are released or ctx is done. A handler error aborts the
// phase without waiting.
func (s *Sequencer) RunPhase(ctx context.Context, phase string) error {
	s.mu.Lock()
	hs := append([]entry(nil), s.handlers[phase]...)
	s.mu.Unlock()

	q := NewQueue()
	start := time.Now()
	for _, h := range hs {
		if err := h.fn(ctx, q); err != nil {
			return fmt.Errorf("%s/%s: %w", phase, h.name, err)
		}
	}
	if n := q.Pending(); n > 0 {
		zap.L().Debug("phase waiting", zap.String("phase", phase), zap.Int("tickets", n))
	}
	select {
	case <-q.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	zap.L().Debug("phase complete", zap.String("phase", phase), zap.Duration("took", time.Since(start)))
	return nil
}

// Run executes every boot phase in order.
func (s *Sequencer) Run(ctx context.Context) error {
	for _, p := range InitPhases {
		if err := s.RunPhase(ctx, p); err != nil {
			return err
		}
	}
	zap.L().Info("boot complete")
	return nil
}

// Shutdown runs every shutdown handler, even when some fail, and waits for
// their tickets.
func (s *Sequencer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	hs := append([]entry(nil), s.handlers[Shutdown]...)
	s.mu.Unlock()

	q := NewQueue()
	var errs []error
	for _, h := range hs {
		if err := h.fn(ctx, q); err != nil {
			zap.L().Warn("shutdown handler failed", zap.String("handler", h.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	select {
	case <-q.Done():
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
