package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Module is the capability set every decision component implements,
// replacing the source's class-inheritance base (GrafikBeyniModuleBase)
// with composition: a module is anything that can start, stop, and
// report its own health.
type Module interface {
	// Name returns the module's registered identifier, used in logs,
	// metrics labels, and the CLI `status` output.
	Name() string

	// Start subscribes the module to its input topics and begins any
	// background work (timers, periodic ticks). It must return once
	// subscriptions are registered; long-running work happens in
	// goroutines owned by the module.
	Start(ctx context.Context, b *Bus) error

	// Shutdown releases timers and flushes any in-flight batches. It
	// must honor ctx's deadline and return promptly on cancellation.
	Shutdown(ctx context.Context) error

	// Health reports the module's current health for healthSnapshot().
	Health() ModuleHealth
}

// ModuleHealth is a module's self-reported status.
type ModuleHealth struct {
	Name    string
	Healthy bool
	Detail  string
}

// ModuleRegistry owns the set of registered modules and drives their
// lifecycle. Distinct from the topic Registry in topics.go.
type ModuleRegistry struct {
	mu      sync.Mutex
	log     *zap.Logger
	modules []Module
	started bool
}

// NewLifecycleRegistry creates a ModuleRegistry.
func NewLifecycleRegistry(log *zap.Logger) *ModuleRegistry {
	if log == nil {
		log = zap.NewNop()
	}
	return &ModuleRegistry{log: log.Named("lifecycle")}
}

// Register adds module to the set started by StartAll. Registering after
// StartAll has already run is a programming error.
func (r *ModuleRegistry) Register(m Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("lifecycle: cannot register %q after StartAll", m.Name())
	}
	r.modules = append(r.modules, m)
	return nil
}

// StartAll starts every registered module concurrently, bound to bus.
// If any module fails to start, the modules that did start are shut down
// and the first error is returned.
func (r *ModuleRegistry) StartAll(ctx context.Context, b *Bus) error {
	r.mu.Lock()
	r.started = true
	mods := append([]Module(nil), r.modules...)
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range mods {
		m := m
		g.Go(func() error {
			if err := m.Start(gctx, b); err != nil {
				return fmt.Errorf("lifecycle: start %q: %w", m.Name(), err)
			}
			r.log.Info("module started", zap.String("module", m.Name()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.ShutdownAll(context.Background(), 5000)
		return err
	}
	return nil
}

// ShutdownAll stops every module, allowing up to graceMs in aggregate
// before giving up on stragglers (each module still gets its own ctx
// deadline derived from the same budget).
func (r *ModuleRegistry) ShutdownAll(ctx context.Context, graceMs int) {
	r.mu.Lock()
	mods := append([]Module(nil), r.modules...)
	r.mu.Unlock()

	deadline, cancel := context.WithTimeout(ctx, time.Duration(graceMs)*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	for _, m := range mods {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Shutdown(deadline); err != nil {
				r.log.Warn("module shutdown error", zap.String("module", m.Name()), zap.Error(err))
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-deadline.Done():
		r.log.Warn("shutdown deadline exceeded, some modules may not have flushed")
	}
}

// HealthSnapshot returns every registered module's self-reported health.
func (r *ModuleRegistry) HealthSnapshot() []ModuleHealth {
	r.mu.Lock()
	mods := append([]Module(nil), r.modules...)
	r.mu.Unlock()

	out := make([]ModuleHealth, 0, len(mods))
	for _, m := range mods {
		out = append(out, m.Health())
	}
	return out
}
