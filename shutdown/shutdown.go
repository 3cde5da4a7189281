// Package shutdown tears a pluginkit process down in phases.
//
// Handlers register under a phase; lower phases run first and handlers of
// one phase run concurrently. The conventional order stops inbound calls,
// withdraws announcements, removes registry items (running their TearDown)
// and finally closes buses and stores.
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.RegisterFunc("server", shutdown.PhaseServe, stopServer)
//	coord.Register("registries", shutdown.PhaseRegistries, shutdown.RemoveAll(dir))
//
//	ctx, stop := shutdown.NotifyContext(context.Background())
//	defer stop()
//	<-ctx.Done()
//	err := coord.ShutdownWithTimeout(0)
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/logging"
	"github.com/vinayprograms/pluginkit/registry"
)

// Conventional phases.
const (
	PhaseServe      = 10 // stop answering remote and RPC calls
	PhaseAnnounce   = 20 // withdraw announcements
	PhaseRegistries = 30 // remove items, running TearDown
	PhaseTransport  = 40 // close buses, stores and connections
)

// Common errors.
var (
	// ErrAlreadyShutdown is returned while another Shutdown is in progress.
	ErrAlreadyShutdown = errors.New(errors.ErrCodeInvalidInput, "shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete before its deadline.
	ErrTimeout = errors.New(errors.ErrCodeTimeout, "shutdown timeout exceeded")
)

// Handler is implemented by components that need graceful shutdown.
type Handler interface {
	// OnShutdown releases the component. ctx expires at the shutdown
	// deadline.
	OnShutdown(ctx context.Context) error
}

// Func adapts a function to Handler.
type Func func(ctx context.Context) error

// OnShutdown implements Handler.
func (f Func) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a whole shutdown.
type Result struct {
	Duration time.Duration
	Handlers []HandlerResult
	Err      error
}

// FailedHandlers returns the names of handlers that failed.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Handlers {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the coordinator.
type Config struct {
	// Timeout bounds ShutdownWithTimeout(0). Default: 30s
	Timeout time.Duration

	// ContinueOnError runs later phases after a handler fails.
	ContinueOnError bool

	// Logger receives one entry per handler. Default: discard.
	Logger *logging.Logger
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		ContinueOnError: true,
	}
}

type registration struct {
	name    string
	phase   int
	handler Handler
}

// Coordinator runs registered handlers once, phase by phase.
type Coordinator struct {
	config Config
	log    *logging.Logger

	mu       sync.Mutex
	handlers []registration
	started  bool
	done     chan struct{}
	result   *Result
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Coordinator{
		config: cfg,
		log:    log.WithComponent("shutdown"),
		done:   make(chan struct{}),
	}
}

// Register adds a handler to phase. Registrations after Shutdown started
// are ignored.
func (c *Coordinator) Register(name string, phase int, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		c.log.Warn("handler registered after shutdown", map[string]interface{}{"handler": name})
		return
	}
	c.handlers = append(c.handlers, registration{name: name, phase: phase, handler: h})
}

// RegisterFunc adds fn to phase.
func (c *Coordinator) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	c.Register(name, phase, Func(fn))
}

// Shutdown runs every handler. It returns ErrTimeout if ctx expires
// between phases, and otherwise the joined handler errors.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		select {
		case <-c.done:
			return c.result.Err
		default:
			return ErrAlreadyShutdown
		}
	}
	c.started = true
	handlers := append([]registration(nil), c.handlers...)
	c.mu.Unlock()

	start := time.Now()
	result := &Result{}
	result.Err = c.run(ctx, handlers, result)
	result.Duration = time.Since(start)

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()
	close(c.done)

	c.log.Info("shutdown complete", map[string]interface{}{
		"duration_ms": result.Duration.Milliseconds(),
		"failed":      result.FailedHandlers(),
	})
	return result.Err
}

func (c *Coordinator) run(ctx context.Context, handlers []registration, result *Result) error {
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	var errs []error
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			return ErrTimeout
		}

		results := c.runPhase(ctx, group)
		result.Handlers = append(result.Handlers, results...)

		for _, hr := range results {
			if hr.Err != nil {
				errs = append(errs, errors.Wrap(hr.Err, "shutdown "+hr.Name))
			}
		}
		if len(errs) > 0 && !c.config.ContinueOnError {
			break
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) runPhase(ctx context.Context, group []registration) []HandlerResult {
	results := make([]HandlerResult, len(group))
	var wg sync.WaitGroup

	for i, reg := range group {
		wg.Add(1)
		go func(i int, reg registration) {
			defer wg.Done()

			start := time.Now()
			err := safeShutdown(ctx, reg.handler)
			results[i] = HandlerResult{Name: reg.name, Phase: reg.phase, Duration: time.Since(start), Err: err}

			fields := map[string]interface{}{
				"handler":     reg.name,
				"phase":       reg.phase,
				"duration_ms": results[i].Duration.Milliseconds(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.log.Error("handler failed", fields)
				return
			}
			c.log.Debug("handler done", fields)
		}(i, reg)
	}

	wg.Wait()
	return results
}

func safeShutdown(ctx context.Context, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()
	return h.OnShutdown(ctx)
}

func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or by the
// configured Timeout when timeout is zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// Done is closed when Shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the shutdown outcome, or nil before Done is closed.
func (c *Coordinator) Result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// NotifyContext returns a context cancelled on SIGINT or SIGTERM.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// RemoveAll returns a handler removing every item of d, so each plugin's
// TearDown runs once. Registries are visited in name order.
func RemoveAll(d *registry.Directory) Handler {
	return Func(func(ctx context.Context) error {
		for _, name := range d.RegistryNames() {
			c, err := d.Container(name)
			if err != nil {
				continue
			}
			for _, item := range c.Names() {
				if ctx.Err() != nil {
					return ErrTimeout
				}
				c.Remove(item)
			}
		}
		return d.Close()
	})
}
