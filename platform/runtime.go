package platform

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// FatalHandler is invoked for contract violations that would corrupt memory
// the engine owns. The default logs at fatal level and exits the process.
type FatalHandler func(msg string)

// Runtime is the explicit process-wide context every bridge constructor
// takes: configuration, logger, metrics, event loops and the fatal hook.
type Runtime struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *Metrics
	loops   *EventLoopGroup
	fatal   FatalHandler

	hasLogger  bool
	registerer prometheus.Registerer

	closed atomic.Bool
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger injects a logger instead of building one from Config.Logging.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
		r.hasLogger = true
	}
}

// WithRegisterer registers the bridge metrics on reg. Without it a private
// registry is used.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Runtime) { r.registerer = reg }
}

// WithFatalHandler replaces the fatal hook.
func WithFatalHandler(h FatalHandler) Option {
	return func(r *Runtime) { r.fatal = h }
}

// New validates cfg and starts the event loops.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	r := &Runtime{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}

	if !r.hasLogger {
		logger, err := SetupLogger(cfg.Logging, nil)
		if err != nil {
			return nil, err
		}
		r.logger = logger
	}

	if r.fatal == nil {
		r.fatal = func(msg string) {
			r.logger.Fatal().Msg(msg)
		}
	}

	if cfg.Metrics.Enabled {
		r.metrics = NewMetrics(r.registerer, cfg.Metrics.Namespace)
	}

	r.loops = NewEventLoopGroup(cfg.EventLoop.Threads, cfg.EventLoop.QueueHint, r.logger)

	r.logger.Debug().
		Int("event_loops", r.loops.Len()).
		Bool("metrics", cfg.Metrics.Enabled).
		Msg("runtime started")

	return r, nil
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() Config { return r.cfg }

// Logger returns the runtime logger.
func (r *Runtime) Logger() zerolog.Logger { return r.logger }

// Metrics returns the bridge metrics, or nil when metrics are disabled.
// A nil *Metrics is safe to use.
func (r *Runtime) Metrics() *Metrics { return r.metrics }

// EventLoops returns the event loop group.
func (r *Runtime) EventLoops() *EventLoopGroup { return r.loops }

// Fatal reports an unrecoverable contract violation.
func (r *Runtime) Fatal(msg string) {
	r.fatal(msg)
}

// Close stops the event loops. Safe to call more than once.
func (r *Runtime) Close() {
	if r == nil || r.closed.Swap(true) {
		return
	}

	r.loops.Close()
	r.logger.Debug().Msg("runtime stopped")
}
