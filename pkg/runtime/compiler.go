package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neurodesk/twig/pkg/twigerr"
	"github.com/prometheus/client_golang/prometheus"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"golang.org/x/sync/singleflight"
)

// fileOptions is the Starlark dialect generated units are written in.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Metrics counts compile cache activity.
type Metrics struct {
	Hits     prometheus.Counter
	Misses   prometheus.Counter
	Duration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twig_compile_cache_hits_total",
			Help: "Number of template loads served from the compile cache.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twig_compile_cache_misses_total",
			Help: "Number of template loads that compiled a unit.",
		}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "twig_compile_duration_seconds",
			Help:    "Time spent generating and loading template units.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
	if reg == nil {
		return m
	}
	m.Hits = register(reg, m.Hits).(prometheus.Counter)
	m.Misses = register(reg, m.Misses).(prometheus.Counter)
	m.Duration = register(reg, m.Duration).(prometheus.Histogram)
	return m
}

// register returns the collector already registered under the same
// descriptor when there is one, so several compilers can share a registry.
func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
	}
	return c
}

// CompilerOption configures a Compiler.
type CompilerOption func(*Compiler)

// WithRegisterer registers the cache metrics on reg.
func WithRegisterer(reg prometheus.Registerer) CompilerOption {
	return func(c *Compiler) { c.reg = reg }
}

// WithLogger sets the logger used for compile events.
func WithLogger(logger *slog.Logger) CompilerOption {
	return func(c *Compiler) { c.logger = logger }
}

// Compiler loads generated units and caches them by unit name. A name is
// compiled at most once per Compiler, even under concurrent loads.
type Compiler struct {
	env    Environment
	reg    prometheus.Registerer
	logger *slog.Logger

	mu      sync.RWMutex
	cache   map[string]*Template
	group   singleflight.Group
	metrics *Metrics
}

// NewCompiler returns a Compiler whose templates render in env.
func NewCompiler(env Environment, opts ...CompilerOption) *Compiler {
	c := &Compiler{env: env, cache: map[string]*Template{}}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.metrics = newMetrics(c.reg)
	return c
}

// Metrics returns the cache metrics.
func (c *Compiler) Metrics() *Metrics { return c.metrics }

// Cached returns the template already loaded under name.
func (c *Compiler) Cached(name string) (*Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.cache[name]
	return t, ok
}

// Load returns the template cached under name, calling generate for its
// source when it is not loaded yet.
func (c *Compiler) Load(name string, generate func() (string, error)) (*Template, error) {
	if t, ok := c.Cached(name); ok {
		c.metrics.Hits.Inc()
		c.logger.Debug("compile cache hit", "class", name)
		return t, nil
	}
	v, err, _ := c.group.Do(name, func() (any, error) {
		if t, ok := c.Cached(name); ok {
			c.metrics.Hits.Inc()
			return t, nil
		}
		c.metrics.Misses.Inc()
		source, err := generate()
		if err != nil {
			return nil, err
		}
		t, err := c.compile(source, name)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[name] = t
		c.mu.Unlock()
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Template), nil
}

// Compile loads source, which must define the unit name, and caches the
// result.
func (c *Compiler) Compile(source, name string) (*Template, error) {
	return c.Load(name, func() (string, error) { return source, nil })
}

func (c *Compiler) compile(source, name string) (*Template, error) {
	start := time.Now()
	defer func() { c.metrics.Duration.Observe(time.Since(start).Seconds()) }()

	t := newTemplate(c.env, name, source)
	_, prog, err := starlark.SourceProgramOptions(fileOptions, name, source, func(string) bool { return false })
	if err != nil {
		return nil, &twigerr.CompileError{Kind: twigerr.InstantiationFailed, Name: name, Cause: err}
	}
	thread := &starlark.Thread{Name: "load " + name}
	globals, err := prog.Init(thread, nil)
	if err != nil {
		return nil, &twigerr.CompileError{Kind: twigerr.InstantiationFailed, Name: name, Cause: err}
	}
	globals.Freeze()

	unit, ok := globals[name].(starlark.Callable)
	if !ok {
		return nil, &twigerr.CompileError{Kind: twigerr.BadName, Name: name,
			Cause: fmt.Errorf("program defines %v", globals.Keys())}
	}
	v, err := starlark.Call(thread, unit, starlark.Tuple{t}, nil)
	if err != nil {
		return nil, &twigerr.CompileError{Kind: twigerr.InstantiationFailed, Name: name, Cause: err}
	}
	if err := t.instantiate(v); err != nil {
		return nil, &twigerr.CompileError{Kind: twigerr.InstantiationFailed, Name: name, Cause: err}
	}
	v.Freeze()

	c.logger.Debug("compiled template", "name", t.name, "class", name, "duration", time.Since(start))
	return t, nil
}

// instantiate fills t from the table returned by a unit.
func (t *Template) instantiate(v starlark.Value) error {
	unit, ok := v.(*starlark.Dict)
	if !ok {
		return fmt.Errorf("unit returned %s, want dict", v.Type())
	}
	get := func(key string) starlark.Value {
		v, _, _ := unit.Get(starlark.String(key))
		return v
	}
	name, ok := get("name").(starlark.String)
	if !ok {
		return fmt.Errorf("unit has no name")
	}
	if t.display, ok = get("display").(starlark.Callable); !ok {
		return fmt.Errorf("unit has no callable display")
	}
	if t.parent, ok = get("parent").(starlark.Callable); !ok {
		return fmt.Errorf("unit has no callable parent")
	}
	if t.blocks, ok = get("blocks").(*starlark.Dict); !ok {
		return fmt.Errorf("unit has no block table")
	}
	t.name = string(name)
	return nil
}
