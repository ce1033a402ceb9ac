// Package twig ties the lexer, parser, code generator and runtime together.
// An Environment owns the extension registries and the compile cache; it
// loads templates by name and renders them.
package twig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/neurodesk/twig/pkg/ast"
	"github.com/neurodesk/twig/pkg/compiler"
	"github.com/neurodesk/twig/pkg/loader"
	"github.com/neurodesk/twig/pkg/parser"
	"github.com/neurodesk/twig/pkg/runtime"
	"github.com/neurodesk/twig/pkg/syntax"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures an Environment.
type Option func(*Environment)

// WithLoader sets the template loader. Without one, the template
// directories of the options are searched.
func WithLoader(l loader.Loader) Option {
	return func(e *Environment) { e.loader = l }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Environment) { e.logger = logger }
}

// WithRegisterer registers the compile cache metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Environment) { e.reg = reg }
}

// WithExtension adds an extension after the core one.
func WithExtension(ext Extension) Option {
	return func(e *Environment) { e.extensions = append(e.extensions, ext) }
}

// Environment is safe for concurrent use once New returns.
type Environment struct {
	options    Options
	loader     loader.Loader
	logger     *slog.Logger
	reg        prometheus.Registerer
	extensions []Extension

	registry *registry
	grammar  *parser.Grammar
	lexer    *syntax.Lexer
	compiler *runtime.Compiler
}

var _ runtime.Environment = (*Environment)(nil)

// New builds an Environment. Conflicting registrations between extensions
// are all reported in the returned error.
func New(options Options, opts ...Option) (*Environment, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	e := &Environment{options: options, extensions: []Extension{CoreExtension{}}}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.loader == nil {
		chain := make(loader.ChainLoader, 0, len(options.TemplateDirs))
		for _, dir := range options.TemplateDirs {
			chain = append(chain, loader.NewFSLoader(dir))
		}
		e.loader = chain
	}

	e.registry = newRegistry()
	var errs *multierror.Error
	for _, ext := range e.extensions {
		if err := e.registry.add(ext); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("failed to register extensions: %w", err)
	}
	e.grammar = e.registry.grammar()
	e.lexer = syntax.NewLexer(e.grammar.Operators.Names())
	e.compiler = runtime.NewCompiler(e, runtime.WithRegisterer(e.reg), runtime.WithLogger(e.logger))
	return e, nil
}

// Options returns the configuration the environment was built with.
func (e *Environment) Options() Options { return e.options }

// Loader returns the loader templates are read from.
func (e *Environment) Loader() loader.Loader { return e.loader }

// Metrics returns the compile cache metrics.
func (e *Environment) Metrics() *runtime.Metrics { return e.compiler.Metrics() }

// Tokenize lexes source.
func (e *Environment) Tokenize(source, name string) (*syntax.TokenStream, error) {
	return e.lexer.Tokenize(source, name)
}

// Parse builds the module tree of a token stream.
func (e *Environment) Parse(stream *syntax.TokenStream) (*ast.Node, error) {
	module, err := parser.New(e.grammar).Parse(stream)
	if err != nil {
		return nil, err
	}
	if e.options.Autoescape != "" {
		if err := autoescape(module, e.options.Autoescape); err != nil {
			return nil, err
		}
	}
	return module, nil
}

// CompileSource returns the generated Starlark unit of a template.
func (e *Environment) CompileSource(source, name string) (string, error) {
	stream, err := e.Tokenize(source, name)
	if err != nil {
		return "", err
	}
	module, err := e.Parse(stream)
	if err != nil {
		return "", err
	}
	code, err := compiler.Compile(module, func(string) string { return e.TemplateClass(name, source) })
	if err != nil {
		return "", err
	}
	if e.options.Debug {
		e.logger.Debug("generated template source", "name", name, "source", code)
	}
	return code, nil
}

// TemplateClass names the generated unit of a template. Equal names and
// sources share a unit.
func (e *Environment) TemplateClass(name, source string) string {
	sum := sha256.Sum256([]byte(name + "\x00" + source))
	return "__TwigTemplate_" + hex.EncodeToString(sum[:])[:32]
}

// LoadTemplate loads, compiles and caches the named template.
func (e *Environment) LoadTemplate(name string) (*runtime.Template, error) {
	source, err := e.loader.Load(name)
	if err != nil {
		return nil, err
	}
	return e.load(name, source)
}

// CreateTemplate compiles a template from source. It can include and
// extend the templates of the loader.
func (e *Environment) CreateTemplate(source string) (*runtime.Template, error) {
	sum := sha256.Sum256([]byte(source))
	return e.load("__string_template__"+hex.EncodeToString(sum[:]), source)
}

func (e *Environment) load(name, source string) (*runtime.Template, error) {
	return e.compiler.Load(e.TemplateClass(name, source), func() (string, error) {
		return e.CompileSource(source, name)
	})
}

// Render loads the named template and renders it against ctx.
func (e *Environment) Render(name string, ctx map[string]any) (string, error) {
	t, err := e.LoadTemplate(name)
	if err != nil {
		return "", err
	}
	out, err := t.Render(ctx)
	if err != nil {
		e.logger.Debug("render failed", "name", name, "error", err)
		return "", err
	}
	return out, nil
}

func (e *Environment) StrictVariables() bool { return e.options.StrictVariables }
func (e *Environment) StrictTypes() bool     { return e.options.StrictTypes }
func (e *Environment) Debug() bool           { return e.options.Debug }

func (e *Environment) Filter(name string) (runtime.Func, bool) {
	f, ok := e.registry.filters[name]
	return f, ok
}

func (e *Environment) Function(name string) (runtime.Func, bool) {
	f, ok := e.registry.functions[name]
	return f, ok
}

func (e *Environment) Test(name string) (runtime.Func, bool) {
	f, ok := e.registry.tests[name]
	return f, ok
}
