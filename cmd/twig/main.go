// Command twig renders, compiles and tokenizes templates from a directory.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alexflint/go-arg"
	"github.com/neurodesk/twig/pkg/syntax"
	"github.com/neurodesk/twig/pkg/twig"
	"gopkg.in/yaml.v3"
)

type templateArgs struct {
	Dirs []string `arg:"--dir,separate" help:"template directory, may be repeated"`
	Name string   `arg:"positional,required" help:"template name"`
}

// RenderArgs renders a template to stdout.
type RenderArgs struct {
	templateArgs
	Context         string `arg:"--context" help:"YAML file with the render context"`
	StrictVariables bool   `arg:"--strict-variables" help:"fail on undefined variables"`
	StrictTypes     bool   `arg:"--strict-types" help:"fail on comparisons of mismatched types"`
	Autoescape      string `arg:"--autoescape" help:"escaping strategy for printed values (html or url)"`
}

// CompileArgs prints the generated Starlark unit of a template.
type CompileArgs struct {
	templateArgs
}

// TokensArgs prints the token stream of a template.
type TokensArgs struct {
	templateArgs
}

// Args is the top-level command line.
type Args struct {
	Config string `arg:"--config" help:"YAML options file"`
	Debug  bool   `arg:"--debug" help:"enable debug logging and the dump function"`

	Render  *RenderArgs  `arg:"subcommand:render" help:"render a template"`
	Compile *CompileArgs `arg:"subcommand:compile" help:"print the generated code of a template"`
	Tokens  *TokensArgs  `arg:"subcommand:tokens" help:"print the tokens of a template"`
}

func (Args) Description() string {
	return "twig renders Twig templates through a Starlark code generator."
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string, stdout, stderr io.Writer) error {
	var args Args
	parser, err := arg.NewParser(arg.Config{Program: "twig"}, &args)
	if err != nil {
		return fmt.Errorf("cli config error: %w", err)
	}
	err = parser.Parse(argv)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(stdout)
		return nil
	}
	if err != nil {
		return err
	}
	if parser.Subcommand() == nil {
		parser.WriteHelp(stdout)
		return nil
	}

	level := slog.LevelInfo
	if args.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	options, err := loadOptions(args.Config)
	if err != nil {
		return err
	}
	options.Debug = options.Debug || args.Debug

	var tmpl templateArgs
	switch {
	case args.Render != nil:
		tmpl = args.Render.templateArgs
		options.StrictVariables = options.StrictVariables || args.Render.StrictVariables
		options.StrictTypes = options.StrictTypes || args.Render.StrictTypes
		if args.Render.Autoescape != "" {
			options.Autoescape = args.Render.Autoescape
		}
	case args.Compile != nil:
		tmpl = args.Compile.templateArgs
	case args.Tokens != nil:
		tmpl = args.Tokens.templateArgs
	}
	if len(tmpl.Dirs) > 0 {
		options.TemplateDirs = tmpl.Dirs
	}

	env, err := twig.New(options, twig.WithLogger(logger))
	if err != nil {
		return err
	}

	switch {
	case args.Render != nil:
		ctx, err := loadContext(args.Render.Context)
		if err != nil {
			return err
		}
		out, err := env.Render(tmpl.Name, ctx)
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, out)
		return err

	case args.Compile != nil:
		source, err := templateSource(env, tmpl.Name)
		if err != nil {
			return err
		}
		code, err := env.CompileSource(source, tmpl.Name)
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, code)
		return err

	case args.Tokens != nil:
		source, err := templateSource(env, tmpl.Name)
		if err != nil {
			return err
		}
		stream, err := env.Tokenize(source, tmpl.Name)
		if err != nil {
			return err
		}
		return printTokens(stdout, stream)
	}
	return nil
}

func loadOptions(path string) (twig.Options, error) {
	if path == "" {
		return twig.Options{}, nil
	}
	return twig.LoadOptions(path)
}

func loadContext(path string) (map[string]any, error) {
	ctx := map[string]any{}
	if path == "" {
		return ctx, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading context: %w", err)
	}
	if err := yaml.Unmarshal(data, &ctx); err != nil {
		return nil, fmt.Errorf("decoding context %s: %w", path, err)
	}
	return ctx, nil
}

func templateSource(env *twig.Environment, name string) (string, error) {
	return env.Loader().Load(name)
}

func printTokens(w io.Writer, stream *syntax.TokenStream) error {
	for _, tok := range stream.Tokens() {
		value := tok.Value
		if tok.Kind == syntax.Text {
			value = strings.ReplaceAll(value, "\n", `\n`)
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", tok.Line, tok.Kind, value); err != nil {
			return err
		}
	}
	return nil
}
