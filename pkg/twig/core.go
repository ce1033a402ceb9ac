package twig

import (
	"github.com/neurodesk/twig/pkg/ast"
	"github.com/neurodesk/twig/pkg/parser"
	"github.com/neurodesk/twig/pkg/runtime"
)

// CoreExtension provides the operators, tags, filters, functions and tests
// every Environment starts with.
type CoreExtension struct{}

var _ Extension = CoreExtension{}

func (CoreExtension) Name() string { return "core" }

func (CoreExtension) TagParsers() []parser.TagParser {
	return []parser.TagParser{
		parser.ForTag{},
		parser.IfTag{},
		parser.BlockTag{},
		parser.SetTag{},
		parser.IncludeTag{},
		parser.ExtendsTag{},
	}
}

func (CoreExtension) UnaryOperators() map[string]parser.Operator {
	return map[string]parser.Operator{
		"not": {Precedence: 50, Kind: ast.KindNot},
		"-":   {Precedence: 500, Kind: ast.KindNeg},
		"+":   {Precedence: 500, Kind: ast.KindPos},
	}
}

func (CoreExtension) BinaryOperators() map[string]parser.Operator {
	test := (*parser.ExpressionParser).ParseTest
	return map[string]parser.Operator{
		"or":          {Precedence: 10, Assoc: parser.Left, Kind: ast.KindOr},
		"and":         {Precedence: 15, Assoc: parser.Left, Kind: ast.KindAnd},
		"b-or":        {Precedence: 16, Assoc: parser.Left, Kind: ast.KindBitOr},
		"b-xor":       {Precedence: 17, Assoc: parser.Left, Kind: ast.KindBitXor},
		"b-and":       {Precedence: 18, Assoc: parser.Left, Kind: ast.KindBitAnd},
		"==":          {Precedence: 20, Assoc: parser.Left, Kind: ast.KindEqual},
		"!=":          {Precedence: 20, Assoc: parser.Left, Kind: ast.KindNotEqual},
		"<":           {Precedence: 20, Assoc: parser.Left, Kind: ast.KindLess},
		">":           {Precedence: 20, Assoc: parser.Left, Kind: ast.KindGreater},
		">=":          {Precedence: 20, Assoc: parser.Left, Kind: ast.KindGreaterEqual},
		"<=":          {Precedence: 20, Assoc: parser.Left, Kind: ast.KindLessEqual},
		"not in":      {Precedence: 20, Assoc: parser.Left, Kind: ast.KindNotIn},
		"in":          {Precedence: 20, Assoc: parser.Left, Kind: ast.KindIn},
		"starts with": {Precedence: 20, Assoc: parser.Left, Kind: ast.KindStartsWith},
		"ends with":   {Precedence: 20, Assoc: parser.Left, Kind: ast.KindEndsWith},
		"..":          {Precedence: 25, Assoc: parser.Left, Kind: ast.KindRange},
		"+":           {Precedence: 30, Assoc: parser.Left, Kind: ast.KindAdd},
		"-":           {Precedence: 30, Assoc: parser.Left, Kind: ast.KindSub},
		"~":           {Precedence: 40, Assoc: parser.Left, Kind: ast.KindConcat},
		"*":           {Precedence: 60, Assoc: parser.Left, Kind: ast.KindMul},
		"/":           {Precedence: 60, Assoc: parser.Left, Kind: ast.KindDiv},
		"//":          {Precedence: 60, Assoc: parser.Left, Kind: ast.KindFloorDiv},
		"%":           {Precedence: 60, Assoc: parser.Left, Kind: ast.KindMod},
		"is":          {Precedence: 100, Assoc: parser.Left, Parse: test},
		"is not":      {Precedence: 100, Assoc: parser.Left, Parse: test},
		"**":          {Precedence: 200, Assoc: parser.Right, Kind: ast.KindPower},
	}
}

func (CoreExtension) Filters() map[string]runtime.Func {
	escape := filterEscape
	return map[string]runtime.Func{
		"upper":       stringFilter("upper", upper),
		"lower":       stringFilter("lower", lower),
		"capitalize":  stringFilter("capitalize", capitalize),
		"title":       stringFilter("title", title),
		"trim":        filterTrim,
		"default":     filterDefault,
		"join":        filterJoin,
		"length":      filterLength,
		"keys":        filterKeys,
		"first":       edgeFilter("first", true),
		"last":        edgeFilter("last", false),
		"abs":         filterAbs,
		"round":       filterRound,
		"escape":      escape,
		"e":           escape,
		"raw":         filterRaw,
		"json_encode": filterJSONEncode,
		"dump":        filterDump,
	}
}

func (CoreExtension) Functions() map[string]runtime.Func {
	return map[string]runtime.Func{
		"range": functionRange,
		"dump":  functionDump,
		"max":   extremum("max", true),
		"min":   extremum("min", false),
	}
}

func (CoreExtension) Tests() map[string]runtime.Func {
	return map[string]runtime.Func{
		"defined":      testDefined,
		"null":         testNull,
		"none":         testNull,
		"empty":        testEmpty,
		"even":         parity("even", 0),
		"odd":          parity("odd", 1),
		"iterable":     testIterable,
		"divisible by": testDivisibleBy,
		"same as":      testSameAs,
	}
}
