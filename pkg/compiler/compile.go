package compiler

import (
	"fmt"

	"github.com/neurodesk/twig/pkg/ast"
)

// Namer maps a template name to the name of its generated unit.
type Namer func(templateName string) string

// Compile lowers a Module node to Starlark source. The source defines one
// function, named by namer, that takes the runtime template value and
// returns the unit table: {"name", "display", "parent", "blocks"}.
func Compile(module *ast.Node, namer Namer) (string, error) {
	if module == nil || module.Kind != ast.KindModule {
		return "", fmt.Errorf("compile: expected a Module node")
	}
	e := NewEmitter(module.Str("filename"))
	compileModule(e, module, namer)
	if err := e.Err(); err != nil {
		return "", err
	}
	return e.Source(), nil
}

func compileModule(e *Emitter, n *ast.Node, namer Namer) {
	name := n.Str("filename")
	body, parent, blocks := n.Child(0), n.Child(1), n.Child(2)

	e.WriteLine(fmt.Sprintf("# Template %q.", name)).
		WriteLine("# Line markers refer to the template source.").
		WriteRaw("\n").
		WriteLine(fmt.Sprintf("def %s(this):", namer(name))).
		Indent()

	e.WriteLine("def do_display(context, blocks):")
	e.Suite(func() {
		e.WriteLine("_out = []")
		e.SubCompile(body)
		if parent != nil {
			e.WriteLine("return this.display_parent(context, blocks)")
		} else {
			e.WriteLine(`return "".join(_out)`)
		}
	})
	e.WriteRaw("\n")

	e.WriteLine("def get_parent(context):")
	e.Suite(func() {
		if parent == nil {
			e.WriteLine("return None")
			return
		}
		e.Write("return ").SubCompile(parent).WriteRaw("\n")
	})

	for _, b := range blocks.Nodes {
		e.WriteRaw("\n")
		e.SubCompile(b)
	}

	e.WriteRaw("\n")
	e.WriteLine("return {").Indent()
	e.Write(`"name": `).String(name).WriteRaw(",\n")
	e.WriteLine(`"display": do_display,`)
	e.WriteLine(`"parent": get_parent,`)
	e.WriteLine(`"blocks": {`).Indent()
	for _, b := range blocks.Nodes {
		bn := b.Str("name")
		e.Write().String(bn).WriteRaw(": block_" + bn + ",\n")
	}
	e.Outdent().WriteLine("},")
	e.Outdent().WriteLine("}")

	e.Outdent()
}

// compile is the exhaustive lowering switch over node kinds.
func compile(e *Emitter, n *ast.Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case ast.KindBody:
		for _, c := range n.Nodes {
			e.SubCompile(c)
		}
	case ast.KindText:
		e.AddDebugInfo(n).Write("_out.append(").String(n.Str("data")).WriteRaw(")\n")
	case ast.KindPrint:
		e.AddDebugInfo(n).Write("_out.append(this.to_string(").SubCompile(n.Child(0)).WriteRaw("))\n")
	case ast.KindFor:
		compileFor(e, n)
	case ast.KindForLoop:
		compileForLoop(e, n)
	case ast.KindIf:
		compileIf(e, n)
	case ast.KindBlock:
		compileBlock(e, n)
	case ast.KindBlockReference:
		e.AddDebugInfo(n).Write("_out.append(this.display_block(").String(n.Str("name")).WriteRaw(", context, blocks, True))\n")
	case ast.KindSet:
		compileSet(e, n)
	case ast.KindInclude:
		compileInclude(e, n)

	case ast.KindConstant:
		v, _ := n.Attr("value")
		e.Repr(v)
	case ast.KindStringConstant:
		e.String(n.Str("value"))
	case ast.KindName:
		compileName(e, n)
	case ast.KindAssignName:
		e.WriteRaw("context[").String(n.Str("name")).WriteRaw("]")
	case ast.KindGetAttr:
		compileGetAttr(e, n)
	case ast.KindArray:
		e.WriteRaw("[")
		compileList(e, n.Nodes)
		e.WriteRaw("]")
	case ast.KindHash:
		// dict() over pairs keeps the last value of a repeated key
		e.WriteRaw("dict([")
		for i := 0; i+1 < len(n.Nodes); i += 2 {
			if i > 0 {
				e.WriteRaw(", ")
			}
			e.WriteRaw("(").SubCompile(n.Nodes[i]).WriteRaw(", ").SubCompile(n.Nodes[i+1]).WriteRaw(")")
		}
		e.WriteRaw("])")
	case ast.KindArguments:
		compileArguments(e, n)
	case ast.KindNamedArgument:
		e.SubCompile(n.Child(0))
	case ast.KindFilter:
		compileFilter(e, n)
	case ast.KindFunction:
		e.WriteRaw("this.call(").String(n.Str("name")).WriteRaw(", ")
		compileArguments(e, n.Child(0))
		e.WriteRaw(fmt.Sprintf(", %d)", n.Line))
	case ast.KindTest:
		compileTest(e, n)
	case ast.KindConditional:
		e.WriteRaw("(").SubCompile(n.Child(1)).
			WriteRaw(" if this.to_bool(").SubCompile(n.Child(0)).
			WriteRaw(") else ").SubCompile(n.Child(2)).WriteRaw(")")
	case ast.KindParent:
		e.WriteRaw("this.render_parent_block(").String(n.Str("name")).WriteRaw(", context, blocks)")
	case ast.KindBlockCall:
		e.WriteRaw("this.render_block(").SubCompile(n.Child(0)).WriteRaw(", context, blocks)")

	case ast.KindAdd, ast.KindSub, ast.KindMul, ast.KindDiv, ast.KindFloorDiv, ast.KindMod,
		ast.KindPower, ast.KindEqual, ast.KindNotEqual, ast.KindLess, ast.KindLessEqual,
		ast.KindGreater, ast.KindGreaterEqual, ast.KindBitAnd, ast.KindBitOr, ast.KindBitXor:
		e.WriteRaw("this.dynamic(").SubCompile(n.Child(0)).
			WriteRaw(")." + dynamicOps[n.Kind] + "(this.dynamic(").SubCompile(n.Child(1)).WriteRaw("))")
	case ast.KindConcat:
		e.WriteRaw("(this.to_string(").SubCompile(n.Child(0)).
			WriteRaw(") + this.to_string(").SubCompile(n.Child(1)).WriteRaw("))")
	case ast.KindStartsWith, ast.KindEndsWith:
		method := "startswith"
		if n.Kind == ast.KindEndsWith {
			method = "endswith"
		}
		e.WriteRaw("this.to_string(").SubCompile(n.Child(0)).
			WriteRaw(")." + method + "(this.to_string(").SubCompile(n.Child(1)).WriteRaw("))")
	case ast.KindIn:
		e.WriteRaw("this.contains(").SubCompile(n.Child(1)).WriteRaw(", ").SubCompile(n.Child(0)).WriteRaw(")")
	case ast.KindNotIn:
		e.WriteRaw("(not this.contains(").SubCompile(n.Child(1)).WriteRaw(", ").SubCompile(n.Child(0)).WriteRaw("))")
	case ast.KindRange:
		e.WriteRaw("this.range(").SubCompile(n.Child(0)).WriteRaw(", ").SubCompile(n.Child(1)).WriteRaw(")")
	case ast.KindAnd, ast.KindOr:
		op := " and "
		if n.Kind == ast.KindOr {
			op = " or "
		}
		e.WriteRaw("(this.to_bool(").SubCompile(n.Child(0)).
			WriteRaw(")" + op + "this.to_bool(").SubCompile(n.Child(1)).WriteRaw("))")

	case ast.KindNot:
		e.WriteRaw("(not this.to_bool(").SubCompile(n.Child(0)).WriteRaw("))")
	case ast.KindNeg:
		e.WriteRaw("this.dynamic(").SubCompile(n.Child(0)).WriteRaw(").neg()")
	case ast.KindPos:
		e.WriteRaw("this.dynamic(").SubCompile(n.Child(0)).WriteRaw(").pos()")

	case ast.KindModule:
		e.fail(fmt.Errorf("a Module node cannot be nested"))
	default:
		e.fail(fmt.Errorf("no code generation for node kind %s", n.Kind))
	}
}

var dynamicOps = map[ast.Kind]string{
	ast.KindAdd:          "add",
	ast.KindSub:          "sub",
	ast.KindMul:          "mul",
	ast.KindDiv:          "div",
	ast.KindFloorDiv:     "floordiv",
	ast.KindMod:          "mod",
	ast.KindPower:        "pow",
	ast.KindEqual:        "equals",
	ast.KindNotEqual:     "not_equals",
	ast.KindLess:         "lt",
	ast.KindLessEqual:    "le",
	ast.KindGreater:      "gt",
	ast.KindGreaterEqual: "ge",
	ast.KindBitAnd:       "bitand",
	ast.KindBitOr:        "bitor",
	ast.KindBitXor:       "bitxor",
}

func compileList(e *Emitter, nodes []*ast.Node) {
	for i, c := range nodes {
		if i > 0 {
			e.WriteRaw(", ")
		}
		e.SubCompile(c)
	}
}

// compileArguments writes a positional list and a keyword dict.
func compileArguments(e *Emitter, args *ast.Node) {
	var positional, named []*ast.Node
	if args != nil {
		for _, a := range args.Nodes {
			if a.Kind == ast.KindNamedArgument {
				named = append(named, a)
			} else {
				positional = append(positional, a)
			}
		}
	}
	e.WriteRaw("[")
	compileList(e, positional)
	e.WriteRaw("], {")
	for i, a := range named {
		if i > 0 {
			e.WriteRaw(", ")
		}
		e.String(a.Str("name")).WriteRaw(": ").SubCompile(a.Child(0))
	}
	e.WriteRaw("}")
}

func compileName(e *Emitter, n *ast.Node) {
	name := n.Str("name")
	switch {
	case name == "_context":
		e.WriteRaw("context")
	case n.Bool("is_defined_test"):
		e.WriteRaw("(").String(name).WriteRaw(" in context)")
	default:
		e.WriteRaw("this.get_context(context, ").String(name).
			WriteRaw(", ").Repr(n.Bool("ignore_strict")).
			WriteRaw(fmt.Sprintf(", %d)", n.Line))
	}
}

func compileGetAttr(e *Emitter, n *ast.Node) {
	e.WriteRaw("this.get_attribute(").SubCompile(n.Child(0)).
		WriteRaw(", ").SubCompile(n.Child(1)).
		WriteRaw(", [")
	if args := n.Child(2); args != nil {
		compileList(e, args.Nodes)
	}
	e.WriteRaw("], ").String(n.Str("type")).
		WriteRaw(", ").Repr(n.Bool("is_defined_test")).
		WriteRaw(", ").Repr(n.Bool("ignore_strict")).
		WriteRaw(fmt.Sprintf(", %d)", n.Line))
}

// lenient marks a name or attribute chain so that a missing variable or
// attribute evaluates to None instead of failing.
func lenient(n *ast.Node) {
	for n != nil && (n.Kind == ast.KindName || n.Kind == ast.KindGetAttr) {
		n.WithAttr("ignore_strict", true)
		if n.Kind == ast.KindName {
			return
		}
		n = n.Child(0)
	}
}

func compileFilter(e *Emitter, n *ast.Node) {
	name := n.Str("name")
	if name == "default" {
		lenient(n.Child(0))
	}
	e.WriteRaw("this.filter(").String(name).WriteRaw(", ").SubCompile(n.Child(0)).WriteRaw(", ")
	compileArguments(e, n.Child(1))
	e.WriteRaw(fmt.Sprintf(", %d)", n.Line))
}

func compileTest(e *Emitter, n *ast.Node) {
	name := n.Str("name")
	operand := n.Child(0)
	if name == "defined" {
		switch operand.Kind {
		case ast.KindName:
			operand.WithAttr("is_defined_test", true)
		case ast.KindGetAttr:
			operand.WithAttr("is_defined_test", true)
			lenient(operand.Child(0))
		case ast.KindConstant, ast.KindStringConstant, ast.KindArray, ast.KindHash:
			e.WriteRaw("True")
			return
		default:
			e.syntaxError(n, `The "defined" test only works with simple variables.`)
			return
		}
		e.SubCompile(operand)
		return
	}
	e.WriteRaw("this.test(").String(name).WriteRaw(", ").SubCompile(operand).WriteRaw(", ")
	compileArguments(e, n.Child(1))
	e.WriteRaw(fmt.Sprintf(", %d)", n.Line))
}

func compileIf(e *Emitter, n *ast.Node) {
	tests, elseBody := n.Child(0), n.Child(1)
	e.AddDebugInfo(n)
	for i := 0; i+1 < len(tests.Nodes); i += 2 {
		kw := "if "
		if i > 0 {
			kw = "elif "
		}
		e.Write(kw + "this.to_bool(").SubCompile(tests.Nodes[i]).WriteRaw("):\n")
		body := tests.Nodes[i+1]
		e.Suite(func() { e.SubCompile(body) })
	}
	if elseBody != nil {
		e.WriteLine("else:")
		e.Suite(func() { e.SubCompile(elseBody) })
	}
}

func compileFor(e *Emitter, n *ast.Node) {
	seq, body, elseBody := n.Child(2), n.Child(3), n.Child(4)
	withLoop, ifexpr, hasElse := n.Bool("with_loop"), n.Bool("ifexpr"), n.Bool("else")
	key, value := n.Str("key_target"), n.Str("value_target")

	e.AddDebugInfo(n)
	e.WriteLine(`context["_parent"] = dict(context)`)
	e.Write(`context["_seq"] = this.iterate(`).SubCompile(seq).WriteRaw(")\n")
	if hasElse {
		e.WriteLine(`context["_iterated"] = False`)
	}
	if withLoop {
		e.WriteLine(`context["loop"] = {"parent": context["_parent"], "index0": 0, "index": 1, "first": True}`)
		if !ifexpr {
			e.WriteLine(`context["loop"]["length"] = len(context["_seq"])`)
			e.WriteLine(`context["loop"]["revindex0"] = context["loop"]["length"] - 1`)
			e.WriteLine(`context["loop"]["revindex"] = context["loop"]["length"]`)
			e.WriteLine(`context["loop"]["last"] = context["loop"]["length"] == 1`)
		}
	}
	k, v := e.VarName("k"), e.VarName("v")
	e.WriteLine(fmt.Sprintf(`for %s, %s in context["_seq"]:`, k, v))
	e.Suite(func() {
		e.Write("context[").String(key).WriteRaw("] = " + k + "\n")
		e.Write("context[").String(value).WriteRaw("] = " + v + "\n")
		e.SubCompile(body)
	})
	if hasElse {
		e.WriteLine(`if not context["_iterated"]:`)
		e.Suite(func() { e.SubCompile(elseBody) })
	}
	e.Write("this.leave_scope(context, [").String(key).WriteRaw(", ").String(value).WriteRaw("])\n")
}

// compileForLoop writes the per iteration bookkeeping at the end of a loop
// body.
func compileForLoop(e *Emitter, n *ast.Node) {
	if n.Bool("else") {
		e.WriteLine(`context["_iterated"] = True`)
	}
	if !n.Bool("with_loop") {
		return
	}
	e.WriteLine(`context["loop"]["index0"] += 1`)
	e.WriteLine(`context["loop"]["index"] += 1`)
	e.WriteLine(`context["loop"]["first"] = False`)
	if !n.Bool("ifexpr") {
		e.WriteLine(`context["loop"]["revindex0"] -= 1`)
		e.WriteLine(`context["loop"]["revindex"] -= 1`)
		e.WriteLine(`context["loop"]["last"] = context["loop"]["revindex0"] == 0`)
	}
}

func compileBlock(e *Emitter, n *ast.Node) {
	e.AddDebugInfo(n)
	e.WriteLine("def block_" + n.Str("name") + "(context, blocks):")
	e.Suite(func() {
		e.WriteLine("_out = []")
		e.SubCompile(n.Child(0))
		e.WriteLine(`return "".join(_out)`)
	})
}

func compileSet(e *Emitter, n *ast.Node) {
	names, values := n.Child(0), n.Child(1)
	e.AddDebugInfo(n)
	if n.Bool("capture") {
		fn := e.VarName("capture")
		e.WriteLine("def " + fn + "():")
		e.Suite(func() {
			e.WriteLine("_out = []")
			e.SubCompile(values.Child(0))
			e.WriteLine(`return "".join(_out)`)
		})
		e.Write().SubCompile(names.Child(0)).WriteRaw(" = " + fn + "()\n")
		return
	}
	for i, target := range names.Nodes {
		e.Write().SubCompile(target).WriteRaw(" = ").SubCompile(values.Child(i)).WriteRaw("\n")
	}
}

func compileInclude(e *Emitter, n *ast.Node) {
	e.AddDebugInfo(n)
	e.Write("_out.append(this.include(context, ").SubCompile(n.Child(0)).WriteRaw(", ")
	if vars := n.Child(1); vars != nil {
		e.SubCompile(vars)
	} else {
		e.WriteRaw("None")
	}
	e.WriteRaw(", ").Repr(n.Bool("only")).
		WriteRaw(", ").Repr(n.Bool("ignore_missing")).
		WriteRaw(fmt.Sprintf(", %d))\n", n.Line))
}
