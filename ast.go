// ast.go: syntax tree for the calc language.
//
// The tree is a closed sum type: every node kind is a struct implementing
// Node, and the unexported marker method keeps the set closed to this package.
// A type switch over Node in the compiler therefore covers a known, finite set
// of variants.
//
// Node kinds and their fields:
//
//	Program  {Name, Source, Items}      root; Items ends with *End
//	End      {}                         end-of-program marker
//	Assign   {Name, Value}              x = expr
//	FuncDef  {Name, Params, Body}       f(a, b) = expr
//	ExprStmt {X}                        expression statement
//	Number   {Value}                    int64 or float64
//	String   {Value}
//	BoolLit  {Value}
//	Ident    {Name}
//	Unary    {Op, X}                    "-", "not", "!" (postfix factorial)
//	Binary   {Op, L, R}
//	Call     {Fn, Args}
//	Lambda   {Params, Body}
//	If       {Cond, Then, Else}
//	ListLit  {Items}
//	Index    {X, Index}
//
// Every node records the character offset of the token that introduced it; the
// compiler turns these into bytecode marks.
package calc

import (
	"encoding/json"
)

// Node is implemented by every syntax tree node.
type Node interface {
	Pos() int
	Tag() string
	node()
}

type base struct{ Offset int }

func (b base) Pos() int { return b.Offset }
func (base) node()      {}

type (
	Program struct {
		base
		Name   string
		Source string
		Items  []Node
	}

	End struct{ base }

	Assign struct {
		base
		Name  string
		Value Node
	}

	FuncDef struct {
		base
		Name   string
		Params []string
		Body   Node
	}

	ExprStmt struct {
		base
		X Node
	}

	Number struct {
		base
		Value interface{} // int64 | float64
	}

	String struct {
		base
		Value string
	}

	BoolLit struct {
		base
		Value bool
	}

	Ident struct {
		base
		Name string
	}

	Unary struct {
		base
		Op string
		X  Node
	}

	Binary struct {
		base
		Op   string
		L, R Node
	}

	Call struct {
		base
		Fn   Node
		Args []Node
	}

	Lambda struct {
		base
		Params []string
		Body   Node
	}

	If struct {
		base
		Cond, Then, Else Node
	}

	ListLit struct {
		base
		Items []Node
	}

	Index struct {
		base
		X, Index Node
	}
)

func (*Program) Tag() string  { return "program" }
func (*End) Tag() string      { return "end" }
func (*Assign) Tag() string   { return "assign" }
func (*FuncDef) Tag() string  { return "function_definition" }
func (*ExprStmt) Tag() string { return "statement" }
func (*Number) Tag() string   { return "number" }
func (*String) Tag() string   { return "string" }
func (*BoolLit) Tag() string  { return "bool" }
func (*Ident) Tag() string    { return "word" }
func (*Unary) Tag() string    { return "unary" }
func (*Binary) Tag() string   { return "binop" }
func (*Call) Tag() string     { return "function_call" }
func (*Lambda) Tag() string   { return "function_definition" }
func (*If) Tag() string       { return "if" }
func (*ListLit) Tag() string  { return "list" }
func (*Index) Tag() string    { return "index" }

// Statements returns the program items without the trailing End marker.
func (p *Program) Statements() []Node {
	if n := len(p.Items); n > 0 {
		if _, ok := p.Items[n-1].(*End); ok {
			return p.Items[:n-1]
		}
	}
	return p.Items
}

////////////////////////////////////////////////////////////////////////////////
// Tree dump
////////////////////////////////////////////////////////////////////////////////

// DumpTree renders n as indented JSON. Each node becomes an object whose "#"
// key holds the tag and whose remaining keys are the node's fields.
func DumpTree(n Node) ([]byte, error) {
	return json.MarshalIndent(treeMap(n), "", "  ")
}

func treeList(ns []Node) []interface{} {
	out := make([]interface{}, len(ns))
	for i, n := range ns {
		out[i] = treeMap(n)
	}
	return out
}

func treeMap(n Node) map[string]interface{} {
	m := map[string]interface{}{"#": n.Tag(), "offset": n.Pos()}
	switch x := n.(type) {
	case *Program:
		m["name"] = x.Name
		m["items"] = treeList(x.Items)
	case *End:
	case *Assign:
		m["name"] = x.Name
		m["value"] = treeMap(x.Value)
	case *FuncDef:
		m["name"] = x.Name
		m["parameters"] = x.Params
		m["body"] = treeMap(x.Body)
	case *ExprStmt:
		m["expression"] = treeMap(x.X)
	case *Number:
		m["value"] = x.Value
	case *String:
		m["value"] = x.Value
	case *BoolLit:
		m["value"] = x.Value
	case *Ident:
		m["string"] = x.Name
	case *Unary:
		m["operator"] = x.Op
		m["expression"] = treeMap(x.X)
	case *Binary:
		m["operator"] = x.Op
		m["left"] = treeMap(x.L)
		m["right"] = treeMap(x.R)
	case *Call:
		m["function"] = treeMap(x.Fn)
		m["arguments"] = treeList(x.Args)
	case *Lambda:
		m["parameters"] = x.Params
		m["body"] = treeMap(x.Body)
	case *If:
		m["condition"] = treeMap(x.Cond)
		m["if_true"] = treeMap(x.Then)
		m["if_false"] = treeMap(x.Else)
	case *ListLit:
		m["items"] = treeList(x.Items)
	case *Index:
		m["expression"] = treeMap(x.X)
		m["index"] = treeMap(x.Index)
	}
	return m
}
