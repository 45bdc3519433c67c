// export.go: serialized and human-readable forms of a Bytecode.
//
// Dump renders an exportable program as a YAML document. The document is
// deterministic: the same program always dumps to the same bytes. LoadBytecode
// reads it back and validates every reference before returning.
//
//	format: calc-bytecode/1
//	globals: [abs, sqrt, ..., f]
//	constants:
//	  - {type: int, value: "2"}
//	functions:
//	  - {name: f, params: [n], entry: 9, fragment: 0, offset: 0}
//	fragments:
//	  - {name: script, source: "...", entry: 0, end: 14, statements: 2}
//	marks:
//	  - {pc: 3, offset: 12}
//	code:
//	  - STMT 0
//	  - MAKECLOSURE 0
package calc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const dumpFormat = "calc-bytecode/1"

// ErrNotExportable is returned by Dump for programs compiled without the
// exportable flag.
var ErrNotExportable = errors.New("program was not compiled as exportable")

type bytecodeDoc struct {
	Format    string        `yaml:"format"`
	Globals   []string      `yaml:"globals,flow"`
	Constants []constDoc    `yaml:"constants"`
	Functions []functionDoc `yaml:"functions"`
	Fragments []fragmentDoc `yaml:"fragments"`
	Marks     []markDoc     `yaml:"marks"`
	Code      []string      `yaml:"code"`
}

type constDoc struct {
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

type functionDoc struct {
	Name     string   `yaml:"name"`
	Params   []string `yaml:"params,flow"`
	Captures []string `yaml:"captures,flow,omitempty"`
	Entry    int      `yaml:"entry"`
	Fragment int      `yaml:"fragment"`
	Offset   int      `yaml:"offset"`
}

type fragmentDoc struct {
	Name       string `yaml:"name"`
	Source     string `yaml:"source"`
	Entry      int    `yaml:"entry"`
	End        int    `yaml:"end"`
	Statements int    `yaml:"statements"`
}

type markDoc struct {
	PC     int `yaml:"pc"`
	Offset int `yaml:"offset"`
}

// Dump serializes the program. Only exportable programs can be dumped.
func (b *Bytecode) Dump() ([]byte, error) {
	if !b.Exportable {
		return nil, ErrNotExportable
	}
	doc := bytecodeDoc{Format: dumpFormat, Globals: b.Globals}
	for _, c := range b.Consts {
		cd, err := encodeConst(c)
		if err != nil {
			return nil, err
		}
		doc.Constants = append(doc.Constants, cd)
	}
	for _, f := range b.Funcs {
		doc.Functions = append(doc.Functions, functionDoc{
			Name: f.Name, Params: f.Params, Captures: f.Captures,
			Entry: f.Entry, Fragment: f.Fragment, Offset: f.Offset,
		})
	}
	for _, f := range b.Fragments {
		doc.Fragments = append(doc.Fragments, fragmentDoc{
			Name: f.Name, Source: f.Source, Entry: f.Entry, End: f.End, Statements: f.Statements,
		})
	}
	for _, m := range b.Marks {
		doc.Marks = append(doc.Marks, markDoc{PC: m.PC, Offset: m.Offset})
	}
	for _, ins := range b.Code {
		doc.Code = append(doc.Code, fmt.Sprintf("%s %d", uop(ins), uimm(ins)))
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeConst(v Value) (constDoc, error) {
	switch v.Tag {
	case VTInt:
		return constDoc{"int", strconv.FormatInt(v.Data.(int64), 10)}, nil
	case VTNum:
		return constDoc{"num", strconv.FormatFloat(v.Data.(float64), 'g', -1, 64)}, nil
	case VTStr:
		return constDoc{"str", v.Data.(string)}, nil
	case VTBool:
		return constDoc{"bool", strconv.FormatBool(v.Data.(bool))}, nil
	}
	return constDoc{}, ErrInvariant.New("constant of type %s cannot be exported", v.Tag)
}

func decodeConst(d constDoc) (Value, error) {
	switch d.Type {
	case "int":
		n, err := strconv.ParseInt(d.Value, 10, 64)
		if err != nil {
			return Null, err
		}
		return Int(n), nil
	case "num":
		f, err := strconv.ParseFloat(d.Value, 64)
		if err != nil {
			return Null, err
		}
		return Num(f), nil
	case "str":
		return Str(d.Value), nil
	case "bool":
		t, err := strconv.ParseBool(d.Value)
		if err != nil {
			return Null, err
		}
		return Bool(t), nil
	}
	return Null, fmt.Errorf("unknown constant type %q", d.Type)
}

// LoadBytecode parses a document produced by Dump.
func LoadBytecode(data []byte) (*Bytecode, error) {
	var doc bytecodeDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("load bytecode: %w", err)
	}
	if doc.Format != dumpFormat {
		return nil, fmt.Errorf("load bytecode: unsupported format %q", doc.Format)
	}
	b := &Bytecode{Globals: doc.Globals, Exportable: true}
	for i, cd := range doc.Constants {
		v, err := decodeConst(cd)
		if err != nil {
			return nil, fmt.Errorf("load bytecode: constant %d: %w", i, err)
		}
		b.Consts = append(b.Consts, v)
	}
	for _, f := range doc.Functions {
		b.Funcs = append(b.Funcs, &FuncProto{
			Name: f.Name, Params: f.Params, Captures: f.Captures, NumCaptures: len(f.Captures),
			Entry: f.Entry, Fragment: f.Fragment, Offset: f.Offset,
		})
	}
	for _, f := range doc.Fragments {
		b.Fragments = append(b.Fragments, &Fragment{
			Name: f.Name, Source: f.Source, Entry: f.Entry, End: f.End, Statements: f.Statements,
		})
	}
	for _, m := range doc.Marks {
		b.Marks = append(b.Marks, Mark{PC: m.PC, Offset: m.Offset})
	}
	for i, line := range doc.Code {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("load bytecode: malformed instruction %d: %q", i, line)
		}
		op, ok := opByName(fields[0])
		if !ok {
			return nil, fmt.Errorf("load bytecode: unknown opcode %q at %d", fields[0], i)
		}
		imm, err := strconv.Atoi(fields[1])
		if err != nil || imm < 0 || imm > maxImm {
			return nil, fmt.Errorf("load bytecode: bad immediate %q at %d", fields[1], i)
		}
		b.Code = append(b.Code, pack(op, uint32(imm)))
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// CompilerFor returns a compiler that continues building b, so a loaded
// program can be wrapped and extended like a freshly compiled one.
func CompilerFor(b *Bytecode) *Compiler {
	c := NewCompiler()
	c.prog = b
	for i, name := range b.Globals {
		c.slots[name] = i
	}
	for i, v := range b.Consts {
		c.consts[constKey{v.Tag, v.Data}] = uint32(i)
	}
	return c
}

// Disassemble writes a listing of the program to w.
func (b *Bytecode) Disassemble(w io.Writer) error {
	entries := map[int][]string{}
	for i, f := range b.Funcs {
		name := f.Name
		if name == "" {
			name = "lambda"
		}
		entries[f.Entry] = append(entries[f.Entry], fmt.Sprintf("func %d %s(%s)", i, name, strings.Join(f.Params, ", ")))
	}
	mi := 0
	for fi, frag := range b.Fragments {
		if _, err := fmt.Fprintf(w, "== fragment %d %q (%d statements) ==\n", fi, frag.Name, frag.Statements); err != nil {
			return err
		}
		for pc := frag.Entry; pc < frag.End; pc++ {
			for _, label := range entries[pc] {
				fmt.Fprintf(w, "%s:\n", label)
			}
			op, imm := uop(b.Code[pc]), int(uimm(b.Code[pc]))
			line := fmt.Sprintf("  %06d  %-12s %d", pc, op, imm)
			switch op {
			case opConst:
				if imm < len(b.Consts) {
					line += "  ; " + b.Consts[imm].String()
				}
			case opGetGlobal, opSetGlobal:
				if imm < len(b.Globals) {
					line += "  ; " + b.Globals[imm]
				}
			}
			for mi < len(b.Marks) && b.Marks[mi].PC < pc {
				mi++
			}
			if mi < len(b.Marks) && b.Marks[mi].PC == pc {
				line += fmt.Sprintf("  @%d", b.Marks[mi].Offset)
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}
