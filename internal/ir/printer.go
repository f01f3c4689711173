package ir

import (
	"fmt"
	"strings"
)

// Printer provides pretty-printing for the IR, for CLI dumps and test
// fixtures. It is not a disassembler: it only needs to be stable and
// readable enough to diff transform output in tests.
type Printer struct {
	indent int
	output strings.Builder
}

// NewPrinter creates a new IR printer.
func NewPrinter() *Printer {
	return &Printer{indent: 0}
}

// Print returns the string representation of an IR module.
func Print(module *Module) string {
	p := NewPrinter()
	p.printModule(module)
	return p.output.String()
}

func (p *Printer) writeIndent() {
	for i := 0; i < p.indent; i++ {
		p.output.WriteString("  ")
	}
}

func (p *Printer) writeLine(format string, args ...interface{}) {
	p.writeIndent()
	p.output.WriteString(fmt.Sprintf(format, args...))
	p.output.WriteString("\n")
}

func (p *Printer) printModule(m *Module) {
	for _, ext := range m.Extensions {
		p.writeLine("%s", ext.String())
	}
	for _, fn := range m.Functions {
		p.printFunction(fn)
	}
}

func (p *Printer) printFunction(fn *Function) {
	p.writeLine("func %%%d {", fn.ResultId())
	p.indent++
	for _, bb := range fn.Blocks {
		p.printBlock(bb)
	}
	p.indent--
	p.writeLine("}")
}

func (p *Printer) printBlock(bb *BasicBlock) {
	p.writeLine("%%%d:", bb.Id())
	p.indent++
	for _, inst := range bb.Instructions() {
		p.writeLine("%s", inst.String())
	}
	p.indent--
}
