package testasm

import (
	"fmt"

	"github.com/alecthomas/participle/v2"

	"spirvopt/internal/ir"
)

var parser = buildParser()

func buildParser() *participle.Parser[Source] {
	p, err := participle.Build[Source](
		participle.Lexer(Lexer),
		participle.Elide("Whitespace", "Comment"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to build testasm parser: %w", err))
	}
	return p
}

// Parse builds an ir.Module from a fixture source. sourceName is used only
// for participle's error positions.
func Parse(sourceName, source string) (*ir.Module, error) {
	src, err := parser.ParseString(sourceName, source)
	if err != nil {
		return nil, err
	}
	return build(src)
}

// build resolves every %-symbol to a numeric id and materializes the
// module in two passes: the first registers every symbol a later
// instruction might reference (block labels, constant names, instruction
// results) before any operand is resolved, so a forward branch or a phi's
// back-edge operand resolves the same way a backward reference would.
func build(src *Source) (*ir.Module, error) {
	m := ir.NewModule()
	names := make(map[string]ir.Id)

	for _, d := range src.Decls {
		switch {
		case d.Const != nil:
			names[d.Const.Name] = m.TakeNextId()
		case d.Func != nil:
			names[d.Func.Name] = m.TakeNextId()
			for _, b := range d.Func.Blocks {
				names[b.Name] = m.TakeNextId()
				for _, inst := range b.Insts {
					if inst.Result != "" {
						names[inst.Result] = m.TakeNextId()
					}
				}
			}
		}
	}

	for _, d := range src.Decls {
		if d.Const == nil {
			continue
		}
		id := names[d.Const.Name]
		inst := m.NewInstruction(ir.OpConstant, ir.NoId, id, ir.MakeLiteralInt64Operand(d.Const.Value))
		m.Types = append(m.Types, inst)
	}

	for _, d := range src.Decls {
		if d.Func == nil {
			continue
		}
		if err := buildFunc(m, names, d.Func); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func buildFunc(m *ir.Module, names map[string]ir.Id, decl *FuncDecl) error {
	defInst := m.NewInstruction(ir.OpFunction, ir.NoId, names[decl.Name])
	endInst := m.NewInstruction(ir.OpFunctionEnd, ir.NoId, ir.NoId)
	fn := m.NewFunction(defInst, nil, endInst)

	for _, b := range decl.Blocks {
		label := m.NewInstruction(ir.OpLabel, ir.NoId, names[b.Name])
		bb := ir.NewBasicBlock(label)
		for _, instDecl := range b.Insts {
			inst, err := buildInstruction(m, names, instDecl)
			if err != nil {
				return fmt.Errorf("function %s, block %s: %w", decl.Name, b.Name, err)
			}
			bb.AddInstruction(inst)
		}
		fn.AddBasicBlock(bb)
	}
	return nil
}

func buildInstruction(m *ir.Module, names map[string]ir.Id, decl *InstDecl) (*ir.Instruction, error) {
	op, ok := ir.OpcodeByName(decl.Op)
	if !ok {
		return nil, fmt.Errorf("unknown opcode %s", decl.Op)
	}

	operands := make([]ir.Operand, 0, len(decl.Args))
	for _, arg := range decl.Args {
		switch {
		case arg.Id != nil:
			id, ok := names[*arg.Id]
			if !ok {
				return nil, fmt.Errorf("undefined symbol %s", *arg.Id)
			}
			operands = append(operands, ir.MakeIdOperand(id))
		case arg.Int != nil:
			operands = append(operands, ir.MakeLiteralOperand(uint32(*arg.Int)))
		}
	}

	resultId := ir.NoId
	if decl.Result != "" {
		resultId = names[decl.Result]
	}
	return m.NewInstruction(op, ir.NoId, resultId, operands...), nil
}
