package transform

import (
	"testing"

	"spirvopt/internal/ir"
	"spirvopt/internal/irctx"
)

// buildLoopWithInvariantBranch builds a counting loop whose body branches
// on a condition defined in the pre-header (loop-invariant), to the
// trueBody/falseBody blocks, both of which just fall through to latch:
//
//	entry:     %flag = OpConstantTrue
//	           OpBranch %header
//	header:    %i = OpPhi ...; OpLoopMerge; OpBranch %check
//	check:     %cond = OpSLessThan %i %bound; OpBranchConditional %cond %body %merge
//	body:      OpBranchConditional %flag %trueBody %falseBody
//	trueBody:  OpBranch %latch
//	falseBody: OpBranch %latch
//	latch:     %inc = OpIAdd %i %one; OpBranch %header
//	merge:     OpReturn
func buildLoopWithInvariantBranch(m *ir.Module) (*ir.Function, map[string]*ir.BasicBlock) {
	fnDef := m.NewInstruction(ir.OpFunction, ir.NoId, m.TakeNextId())
	fnEnd := m.NewInstruction(ir.OpFunctionEnd, ir.NoId, ir.NoId)
	fn := m.NewFunction(fnDef, nil, fnEnd)

	zero := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	one := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(1))
	bound := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(10))
	flag := m.NewInstruction(ir.OpConstantTrue, ir.NoId, m.TakeNextId())
	m.Types = append(m.Types, zero, one, bound, flag)

	entry := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	header := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	check := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	body := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	trueBody := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	falseBody := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	latch := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	merge := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))

	iPhiId := m.TakeNextId()
	incId := m.TakeNextId()
	condId := m.TakeNextId()

	entry.AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(header.Id())))

	iPhi := m.NewInstruction(ir.OpPhi, ir.NoId, iPhiId,
		ir.MakeIdOperand(zero.ResultId), ir.MakeIdOperand(entry.Id()),
		ir.MakeIdOperand(incId), ir.MakeIdOperand(latch.Id()))
	header.AddInstruction(iPhi)
	header.AddInstruction(m.NewInstruction(ir.OpLoopMerge, ir.NoId, ir.NoId,
		ir.MakeIdOperand(merge.Id()), ir.MakeIdOperand(latch.Id()), ir.MakeLiteralOperand(0)))
	header.AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(check.Id())))

	check.AddInstruction(m.NewInstruction(ir.OpSLessThan, ir.NoId, condId,
		ir.MakeIdOperand(iPhiId), ir.MakeIdOperand(bound.ResultId)))
	check.AddInstruction(m.NewInstruction(ir.OpBranchConditional, ir.NoId, ir.NoId,
		ir.MakeIdOperand(condId), ir.MakeIdOperand(body.Id()), ir.MakeIdOperand(merge.Id())))

	body.AddInstruction(m.NewInstruction(ir.OpBranchConditional, ir.NoId, ir.NoId,
		ir.MakeIdOperand(flag.ResultId), ir.MakeIdOperand(trueBody.Id()), ir.MakeIdOperand(falseBody.Id())))

	trueBody.AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(latch.Id())))
	falseBody.AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(latch.Id())))

	latch.AddInstruction(m.NewInstruction(ir.OpIAdd, ir.NoId, incId,
		ir.MakeIdOperand(iPhiId), ir.MakeIdOperand(one.ResultId)))
	latch.AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(header.Id())))

	merge.AddInstruction(m.NewInstruction(ir.OpReturn, ir.NoId, ir.NoId))

	for _, bb := range []*ir.BasicBlock{entry, header, check, body, trueBody, falseBody, latch, merge} {
		fn.AddBasicBlock(bb)
	}

	return fn, map[string]*ir.BasicBlock{
		"entry": entry, "header": header, "check": check, "body": body,
		"trueBody": trueBody, "falseBody": falseBody, "latch": latch, "merge": merge,
	}
}

func TestUnswitchSpecializesAndClonesLoop(t *testing.T) {
	m := ir.NewModule()
	fn, bb := buildLoopWithInvariantBranch(m)
	c := irctx.New(m)

	res := Unswitch{}.Run(c)
	if res.Failed() {
		t.Fatalf("unswitch failed: %v", res.Err)
	}
	if !res.Changed() {
		t.Fatal("expected unswitch to report a change")
	}

	for _, removed := range []*ir.BasicBlock{bb["header"], bb["check"], bb["body"], bb["trueBody"], bb["falseBody"], bb["latch"]} {
		if fn.BlockById(removed.Id()) != nil {
			t.Fatalf("original loop block %d should have been removed", removed.Id())
		}
	}

	entryBranch := bb["entry"].Terminator()
	if entryBranch.Opcode != ir.OpBranchConditional {
		t.Fatalf("pre-header should now branch conditionally on the hoisted flag, got %v", entryBranch.Opcode)
	}
	if bb["entry"].MergeInst() == nil {
		t.Fatal("pre-header should carry an OpSelectionMerge for its new conditional branch")
	}

	// entry + merge + two loop clones, each keeping only its own specialized
	// arm (header, check, body, one of trueBody/falseBody, latch): the dead
	// sibling arm is pruned out of each clone rather than left as an
	// orphaned unreachable block.
	want := 2 + 2*5
	if got := len(fn.Blocks); got != want {
		t.Fatalf("expected %d blocks after unswitching, got %d", want, got)
	}
}

func TestUnswitchDeclinesWithoutInvariantBranch(t *testing.T) {
	m := ir.NewModule()
	fn, _ := buildCountingLoopForLICM(m)
	c := irctx.New(m)

	res := Unswitch{}.Run(c)
	if res.Failed() {
		t.Fatalf("unswitch failed: %v", res.Err)
	}
	if res.Changed() {
		t.Fatal("expected no change when the loop has no invariant conditional branch")
	}
	_ = fn
}
