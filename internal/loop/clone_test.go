package loop

import (
	"testing"

	"spirvopt/internal/ir"
)

func TestCloneLoopRewritesForwardAndBackEdges(t *testing.T) {
	m := ir.NewModule()
	fn, bb := buildCountingLoop(m)
	d := Build(fn)
	l := d.Loop(0)

	res := CloneLoop(m, l)
	if len(res.Blocks) != 4 {
		t.Fatalf("expected 4 cloned blocks (header, check, body, latch), got %d", len(res.Blocks))
	}

	clonedHeader := res.BlockByOldId(bb["header"].Id())
	clonedCheck := res.BlockByOldId(bb["check"].Id())
	clonedBody := res.BlockByOldId(bb["body"].Id())
	clonedLatch := res.BlockByOldId(bb["latch"].Id())
	if clonedHeader == nil || clonedCheck == nil || clonedBody == nil || clonedLatch == nil {
		t.Fatal("every source block should have a clone")
	}

	// Forward reference: the cloned header's branch must target the
	// cloned check, not the original.
	headerBranch := clonedHeader.Terminator()
	if headerBranch.Successors()[0] != clonedCheck.Id() {
		t.Fatalf("cloned header should branch to cloned check %d, got %d", clonedCheck.Id(), headerBranch.Successors()[0])
	}

	// Back edge: the cloned latch's branch must target the cloned header.
	latchBranch := clonedLatch.Terminator()
	if latchBranch.Successors()[0] != clonedHeader.Id() {
		t.Fatalf("cloned latch should branch back to cloned header %d, got %d", clonedHeader.Id(), latchBranch.Successors()[0])
	}

	// Exit edge to the original merge block is left untouched.
	checkBranch := clonedCheck.Terminator()
	foundMerge := false
	for _, succ := range checkBranch.Successors() {
		if succ == bb["merge"].Id() {
			foundMerge = true
		}
	}
	if !foundMerge {
		t.Fatal("cloned check's exit edge should still target the original merge block")
	}

	// Original blocks are untouched by the clone.
	if bb["header"].Terminator().Successors()[0] != bb["check"].Id() {
		t.Fatal("cloning must not mutate the source blocks")
	}
}

func TestCloneBlockSetAppliesSeed(t *testing.T) {
	m := ir.NewModule()
	fn, bb := buildCountingLoop(m)
	d := Build(fn)
	l := d.Loop(0)

	iv, ok := l.InductionVariable()
	if !ok {
		t.Fatal("expected induction variable recognition to succeed")
	}

	replacement := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(7))
	seed := map[ir.Id]ir.Id{iv.Phi.ResultId: replacement.ResultId}

	core := []*ir.BasicBlock{bb["check"], bb["body"], bb["latch"]}
	res := CloneBlockSet(m, core, seed)

	clonedCheck := res.BlockByOldId(bb["check"].Id())
	for _, inst := range clonedCheck.Instructions() {
		for _, op := range inst.Operands {
			if op.Type == ir.OperandIdRef && op.AsId() == iv.Phi.ResultId {
				t.Fatal("seeded phi id should not appear anywhere in the clone")
			}
		}
	}
}
