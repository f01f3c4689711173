package analysis

import (
	"testing"

	"spirvopt/internal/ir"
)

// buildDiamond builds entry -> (left, right) -> merge -> ret, the classic
// dominator-tree fixture: merge is dominated by entry but not by either arm.
func buildDiamond(m *ir.Module) *ir.Function {
	fnDef := m.NewInstruction(ir.OpFunction, ir.NoId, m.TakeNextId())
	fnEnd := m.NewInstruction(ir.OpFunctionEnd, ir.NoId, ir.NoId)
	fn := m.NewFunction(fnDef, nil, fnEnd)

	entry := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	left := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	right := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	join := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))

	entry.AddInstruction(m.NewInstruction(ir.OpBranchConditional, ir.NoId, ir.NoId,
		ir.MakeIdOperand(ir.Id(999)), ir.MakeIdOperand(left.Id()), ir.MakeIdOperand(right.Id())))
	left.AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(join.Id())))
	right.AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(join.Id())))
	join.AddInstruction(m.NewInstruction(ir.OpReturn, ir.NoId, ir.NoId))

	fn.AddBasicBlock(entry)
	fn.AddBasicBlock(left)
	fn.AddBasicBlock(right)
	fn.AddBasicBlock(join)
	return fn
}

func TestDominatorDiamond(t *testing.T) {
	m := ir.NewModule()
	fn := buildDiamond(m)
	dt := Dominator(fn)

	entry, left, right, join := fn.Blocks[0], fn.Blocks[1], fn.Blocks[2], fn.Blocks[3]

	if !dt.Dominates(entry.Id(), join.Id()) {
		t.Fatal("expected entry to dominate join")
	}
	if dt.Dominates(left.Id(), join.Id()) {
		t.Fatal("did not expect left to dominate join")
	}
	if dt.Dominates(right.Id(), join.Id()) {
		t.Fatal("did not expect right to dominate join")
	}
	if got := dt.ImmediateDominator(join.Id()); got != entry.Id() {
		t.Fatalf("expected entry as join's immediate dominator, got %d", got)
	}
	if got := dt.ImmediateDominator(entry.Id()); got != ir.NoId {
		t.Fatalf("expected entry's immediate dominator to be the pseudo-root, got %d", got)
	}
	if !dt.Dominates(entry.Id(), entry.Id()) {
		t.Fatal("expected reflexive self-domination")
	}
}

func TestPostDominatorDiamond(t *testing.T) {
	m := ir.NewModule()
	fn := buildDiamond(m)
	pdt := PostDominator(fn)

	entry, left, right, join := fn.Blocks[0], fn.Blocks[1], fn.Blocks[2], fn.Blocks[3]

	if !pdt.Dominates(join.Id(), entry.Id()) {
		t.Fatal("expected join to post-dominate entry")
	}
	if !pdt.Dominates(join.Id(), left.Id()) {
		t.Fatal("expected join to post-dominate left")
	}
	if !pdt.Dominates(join.Id(), right.Id()) {
		t.Fatal("expected join to post-dominate right")
	}
	if pdt.Dominates(left.Id(), entry.Id()) {
		t.Fatal("did not expect left to post-dominate entry")
	}
}

func TestDominatorUnreachableBlockOmitted(t *testing.T) {
	m := ir.NewModule()
	fn := buildDiamond(m)
	dead := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	dead.AddInstruction(m.NewInstruction(ir.OpUnreachable, ir.NoId, ir.NoId))
	fn.AddBasicBlock(dead)

	dt := Dominator(fn)
	if dt.IsReachable(dead.Id()) {
		t.Fatal("expected unreachable block to be omitted from the dominator tree")
	}
	if dt.Dominates(dead.Id(), fn.Blocks[0].Id()) {
		t.Fatal("absent block must not dominate anything")
	}
}
