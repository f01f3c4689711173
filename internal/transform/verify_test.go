package transform

import (
	"testing"

	"spirvopt/internal/ir"
	"spirvopt/internal/irctx"
)

func TestVerifyCFGAcceptsWellFormedLoop(t *testing.T) {
	m := ir.NewModule()
	fn, _ := buildCountingLoopForLICM(m)
	c := irctx.New(m)

	if err := VerifyCFG(c, fn); err != nil {
		t.Fatalf("expected a well-formed loop to verify clean, got %v", err)
	}
}

func TestVerifyCFGAcceptsAfterFullUnroll(t *testing.T) {
	m := ir.NewModule()
	fn, _ := buildCountingLoopForLICM(m)
	c := irctx.New(m)

	res := Unroll{MaxFullUnrollTripCount: 100}.Run(c)
	if res.Failed() || !res.Changed() {
		t.Fatalf("expected full unroll to succeed as a precondition of this test: %v", res.Err)
	}

	if err := VerifyCFG(c, fn); err != nil {
		t.Fatalf("expected a fully unrolled loop to stay structurally sound, got %v", err)
	}
}

func TestVerifyCFGRejectsBranchToMissingBlock(t *testing.T) {
	m := ir.NewModule()
	fn, bb := buildCountingLoopForLICM(m)
	c := irctx.New(m)

	ghost := ir.Id(999999)
	bb["body"].KillInstruction(bb["body"].Terminator())
	bb["body"].AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(ghost)))

	if err := VerifyCFG(c, fn); err == nil {
		t.Fatal("expected verification to reject a branch to a block outside the function")
	}
}

func TestVerifyCFGRejectsSelfMergingHeader(t *testing.T) {
	m := ir.NewModule()
	fn, bb := buildCountingLoopForLICM(m)
	c := irctx.New(m)

	header := bb["header"]
	term := header.Terminator()
	oldMerge := header.MergeInst()
	header.KillInstruction(oldMerge)
	header.KillInstruction(term)
	header.AddInstruction(m.NewInstruction(ir.OpLoopMerge, ir.NoId, ir.NoId,
		ir.MakeIdOperand(header.Id()), ir.MakeIdOperand(bb["latch"].Id()), ir.MakeLiteralOperand(0)))
	header.AddInstruction(term)

	if err := VerifyCFG(c, fn); err == nil {
		t.Fatal("expected verification to reject a header that names itself as its own merge block")
	}
}
