package testasm

import (
	"testing"

	"spirvopt/internal/ir"
)

func TestParseBuildsCountingLoop(t *testing.T) {
	src := `
const %zero = 0
const %one = 1
const %bound = 10

fn %main {
block %entry:
  OpBranch %header
block %header:
  %i = OpPhi %zero %entry %next %latch
  %cond = OpSLessThan %i %bound
  OpLoopMerge %merge %latch 0
  OpBranchConditional %cond %body %merge
block %body:
  OpBranch %latch
block %latch:
  %next = OpIAdd %i %one
  OpBranch %header
block %merge:
  OpReturn
}
`
	m, err := Parse("counting-loop", src)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	if len(m.Functions) != 1 {
		t.Fatalf("expected exactly one function, got %d", len(m.Functions))
	}
	fn := m.Functions[0]
	if len(fn.Blocks) != 5 {
		t.Fatalf("expected 5 blocks, got %d", len(fn.Blocks))
	}

	var header *ir.BasicBlock
	for _, bb := range fn.Blocks {
		if bb.Terminator() != nil && bb.MergeInst() != nil {
			header = bb
		}
	}
	if header == nil {
		t.Fatal("expected to find the loop header by its merge instruction")
	}

	phi := header.Instructions()[0]
	if phi.Opcode != ir.OpPhi {
		t.Fatalf("expected header's first instruction to be OpPhi, got %s", phi.Opcode)
	}
	if len(phi.Operands) != 4 {
		t.Fatalf("expected OpPhi to carry 4 operands (2 value/block pairs), got %d", len(phi.Operands))
	}
}

func TestParseResolvesForwardBlockReference(t *testing.T) {
	src := `
fn %f {
block %entry:
  OpBranch %later
block %later:
  OpReturn
}
`
	m, err := Parse("forward-ref", src)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}

	entry := m.Functions[0].Blocks[0]
	br := entry.Terminator()
	if br.Opcode != ir.OpBranch {
		t.Fatalf("expected entry's terminator to be OpBranch, got %s", br.Opcode)
	}
	target := br.Operands[0].AsId()
	later := m.Functions[0].Blocks[1]
	if target != later.Id() {
		t.Fatalf("expected forward branch to resolve to the later block's id %d, got %d", later.Id(), target)
	}
}

func TestParseRejectsUnknownOpcode(t *testing.T) {
	src := `
fn %f {
block %entry:
  OpThisDoesNotExist
}
`
	if _, err := Parse("bad-opcode", src); err == nil {
		t.Fatal("expected an error for an unknown opcode mnemonic")
	}
}
