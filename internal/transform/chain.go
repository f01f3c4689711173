package transform

import (
	"fmt"

	"github.com/iancoleman/strcase"

	"spirvopt/internal/ir"
	"spirvopt/internal/loop"
)

// conditionBlock finds the loop body block whose conditional branch tests
// against the loop merge, the same shape internal/loop's induction
// recognizer requires. Chaining transforms need to find the clone of this
// block to redirect its exits.
func conditionBlock(l *loop.Loop) *ir.BasicBlock {
	for _, bb := range l.Blocks() {
		term := bb.Terminator()
		if term == nil || term.Opcode != ir.OpBranchConditional {
			continue
		}
		if term.TrueTarget() == l.Merge().Id() || term.FalseTarget() == l.Merge().Id() {
			return bb
		}
	}
	return nil
}

// coreBlocks is a loop's body with the header block removed: the check,
// any interior body blocks, and the latch. Chaining clones of just these
// blocks, skipping the phi-carrying header, turns an iteration into
// straight-line code once the induction value is supplied directly.
func coreBlocks(l *loop.Loop) []*ir.BasicBlock {
	header := l.Header()
	all := l.Blocks()
	out := make([]*ir.BasicBlock, 0, len(all))
	for _, bb := range all {
		if bb != header {
			out = append(out, bb)
		}
	}
	return out
}

// interiorBlocks is coreBlocks with the check and latch also removed:
// whatever a loop does between testing its bound and advancing its
// induction variable. PartialUnroll replicates only this slice.
func interiorBlocks(l *loop.Loop) []*ir.BasicBlock {
	cond := conditionBlock(l)
	latch := l.Latch()
	var out []*ir.BasicBlock
	for _, bb := range coreBlocks(l) {
		if bb == cond || bb == latch {
			continue
		}
		out = append(out, bb)
	}
	return out
}

// simpleLoopShape reports whether l has exactly the canonical
// header/check/body.../latch shape this package's chaining transforms
// rewire: a single header phi (the recognised induction variable) and one
// conditional exit test. Anything else is declined rather than risk
// miscompiling a shape the chaining logic doesn't model.
func simpleLoopShape(l *loop.Loop) (*loop.InductionVariable, bool) {
	iv, ok := l.InductionVariable()
	if !ok {
		return nil, false
	}
	if len(l.Header().Phis()) != 1 {
		return nil, false
	}
	if conditionBlock(l) == nil {
		return nil, false
	}
	return iv, true
}

// cloneIteration clones l's core blocks (everything but the header) once,
// substituting current for every reference to the induction phi's result,
// and returns the clone plus the id now holding the post-increment value.
func cloneIteration(module *ir.Module, l *loop.Loop, iv *loop.InductionVariable, current ir.Id) (*loop.CloneResult, ir.Id) {
	seed := map[ir.Id]ir.Id{iv.Phi.ResultId: current}
	res := loop.CloneBlockSet(module, coreBlocks(l), seed)
	next, ok := res.Rewrite[iv.StepInst.ResultId]
	if !ok {
		next = iv.StepInst.ResultId
	}
	return res, next
}

// nameIteration attaches a debug name to a cloned block so a textual dump
// of an unrolled or peeled function stays readable once dozens of
// near-identical blocks have been spliced in.
func nameIteration(module *ir.Module, bb *ir.BasicBlock, base string, index int) {
	name := fmt.Sprintf("%s.%d", strcase.ToSnake(base), index)
	module.DebugInsts = append(module.DebugInsts, module.NewInstruction(ir.OpName, ir.NoId, ir.NoId,
		ir.MakeIdOperand(bb.Id()), ir.MakeStringOperand(name)))
}
