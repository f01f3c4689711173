package transform

import (
	"fmt"

	"spirvopt/internal/diagnostics"
	"spirvopt/internal/ir"
	"spirvopt/internal/irctx"
)

// VerifyCFG checks the structured control-flow invariants SPIR-V imposes on
// fn's blocks, grounded on dominator_analysis_pass.h's
// Dominates/StrictlyDominates primitives: every header must strictly
// dominate its own merge block, a loop header's continue target must
// exist and differ from its merge block, and every branch target named
// anywhere in the function must resolve to one of its own blocks. It is
// not itself a Pass, and PassManager.Run does not call it between passes:
// cmd/spirvopt runs it over every function once the whole pipeline has
// finished, and the introspection server does the same when
// Context.Strict is set, so a broken function is reported against the
// pipeline as a whole, not against the pass that broke it. This narrows the real verifier's full rule set (merge
// instruction placement relative to OpPhi, nesting of selection and loop
// constructs, exit-block uniqueness) to the handful of invariants this
// repository's transforms can plausibly violate by construction.
func VerifyCFG(c *irctx.Context, fn *ir.Function) *diagnostics.Error {
	dom := c.Dominator(fn)
	blocks := make(map[ir.Id]*ir.BasicBlock, len(fn.Blocks))
	for _, bb := range fn.Blocks {
		blocks[bb.Id()] = bb
	}

	for _, bb := range fn.Blocks {
		term := bb.Terminator()
		if term == nil {
			return verifyFail("block %d has no terminator", bb.Id())
		}
		for _, target := range term.Successors() {
			if _, ok := blocks[target]; !ok {
				return verifyFail("block %d branches to %d, which is not a block of this function", bb.Id(), target)
			}
		}

		merge := bb.MergeInst()
		if merge == nil {
			continue
		}
		mergeTarget := merge.Operands[0].AsId()
		if _, ok := blocks[mergeTarget]; !ok {
			return verifyFail("header %d declares merge block %d, which does not exist", bb.Id(), mergeTarget)
		}
		if mergeTarget == bb.Id() {
			return verifyFail("block %d cannot be its own merge block", bb.Id())
		}
		if dom.IsReachable(mergeTarget) && !dom.StrictlyDominates(bb.Id(), mergeTarget) {
			return verifyFail("header %d does not strictly dominate its merge block %d", bb.Id(), mergeTarget)
		}

		if merge.Opcode != ir.OpLoopMerge {
			continue
		}
		continueTarget := merge.Operands[1].AsId()
		if _, ok := blocks[continueTarget]; !ok {
			return verifyFail("loop header %d declares continue target %d, which does not exist", bb.Id(), continueTarget)
		}
		if continueTarget == mergeTarget {
			return verifyFail("loop header %d uses block %d as both its merge and continue target", bb.Id(), mergeTarget)
		}
	}
	return nil
}

func verifyFail(format string, args ...interface{}) *diagnostics.Error {
	return diagnostics.New(diagnostics.TStructuralVerificationFailed, fmt.Sprintf(format, args...))
}
