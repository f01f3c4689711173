package transform

import (
	"spirvopt/internal/ir"
	"spirvopt/internal/irctx"
	"spirvopt/internal/loop"
)

// Unroll is the loop-unrolling transform, mirroring loop_unroller.cpp's
// two strategies: fully unroll a loop whose trip count is known and small
// enough, or otherwise replicate its body in place Factor times per
// physical iteration. A loop with a known but too-large trip count that
// isn't evenly divisible by Factor falls back to peeling Factor iterations
// off the front instead, so some benefit is still extracted.
type Unroll struct {
	// MaxFullUnrollTripCount bounds how large a statically known trip
	// count may be before FullUnroll is attempted. Zero uses a default
	// of 32.
	MaxFullUnrollTripCount int
	// Factor is the in-place replication factor PartialUnroll uses, and
	// the fallback peel count when full or partial unrolling can't apply.
	// Zero or one disables both.
	Factor int
}

func (Unroll) Name() string           { return "loop-unrolling" }
func (Unroll) Preserve() []irctx.Kind { return nil }

func (u Unroll) Run(c *irctx.Context) irctx.Result {
	max := u.MaxFullUnrollTripCount
	if max <= 0 {
		max = 32
	}
	changed := false
	for _, fn := range c.Module().Functions {
		d := c.LoopDescriptor(fn)
		for _, l := range innermostFirst(d) {
			if FullUnroll(c, l, int64(max)) {
				changed = true
				continue
			}
			if u.Factor > 1 && PartialUnroll(c, l, u.Factor) {
				changed = true
				continue
			}
			if u.Factor > 1 && PeelBefore(c, l, u.Factor) {
				changed = true
			}
		}
	}
	return irctx.Ok(changed)
}

// FullUnroll replaces l with maxTripCount-bounded straight-line code: one
// clone of the loop body per iteration, chained by substituting each
// clone's induction value directly rather than carrying it through the
// header phi, with the final clone's back edge redirected to the loop
// merge instead of looping again. It declines, returning false, unless
// l's trip count is known exactly and does not exceed maxTripCount.
func FullUnroll(c *irctx.Context, l *loop.Loop, maxTripCount int64) bool {
	iv, ok := simpleLoopShape(l)
	if !ok {
		return false
	}
	tripCount, ok := iv.TripCount()
	if !ok || tripCount <= 0 || tripCount > maxTripCount {
		return false
	}

	module := c.Module()
	header := l.Header()
	fn := header.Function()
	preHeader := l.PreHeader()
	merge := l.Merge()
	cond := conditionBlock(l)
	latchId := l.Latch().Id()

	cursor := preHeader
	prevBlock := preHeader
	current := iv.Init.ResultId
	var lastLatchClone *ir.BasicBlock

	for i := int64(0); i < tripCount; i++ {
		res, next := cloneIteration(module, l, iv, current)
		clonedCheck := res.BlockByOldId(cond.Id())
		clonedLatch := res.BlockByOldId(latchId)
		if clonedCheck == nil || clonedLatch == nil {
			return false
		}

		loop.RetargetBranches([]*ir.BasicBlock{prevBlock}, header.Id(), clonedCheck.Id())

		// The trip count is exact, so every one of these tripCount checks
		// is statically known to take its body arm; fold it to an
		// unconditional branch and drop the stale edge the clone would
		// otherwise still carry into merge.
		collapseCheckToBody(module, clonedCheck, merge.Id())

		for _, bb := range res.Blocks {
			fn.InsertBasicBlockAfter(cursor, bb)
			cursor = bb
			nameIteration(module, bb, "unroll", int(i))
		}

		prevBlock = clonedLatch
		lastLatchClone = clonedLatch
		current = next
	}

	// The trip count is exact, so the final clone never actually branches
	// back into a header check that would fail; point it straight at the
	// merge instead of re-creating the header this unroll just replaced.
	loop.RetargetBranches([]*ir.BasicBlock{lastLatchClone}, header.Id(), merge.Id())

	// merge's only predecessor used to be the original check block (taking
	// its exit arm); now it's the last clone's latch instead, so any phi
	// merge carries needs that incoming edge's predecessor operand moved
	// over, not just the value it resolves to.
	retargetPhiPredecessor(merge, cond.Id(), lastLatchClone.Id())

	// Anything reading the induction variable after the loop now reads
	// the value the final clone left behind. ReplaceAllUsesWith is a no-op
	// unless def-use is already cached, and the header this is about to
	// remove is exactly the phi's only definition, so force it valid first.
	c.DefUse()
	c.ReplaceAllUsesWith(iv.Phi.ResultId, current)

	fn.RemoveBasicBlock(header)
	for _, bb := range coreBlocks(l) {
		fn.RemoveBasicBlock(bb)
	}
	return true
}

// collapseCheckToBody replaces check's OpBranchConditional with an
// unconditional branch to whichever target isn't mergeId, since a
// full-unroll check's outcome is always known statically: every cloned
// iteration takes its body arm, and the one case that would exit (past
// the final iteration) is handled separately by redirecting the last
// clone's latch straight to merge.
func collapseCheckToBody(module *ir.Module, check *ir.BasicBlock, mergeId ir.Id) {
	term := check.Terminator()
	target := term.TrueTarget()
	if target == mergeId {
		target = term.FalseTarget()
	}
	check.KillInstruction(term)
	check.AddInstruction(module.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(target)))
}

// retargetPhiPredecessor rewrites bb's phi incoming-block operands that
// name oldPred to name newPred instead, for when a transform changes
// which block actually branches into bb without changing the value that
// edge carries.
func retargetPhiPredecessor(bb *ir.BasicBlock, oldPred, newPred ir.Id) {
	for _, phi := range bb.Phis() {
		for i := 0; i+1 < len(phi.Operands); i += 2 {
			if phi.Operands[i+1].AsId() == oldPred {
				phi.Operands[i+1] = ir.MakeIdOperand(newPred)
			}
		}
	}
}

// PartialUnroll replicates l's interior body (the blocks between its
// bound check and its latch) Factor-1 extra times inside a single physical
// iteration, chaining the clones by explicit per-sub-iteration increments
// of the induction variable and rewriting the latch to add Factor steps at
// once. This is sound without proving anything about the bound check's
// outcome only because the trip count is known to be an exact multiple of
// Factor: the loop still runs the same total number of logical iterations,
// just Factor of them per physical pass, so the existing dynamic check
// keeps working unmodified. It declines, returning false, whenever the
// trip count isn't known or doesn't divide evenly.
func PartialUnroll(c *irctx.Context, l *loop.Loop, factor int) bool {
	if factor < 2 {
		return false
	}
	iv, ok := simpleLoopShape(l)
	if !ok {
		return false
	}
	tripCount, known := iv.TripCount()
	if !known || tripCount == 0 || tripCount%int64(factor) != 0 {
		return false
	}
	interior := interiorBlocks(l)
	if len(interior) == 0 {
		return false
	}

	module := c.Module()
	fn := l.Header().Function()
	latch := l.Latch()

	cursor := interior[len(interior)-1]
	prevEnd := cursor
	current := iv.Phi.ResultId

	for j := 1; j < factor; j++ {
		newInc := module.Clone(iv.StepInst, map[ir.Id]ir.Id{iv.Phi.ResultId: current})
		ir.InsertBeforeTerminator(prevEnd, newInc)

		seed := map[ir.Id]ir.Id{iv.Phi.ResultId: newInc.ResultId}
		res := loop.CloneBlockSet(module, interior, seed)
		loop.RetargetBranches([]*ir.BasicBlock{prevEnd}, latch.Id(), res.Blocks[0].Id())

		for _, bb := range res.Blocks {
			fn.InsertBasicBlockAfter(cursor, bb)
			cursor = bb
			nameIteration(module, bb, "unroll_partial", j)
		}

		prevEnd = res.Blocks[len(res.Blocks)-1]
		current = newInc.ResultId
	}

	ir.RewriteOperands(iv.StepInst, iv.Phi.ResultId, current)
	return true
}
