package transform

import (
	"spirvopt/internal/ir"
	"spirvopt/internal/irctx"
	"spirvopt/internal/loop"
)

// Peel is the loop-peeling transform: it splits Count leading iterations
// off the front of every eligible loop into straight-line code that runs
// before the still-looping, now-shorter remainder. This is the technique
// loop_peeling.h calls "peeling before", used to expose a condition that
// only holds for a loop's first few iterations to passes run afterward.
// Unroll also reaches for PeelBefore directly when a loop's trip count is
// too large to fully unroll.
type Peel struct {
	// Count is how many leading iterations to peel off each eligible loop.
	Count int
}

func (Peel) Name() string           { return "loop-peeling" }
func (Peel) Preserve() []irctx.Kind { return nil }

func (p Peel) Run(c *irctx.Context) irctx.Result {
	if p.Count <= 0 {
		return irctx.Ok(false)
	}
	changed := false
	for _, fn := range c.Module().Functions {
		d := c.LoopDescriptor(fn)
		for _, l := range d.Loops() {
			if PeelBefore(c, l, p.Count) {
				changed = true
			}
		}
	}
	return irctx.Ok(changed)
}

// PeelBefore peels the first count iterations of l into straight-line code
// executed unconditionally before the remaining loop, rewiring the
// remaining loop's header phi to start from the value the peeled code
// leaves behind. It declines, returning false, for any loop shape the
// chaining preconditions can't establish, or where count is not strictly
// less than a trip count that is known exactly (peeling all of a loop's
// iterations is full unrolling, handled by FullUnroll instead).
func PeelBefore(c *irctx.Context, l *loop.Loop, count int) bool {
	if count <= 0 {
		return false
	}
	iv, ok := simpleLoopShape(l)
	if !ok {
		return false
	}
	if tripCount, known := iv.TripCount(); known && int64(count) >= tripCount {
		return false
	}

	module := c.Module()
	header := l.Header()
	fn := header.Function()
	preHeader := l.PreHeader()
	cond := conditionBlock(l)

	cursor := preHeader
	prevBlock := preHeader
	current := iv.Init.ResultId
	var lastLatchClone *ir.BasicBlock

	for i := 0; i < count; i++ {
		res, next := cloneIteration(module, l, iv, current)
		clonedCheck := res.BlockByOldId(cond.Id())
		clonedLatch := res.BlockByOldId(l.Latch().Id())
		if clonedCheck == nil || clonedLatch == nil {
			return false
		}

		loop.RetargetBranches([]*ir.BasicBlock{prevBlock}, header.Id(), clonedCheck.Id())

		for _, bb := range res.Blocks {
			fn.InsertBasicBlockAfter(cursor, bb)
			cursor = bb
			nameIteration(module, bb, "peel", i)
		}

		prevBlock = clonedLatch
		lastLatchClone = clonedLatch
		current = next
	}

	phi := header.Phis()[0]
	ir.RewriteOperands(phi, preHeader.Id(), lastLatchClone.Id())
	ir.RewriteOperands(phi, iv.Init.ResultId, current)
	return true
}
