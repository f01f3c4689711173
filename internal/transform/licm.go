// Package transform holds the loop transformations (LICM, unrolling,
// unswitching, fission) plus the peeling helper they share, all built
// against internal/irctx so mutation and analysis invalidation stay
// consistent across a transform's own sub-steps.
package transform

import (
	"spirvopt/internal/analysis"
	"spirvopt/internal/ir"
	"spirvopt/internal/irctx"
	"spirvopt/internal/loop"
)

// LICM is loop-invariant code motion: for every loop, innermost first,
// hoist every instruction that ir.IsLoopInvariantCandidate accepts (pure:
// not a phi, terminator, merge, load, store or barrier) and whose operands
// are all already outside the loop, to immediately before the pre-header's
// terminator.
type LICM struct{}

func (LICM) Name() string           { return "loop-invariant-code-motion" }
func (LICM) Preserve() []irctx.Kind { return []irctx.Kind{irctx.KindLoop} }

func (LICM) Run(c *irctx.Context) irctx.Result {
	if !c.Module().ExtensionsAccepted() {
		return irctx.Ok(false)
	}
	changed := false
	for _, fn := range c.Module().Functions {
		loops := c.LoopDescriptor(fn)
		for _, l := range innermostFirst(loops) {
			if hoistInvariants(c, l) {
				changed = true
			}
		}
	}
	return irctx.Ok(changed)
}

// innermostFirst orders a function's loops so every loop is visited after
// all of its nested children, mirroring licm_pass.cpp's ProcessLoop
// recursing into nested loops before processing its own body.
func innermostFirst(d *loop.Descriptor) []*loop.Loop {
	var order []*loop.Loop
	var visit func(l *loop.Loop)
	visit = func(l *loop.Loop) {
		for _, child := range l.Children() {
			visit(child)
		}
		order = append(order, l)
	}
	for _, l := range d.Loops() {
		if !l.IsNested() {
			visit(l)
		}
	}
	return order
}

// hoistInvariants gathers every immediately invariant instruction in the
// loop body into a work queue, hoists each one to the pre-header, then
// re-checks its users since hoisting can make a previously-blocked user
// invariant too.
func hoistInvariants(c *irctx.Context, l *loop.Loop) bool {
	duse := c.DefUse()
	inLoop := make(map[ir.Id]bool)
	for _, bb := range l.Blocks() {
		inLoop[bb.Id()] = true
	}

	queue := gatherInvariants(l, inLoop, duse)
	if len(queue) == 0 {
		return false
	}
	preHeader := l.PreHeader()

	enqueued := make(map[uint64]bool)
	for _, inst := range queue {
		enqueued[inst.UniqueId] = true
	}

	for len(queue) > 0 {
		inst := queue[0]
		queue = queue[1:]

		ir.InsertBeforeTerminator(preHeader, inst)
		c.SetInstrBlock(inst, preHeader)

		duse.ForEachUser(inst, func(user *ir.Instruction) bool {
			bb := c.InstrBlock(user)
			if bb == nil || !inLoop[bb.Id()] {
				return true
			}
			if enqueued[user.UniqueId] {
				return true
			}
			if isInvariant(user, inLoop, duse) {
				enqueued[user.UniqueId] = true
				queue = append(queue, user)
			}
			return true
		})
	}
	return true
}

// gatherInvariants is the initial linear scan over every instruction in
// the loop body, seeding the work queue hoistInvariants drains.
func gatherInvariants(l *loop.Loop, inLoop map[ir.Id]bool, duse *analysis.DefUseManager) []*ir.Instruction {
	var out []*ir.Instruction
	for _, bb := range l.Blocks() {
		for _, inst := range bb.Instructions() {
			if isInvariant(inst, inLoop, duse) {
				out = append(out, inst)
			}
		}
	}
	return out
}

// isInvariant reports whether inst is a loop-invariant candidate whose
// id-valued operands are all defined outside the loop (inLoop holds the
// ids of the loop's blocks; an already-hoisted definition counts as
// outside because it now sits in the pre-header).
func isInvariant(inst *ir.Instruction, inLoop map[ir.Id]bool, duse *analysis.DefUseManager) bool {
	if !ir.IsLoopInvariantCandidate(inst) {
		return false
	}
	for _, op := range inst.Operands {
		if op.Type != ir.OperandIdRef {
			continue
		}
		def := duse.GetDef(op.AsId())
		if def == nil {
			continue
		}
		if bb := def.Block(); bb != nil && inLoop[bb.Id()] {
			return false
		}
	}
	return true
}
