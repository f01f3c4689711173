package transform

import (
	"spirvopt/internal/analysis"
	"spirvopt/internal/ir"
	"spirvopt/internal/irctx"
	"spirvopt/internal/loop"
)

// Unswitch is loop unswitching: when a conditional branch inside a loop
// tests a condition that is loop-invariant, the loop is cloned once per
// outcome, each clone's copy of that branch is specialized to an
// unconditional jump to the outcome it was cloned for, and the original
// pre-header is turned into the selection that picks which clone runs.
// This moves the branch's cost out of the loop entirely instead of paying
// it on every iteration. Grounded on
// loop_unswitch_pass.cpp's overall Process/ProcessLoop structure; the
// legality analysis there (SwitchBlocksEqual, dominance of the hoisted
// condition, nested-selection handling) is narrowed here to the
// conditions simpleSwitchCandidate can actually prove sound: a
// conditional branch with no selection merge of its own, whose condition
// is defined outside the loop, in a loop whose merge block carries no
// phi (so neither clone can leave behind a value the other must also
// produce).
type Unswitch struct{}

func (Unswitch) Name() string           { return "loop-unswitching" }
func (Unswitch) Preserve() []irctx.Kind { return nil }

func (Unswitch) Run(c *irctx.Context) irctx.Result {
	changed := false
	for _, fn := range c.Module().Functions {
		for {
			d := c.LoopDescriptor(fn)
			progressed := false
			for _, l := range d.Loops() {
				if unswitchOne(c, fn, l) {
					progressed = true
					changed = true
					c.InvalidateAll()
					break
				}
			}
			if !progressed {
				break
			}
		}
	}
	return irctx.Ok(changed)
}

// simpleSwitchCandidate finds a block in l's body, other than the header,
// whose terminator is a plain conditional branch (no selection merge of
// its own) testing a condition defined outside the loop.
func simpleSwitchCandidate(l *loop.Loop, duse *analysis.DefUseManager) *ir.BasicBlock {
	inLoop := make(map[ir.Id]bool)
	for _, bb := range l.Blocks() {
		inLoop[bb.Id()] = true
	}
	for _, bb := range l.Blocks() {
		if bb == l.Header() {
			continue
		}
		term := bb.Terminator()
		if term == nil || term.Opcode != ir.OpBranchConditional {
			continue
		}
		if bb.MergeInst() != nil {
			continue
		}
		def := duse.GetDef(term.Condition())
		if def != nil {
			if defBlock := def.Block(); defBlock != nil && inLoop[defBlock.Id()] {
				continue
			}
		}
		return bb
	}
	return nil
}

// unswitchOne unswitches at most one invariant branch of l, returning
// whether it found one to act on.
func unswitchOne(c *irctx.Context, fn *ir.Function, l *loop.Loop) bool {
	if len(l.Merge().Phis()) != 0 {
		return false
	}
	switchBlock := simpleSwitchCandidate(l, c.DefUse())
	if switchBlock == nil {
		return false
	}

	term := switchBlock.Terminator()
	cond := term.Condition()
	trueTarget := term.TrueTarget()
	falseTarget := term.FalseTarget()

	module := c.Module()
	preHeader := l.PreHeader()
	header := l.Header()
	merge := l.Merge()

	trueClone := loop.CloneLoop(module, l)
	specializeBranch(module, trueClone, switchBlock.Id(), trueTarget)
	pruneDeadBlocks(trueClone, trueClone.BlockByOldId(header.Id()))
	falseClone := loop.CloneLoop(module, l)
	specializeBranch(module, falseClone, switchBlock.Id(), falseTarget)
	pruneDeadBlocks(falseClone, falseClone.BlockByOldId(header.Id()))

	cursor := preHeader
	for i, bb := range trueClone.Blocks {
		fn.InsertBasicBlockAfter(cursor, bb)
		cursor = bb
		nameIteration(module, bb, "unswitch_true", i)
	}
	for i, bb := range falseClone.Blocks {
		fn.InsertBasicBlockAfter(cursor, bb)
		cursor = bb
		nameIteration(module, bb, "unswitch_false", i)
	}

	trueHeader := trueClone.BlockByOldId(header.Id())
	falseHeader := falseClone.BlockByOldId(header.Id())

	old := preHeader.Terminator()
	preHeader.KillInstruction(old)
	preHeader.AddInstruction(module.NewInstruction(ir.OpSelectionMerge, ir.NoId, ir.NoId,
		ir.MakeIdOperand(merge.Id()), ir.MakeLiteralOperand(0)))
	preHeader.AddInstruction(module.NewInstruction(ir.OpBranchConditional, ir.NoId, ir.NoId,
		ir.MakeIdOperand(cond), ir.MakeIdOperand(trueHeader.Id()), ir.MakeIdOperand(falseHeader.Id())))

	fn.RemoveBasicBlock(header)
	for _, bb := range coreBlocks(l) {
		fn.RemoveBasicBlock(bb)
	}
	return true
}

// specializeBranch replaces the clone of oldSwitchId's conditional
// terminator with an unconditional branch to target (mapped through the
// clone's rewrite table, since target may itself be a block the clone
// also produced a fresh id for).
func specializeBranch(module *ir.Module, res *loop.CloneResult, oldSwitchId, target ir.Id) {
	clonedSwitch := res.BlockByOldId(oldSwitchId)
	old := clonedSwitch.Terminator()
	clonedSwitch.KillInstruction(old)
	newTarget := target
	if remapped, ok := res.Rewrite[target]; ok {
		newTarget = remapped
	}
	clonedSwitch.AddInstruction(module.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(newTarget)))
}

// pruneDeadBlocks walks res's blocks from header and drops anything
// unreachable, which after specializeBranch is exactly the sibling arm
// the clone was not specialized for. Any surviving block's phi that still
// names a dropped block as a predecessor has that incoming pair removed,
// so a value merged back in after the dead arm (e.g. at a shared
// convergence block below it) keeps only the live arm's operand.
func pruneDeadBlocks(res *loop.CloneResult, header *ir.BasicBlock) {
	byId := make(map[ir.Id]*ir.BasicBlock, len(res.Blocks))
	for _, bb := range res.Blocks {
		byId[bb.Id()] = bb
	}

	reachable := map[ir.Id]bool{header.Id(): true}
	queue := []*ir.BasicBlock{header}
	for len(queue) > 0 {
		bb := queue[0]
		queue = queue[1:]
		term := bb.Terminator()
		if term == nil {
			continue
		}
		for _, succ := range term.Successors() {
			if reachable[succ] {
				continue
			}
			next, ok := byId[succ]
			if !ok {
				continue // leaves the clone (e.g. the loop's merge block)
			}
			reachable[succ] = true
			queue = append(queue, next)
		}
	}

	var kept []*ir.BasicBlock
	for _, bb := range res.Blocks {
		if reachable[bb.Id()] {
			kept = append(kept, bb)
		}
	}
	for _, bb := range res.Blocks {
		if reachable[bb.Id()] {
			continue
		}
		for _, survivor := range kept {
			prunePhiPredecessor(survivor, bb.Id())
		}
	}
	res.Blocks = kept
}

// prunePhiPredecessor removes any (value, predecessor) operand pair in
// bb's phis naming dead as the predecessor block.
func prunePhiPredecessor(bb *ir.BasicBlock, dead ir.Id) {
	for _, phi := range bb.Phis() {
		kept := make([]ir.Operand, 0, len(phi.Operands))
		for i := 0; i+1 < len(phi.Operands); i += 2 {
			if phi.Operands[i+1].AsId() == dead {
				continue
			}
			kept = append(kept, phi.Operands[i], phi.Operands[i+1])
		}
		phi.Operands = kept
	}
}
