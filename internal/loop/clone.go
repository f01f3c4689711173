package loop

import "spirvopt/internal/ir"

// CloneResult is the output of CloneLoop: the newly cloned blocks, in the
// same reverse-post order as the source loop's Blocks(), plus the id
// rewrite table used to produce them. Callers splice Blocks into the
// function and retarget branches differently depending on whether they
// are unrolling, peeling, or fissioning, so CloneLoop itself does neither.
type CloneResult struct {
	Blocks  []*ir.BasicBlock
	Rewrite map[ir.Id]ir.Id
}

// CloneLoop clones every block of l's body (header through latch,
// excluding the merge block) into freshly allocated blocks with freshly
// allocated result ids, rewriting internal references (branch targets,
// phi incoming values, arithmetic operands) to point at the clones.
// References to values defined outside the loop are left untouched,
// since they are still valid wherever the clone is spliced in.
//
// Branches leaving the loop (to the merge block, or out of an inner
// break) are cloned as-is, still targeting the original merge block;
// callers that need the clone to loop back on itself or skip to a
// different successor retarget those edges after CloneLoop returns.
func CloneLoop(module *ir.Module, l *Loop) *CloneResult {
	return CloneBlockSet(module, l.Blocks(), nil)
}

// CloneBlockSet clones an arbitrary connected set of blocks (typically a
// whole loop body, or a loop body minus its header) as a unit, pre-seeding
// rewrite (which may already carry caller-supplied substitutions, e.g. an
// induction phi's result id standing in for a concrete per-iteration value)
// with a fresh id for every block's label before cloning any instruction
// body. Without this pre-registration a block that branches forward to a
// later sibling would still target the original, since Module.Clone
// resolves an operand's rewrite at the moment it is cloned, not when the
// target is cloned.
func CloneBlockSet(module *ir.Module, src []*ir.BasicBlock, seed map[ir.Id]ir.Id) *CloneResult {
	rewrite := make(map[ir.Id]ir.Id)
	for k, v := range seed {
		rewrite[k] = v
	}
	for _, bb := range src {
		if _, ok := rewrite[bb.Id()]; !ok {
			rewrite[bb.Id()] = module.TakeNextId()
		}
	}
	blocks := make([]*ir.BasicBlock, len(src))
	for i, bb := range src {
		blocks[i] = module.CloneBasicBlock(bb, rewrite)
	}
	return &CloneResult{Blocks: blocks, Rewrite: rewrite}
}

// RetargetBranches rewrites every branch/merge/phi-incoming-block operand
// in blocks that names oldTarget to instead name newTarget. Used after
// CloneLoop to redirect a clone's back-edge or exit edge.
func RetargetBranches(blocks []*ir.BasicBlock, oldTarget, newTarget ir.Id) {
	for _, bb := range blocks {
		for _, inst := range bb.Instructions() {
			ir.RewriteOperands(inst, oldTarget, newTarget)
		}
	}
}

// BlockByOldId looks up the clone of the block that had id oldId in the
// source loop, using the rewrite table CloneLoop produced.
func (r *CloneResult) BlockByOldId(oldId ir.Id) *ir.BasicBlock {
	newId, ok := r.Rewrite[oldId]
	if !ok {
		return nil
	}
	for _, bb := range r.Blocks {
		if bb.Id() == newId {
			return bb
		}
	}
	return nil
}
