package irctx

import "spirvopt/internal/ir"

// TakeNextId allocates a fresh result id from the module's id bound, or
// ir.NoId if the id space is exhausted. Callers treat that as a pass
// Failure, never a panic.
func (c *Context) TakeNextId() ir.Id {
	return c.module.TakeNextId()
}

// KillInst removes inst from its owning block and, if the def-use analysis
// is currently valid, incrementally updates it by erasing inst's own
// definition and every use record it produced. If
// def-use is not valid this is a no-op beyond the block removal: the next
// DefUse() call rebuilds from scratch anyway.
func (c *Context) KillInst(inst *ir.Instruction) {
	if bb := c.InstrBlock(inst); bb != nil {
		bb.KillInstruction(inst)
	}
	if c.valid[KindDefUse] && c.duse != nil {
		c.duse.ClearInst(inst)
	}
	if c.valid[KindInstrToBlock] {
		delete(c.instrBlock, inst.UniqueId)
	}
}

// ReplaceAllUsesWith rewrites every operand referencing oldId to newId,
// incrementally updating the def-use relation if it is currently valid.
// Returns the set of instructions it modified (empty if def-use isn't
// cached, since nothing was tracked for that case to report precisely).
func (c *Context) ReplaceAllUsesWith(oldId, newId ir.Id) map[*ir.Instruction]bool {
	modified := make(map[*ir.Instruction]bool)
	if c.valid[KindDefUse] && c.duse != nil {
		c.duse.ReplaceAllUseOf(oldId, newId, modified)
		return modified
	}
	// Without a cached def-use relation there is no use list to walk
	// incrementally; callers needing this outside an already-analysed
	// context should call DefUse() first.
	return modified
}

// AnalyzeUses registers inst's definition and uses into the def-use
// relation, if currently valid, for an instruction created or spliced in
// after the initial analysis pass.
func (c *Context) AnalyzeUses(inst *ir.Instruction) {
	if c.valid[KindDefUse] && c.duse != nil {
		c.duse.AnalyzeInstDefUse(inst)
	}
	if c.valid[KindInstrToBlock] {
		if bb := inst.Block(); bb != nil {
			c.instrBlock[inst.UniqueId] = bb
		}
	}
}

// SetInstrBlock records that inst now belongs to bb, keeping the
// instruction-to-block cache consistent without touching bb's instruction
// list (callers that also move inst within/between lists do that through
// ir.MoveBefore or BasicBlock.AddInstruction/KillInstruction, which already
// update ir.Instruction's own block pointer; this only refreshes the
// irctx-level cache.
func (c *Context) SetInstrBlock(inst *ir.Instruction, bb *ir.BasicBlock) {
	if c.valid[KindInstrToBlock] {
		c.instrBlock[inst.UniqueId] = bb
	}
}
