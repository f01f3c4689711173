package ir

// Builder is a small insertion-point helper used by testasm and by the
// transforms in internal/transform to append or splice instructions
// without every caller re-deriving block/id plumbing by hand.
type Builder struct {
	module *Module
	block  *BasicBlock
}

// NewBuilder creates a builder appending to block.
func NewBuilder(module *Module, block *BasicBlock) *Builder {
	return &Builder{module: module, block: block}
}

// SetBlock redirects subsequent Emit calls to block.
func (b *Builder) SetBlock(block *BasicBlock) { b.block = block }

// Emit allocates, appends, and returns a new instruction in the builder's
// current block.
func (b *Builder) Emit(op Opcode, typeId Id, hasResult bool, operands ...Operand) *Instruction {
	var resultId Id
	if hasResult {
		resultId = b.module.TakeNextId()
	}
	inst := b.module.NewInstruction(op, typeId, resultId, operands...)
	b.block.AddInstruction(inst)
	return inst
}

// EmitLabel starts a new block with a fresh label id and returns it,
// without attaching it to any function (the caller decides placement).
func (b *Builder) EmitLabel() *BasicBlock {
	label := b.module.NewInstruction(OpLabel, NoId, b.module.TakeNextId())
	return NewBasicBlock(label)
}

// InsertBeforeTerminator inserts inst immediately before block's
// terminator (or merge instruction, if present, since the merge must stay
// adjacent to the terminator). This is the hoist point LICM and every
// other transform's hoisting code uses.
func InsertBeforeTerminator(block *BasicBlock, inst *Instruction) {
	if inst.block != nil && inst.block != block {
		inst.block.InstructionList().Remove(inst)
	}
	anchor := block.MergeInst()
	if anchor == nil {
		anchor = block.Terminator()
	}
	if anchor == nil {
		block.AddInstruction(inst)
		return
	}
	inst.block = block
	block.InstructionList().InsertBefore(anchor, inst)
}

// MoveBefore relocates inst (already present somewhere in its own block)
// to immediately before target within target's block.
func MoveBefore(inst, target *Instruction) {
	if inst.block != nil {
		inst.block.InstructionList().Remove(inst)
	}
	inst.block = target.block
	target.block.InstructionList().InsertBefore(target, inst)
}

// ReplaceTerminator swaps block's terminator for newTerm, discarding the
// old one. The merge instruction, if any, is left untouched.
func ReplaceTerminator(block *BasicBlock, newTerm *Instruction) {
	if old := block.Terminator(); old != nil {
		block.InstructionList().Remove(old)
	}
	block.AddInstruction(newTerm)
}
