package ir

// Clone produces an unowned copy of inst with a fresh UniqueId. TypeId and
// id operands are rewritten through rewrite (leaving unmapped ids, i.e. ids
// defined outside the region being cloned, untouched). If the original has
// a result, the clone takes rewrite's existing mapping for it, or else a
// newly allocated id that Clone itself records in rewrite, so anything
// cloned later through the same map refers to the copy.
//
// This is the single clone primitive loop unrolling, unswitching and
// fission all share.
func (m *Module) Clone(inst *Instruction, rewrite map[Id]Id) *Instruction {
	clone := m.NewInstruction(inst.Opcode, remapId(inst.TypeId, rewrite), inst.ResultId)
	clone.Operands = make([]Operand, len(inst.Operands))
	for i, op := range inst.Operands {
		if op.Type == OperandIdRef {
			clone.Operands[i] = MakeIdOperand(remapId(op.AsId(), rewrite))
		} else {
			clone.Operands[i] = op
		}
	}
	if inst.HasResult() {
		if newId, ok := rewrite[inst.ResultId]; ok {
			clone.ResultId = newId
		} else {
			clone.ResultId = m.TakeNextId()
			rewrite[inst.ResultId] = clone.ResultId
		}
	}
	clone.DebugLines = append([]*Instruction{}, inst.DebugLines...)
	return clone
}

func remapId(id Id, rewrite map[Id]Id) Id {
	if id == NoId {
		return NoId
	}
	if newId, ok := rewrite[id]; ok {
		return newId
	}
	return id
}

// CloneBasicBlock clones every instruction of src, including its label,
// into a freshly allocated block. Branch targets inside the clone are left
// as the rewritten ids if the target block has already been cloned and
// registered in rewrite; callers doing whole-region clones (unroll,
// unswitch, fission) must clone blocks in an order, or do a second fixup
// pass, that resolves forward references.
func (m *Module) CloneBasicBlock(src *BasicBlock, rewrite map[Id]Id) *BasicBlock {
	labelClone := m.Clone(src.label, rewrite)
	bb := NewBasicBlock(labelClone)
	for _, inst := range src.Instructions() {
		instClone := m.Clone(inst, rewrite)
		bb.AddInstruction(instClone)
	}
	return bb
}

// RewriteOperands replaces every id-ref operand of inst (but not its
// result or type id) matching old with new.
func RewriteOperands(inst *Instruction, old, new Id) bool {
	changed := false
	for i, op := range inst.Operands {
		if op.Type == OperandIdRef && op.AsId() == old {
			inst.Operands[i] = MakeIdOperand(new)
			changed = true
		}
	}
	return changed
}
