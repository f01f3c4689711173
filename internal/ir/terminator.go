package ir

// Successors returns the block ids inst branches to, in an order stable
// enough for tests (true before false; for OpSwitch the default target
// first, then the cases in order). Non-terminators return nil.
func (i *Instruction) Successors() []Id {
	switch i.Opcode {
	case OpBranch:
		return []Id{i.Operands[0].AsId()}
	case OpBranchConditional:
		return []Id{i.Operands[1].AsId(), i.Operands[2].AsId()}
	case OpSwitch:
		succs := []Id{i.Operands[1].AsId()} // default
		for idx := 2; idx+1 < len(i.Operands); idx += 2 {
			succs = append(succs, i.Operands[idx+1].AsId())
		}
		return succs
	default:
		return nil
	}
}

// TrueTarget/FalseTarget are convenient accessors for OpBranchConditional,
// used heavily by induction-variable recognition.
func (i *Instruction) TrueTarget() Id  { return i.Operands[1].AsId() }
func (i *Instruction) FalseTarget() Id { return i.Operands[2].AsId() }
func (i *Instruction) Condition() Id   { return i.Operands[0].AsId() }

// LoopMergeTargets decodes an OpLoopMerge's merge block and continue
// target (operand 0 and 1, step 2).
func (i *Instruction) LoopMergeTargets() (merge, continueTarget Id) {
	return i.Operands[0].AsId(), i.Operands[1].AsId()
}

// SelectionMergeTarget decodes an OpSelectionMerge's merge block.
func (i *Instruction) SelectionMergeTarget() Id {
	return i.Operands[0].AsId()
}
