package loop

import "spirvopt/internal/ir"

// Condition is the loop-exit comparison's orientation, independent of its
// signed/unsigned opcode variant.
type Condition int

const (
	CondUnknown Condition = iota
	CondLessThan
	CondLessEqual
	CondGreaterThan
	CondGreaterEqual
)

func conditionOf(op ir.Opcode) Condition {
	switch op {
	case ir.OpULessThan, ir.OpSLessThan:
		return CondLessThan
	case ir.OpULessThanEqual, ir.OpSLessThanEqual:
		return CondLessEqual
	case ir.OpUGreaterThan, ir.OpSGreaterThan:
		return CondGreaterThan
	case ir.OpUGreaterThanEqual, ir.OpSGreaterThanEqual:
		return CondGreaterEqual
	default:
		return CondUnknown
	}
}

// InductionVariable describes a loop's recognised induction variable:
// its header phi, initial value, per-iteration step, and exit condition.
type InductionVariable struct {
	Phi       *ir.Instruction // the header phi
	Init      *ir.Instruction // value on entry from the pre-header
	StepInst  *ir.Instruction // the add/sub computed in the latch
	Step      int64           // signed step amount
	Condition Condition
	Bound     *ir.Instruction // the other (invariant) operand of the comparison
	condInst  *ir.Instruction
}

// findConditionBlock locates the unique block whose conditional branch
// targets the loop merge directly, covering both while-form (false-target
// is merge) and do-while-form (true-target is merge).
func findConditionBlock(l *Loop) (*ir.BasicBlock, bool, bool) {
	for _, bb := range l.Blocks() {
		term := bb.Terminator()
		if term == nil || term.Opcode != ir.OpBranchConditional {
			continue
		}
		whileForm := term.FalseTarget() == l.merge.Id()
		doWhileForm := term.TrueTarget() == l.merge.Id()
		if whileForm || doWhileForm {
			return bb, whileForm, doWhileForm
		}
	}
	return nil, false, false
}

func constIntOperand(inst *ir.Instruction) (int64, bool) {
	if inst == nil || inst.Opcode != ir.OpConstant || len(inst.Operands) == 0 {
		return 0, false
	}
	return inst.Operands[0].AsInt64(), true
}

// InductionVariable recognises and memoizes the loop's induction variable,
// or reports false if any recognition step fails.
func (l *Loop) InductionVariable() (*InductionVariable, bool) {
	if l.indVarDone {
		return l.indVar, l.indVar != nil
	}
	l.indVarDone = true

	condBlock, _, _ := findConditionBlock(l)
	if condBlock == nil {
		return nil, false
	}
	cmp := l.descriptor.duse.GetDef(condBlock.Terminator().Condition())
	if cmp == nil {
		return nil, false
	}
	cond := conditionOf(cmp.Opcode)
	if cond == CondUnknown || len(cmp.Operands) != 2 {
		return nil, false
	}

	var phi *ir.Instruction
	var boundDef *ir.Instruction
	for idx, operand := range cmp.Operands {
		def := l.descriptor.duse.GetDef(operand.AsId())
		if def != nil && def.Opcode == ir.OpPhi && def.Block() == l.header {
			phi = def
			boundDef = l.descriptor.duse.GetDef(cmp.Operands[1-idx].AsId())
			break
		}
	}
	if phi == nil {
		return nil, false
	}

	preHeaderId := l.PreHeader().Id()
	var init, stepValueDef *ir.Instruction
	for i := 0; i+1 < len(phi.Operands); i += 2 {
		valueId := phi.Operands[i].AsId()
		parentId := phi.Operands[i+1].AsId()
		switch parentId {
		case preHeaderId:
			init = l.descriptor.duse.GetDef(valueId)
		case l.latch.Id():
			stepValueDef = l.descriptor.duse.GetDef(valueId)
		}
	}
	if stepValueDef == nil || (stepValueDef.Opcode != ir.OpIAdd && stepValueDef.Opcode != ir.OpISub) {
		return nil, false
	}
	if len(stepValueDef.Operands) != 2 {
		return nil, false
	}

	var stepConst *ir.Instruction
	phiIsOperand := false
	for _, op := range stepValueDef.Operands {
		if op.AsId() == phi.ResultId {
			phiIsOperand = true
			continue
		}
		stepConst = l.descriptor.duse.GetDef(op.AsId())
	}
	if !phiIsOperand {
		return nil, false
	}
	amount, ok := constIntOperand(stepConst)
	if !ok {
		return nil, false
	}
	if stepValueDef.Opcode == ir.OpISub {
		amount = -amount
	}

	iv := &InductionVariable{
		Phi:       phi,
		Init:      init,
		StepInst:  stepValueDef,
		Step:      amount,
		Condition: cond,
		Bound:     boundDef,
		condInst:  cmp,
	}
	l.indVar = iv
	return iv, true
}

// TripCount computes the closed-form iteration count for a recognised
// induction variable whose initial value and bound both fold to integer
// constants.
func (iv *InductionVariable) TripCount() (int64, bool) {
	if iv.Step == 0 {
		return 0, false
	}
	lo, loOk := constIntOperand(iv.Init)
	hi, hiOk := constIntOperand(iv.Bound)
	if !loOk || !hiOk {
		return 0, false
	}

	var diff, adjust int64
	switch iv.Condition {
	case CondLessThan:
		diff, adjust = hi-lo, 0
	case CondLessEqual:
		diff, adjust = hi-lo, 1
	case CondGreaterThan:
		diff, adjust = lo-hi, 0
	case CondGreaterEqual:
		diff, adjust = lo-hi, 1
	default:
		return 0, false
	}

	s := iv.Step
	if s < 0 {
		s = -s
	}
	if diff+adjust <= 0 {
		return 0, true
	}
	return (diff + adjust) / s, true
}
