package ir

// Effect classifies the side effect of an instruction's opcode. LICM
// and loop fission's movable whitelist are
// both built on this classification rather than a growing ad hoc switch
// per transform.
type Effect int

const (
	EffectPure Effect = iota
	EffectMemoryRead
	EffectMemoryWrite
	EffectBarrier // atomics, control/memory barriers, calls: conservatively opaque
)

var opcodeEffects = map[Opcode]Effect{
	OpLoad:  EffectMemoryRead,
	OpStore: EffectMemoryWrite,

	OpFunctionCall:     EffectBarrier,
	OpAtomicIAdd:       EffectBarrier,
	OpAtomicIIncrement: EffectBarrier,
	OpControlBarrier:   EffectBarrier,
	OpMemoryBarrier:    EffectBarrier,
	OpExtInst:          EffectBarrier,
}

// EffectOf classifies inst. Anything absent from the table (constants,
// access chains, arithmetic, comparisons, phi, labels, merges) is pure.
func EffectOf(inst *Instruction) Effect {
	if e, ok := opcodeEffects[inst.Opcode]; ok {
		return e
	}
	return EffectPure
}

// IsSideEffecting reports whether inst must not be reordered past another
// side-effecting instruction or speculated (hoisted past a guard).
func IsSideEffecting(inst *Instruction) bool {
	switch EffectOf(inst) {
	case EffectMemoryWrite, EffectBarrier:
		return true
	}
	return false
}

// pureArithmetic is the opcode set loop fission's movable whitelist treats
// as "pure arithmetic".
var pureArithmetic = map[Opcode]bool{
	OpIAdd: true, OpISub: true, OpIMul: true, OpSDiv: true, OpUDiv: true,
	OpSMod: true, OpUMod: true, OpFAdd: true, OpFSub: true, OpFMul: true, OpFDiv: true,
	OpSLessThan: true, OpSLessThanEqual: true, OpSGreaterThan: true, OpSGreaterThanEqual: true,
	OpULessThan: true, OpULessThanEqual: true, OpUGreaterThan: true, OpUGreaterThanEqual: true,
	OpIEqual: true, OpINotEqual: true, OpLogicalAnd: true, OpLogicalOr: true,
	OpLogicalNot: true, OpLogicalEqual: true, OpSelect: true, OpBitcast: true,
	OpConvertFToS: true, OpConvertSToF: true, OpSNegate: true,
	OpAccessChain: true, OpInBoundsAccessChain: true, OpConstant: true, OpUndef: true,
}

// IsMovable reports whether inst is in fission's movable whitelist: load,
// store, selection-merge, phi, and pure arithmetic. Branches and anything
// with an effect outside that whitelist are never movable.
func IsMovable(inst *Instruction) bool {
	switch inst.Opcode {
	case OpLoad, OpStore, OpSelectionMerge, OpPhi:
		return true
	}
	return pureArithmetic[inst.Opcode]
}

// IsLoopInvariantCandidate reports whether inst, considered purely by its
// own opcode (not yet by operand provenance), is a candidate for LICM
// hoisting: not a phi, terminator or merge instruction, and pure (no
// memory read or write, no barrier; loads are never candidates).
func IsLoopInvariantCandidate(inst *Instruction) bool {
	if inst.Opcode == OpPhi || inst.IsTerminator() || inst.IsMerge() {
		return false
	}
	return EffectOf(inst) == EffectPure
}
