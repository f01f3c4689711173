package scalarev

import (
	"spirvopt/internal/analysis"
	"spirvopt/internal/ir"
	"spirvopt/internal/loop"
)

// Analysis is a per-function scalar-evolution analysis: a hash-consed node
// pool plus a per-instruction memo that also breaks the phi self-reference
// cycle a header phi's recurrence would otherwise create.
type Analysis struct {
	duse  *analysis.DefUseManager
	loops *loop.Descriptor
	pool  map[string]*SENode
	memo  map[ir.Id]*SENode
}

// New builds a scalar-evolution analysis for fn, using duse for operand
// resolution and loops for recognising header phis as recurrences.
func New(duse *analysis.DefUseManager, loops *loop.Descriptor) *Analysis {
	return &Analysis{
		duse:  duse,
		loops: loops,
		pool:  make(map[string]*SENode),
		memo:  make(map[ir.Id]*SENode),
	}
}

// intern hash-conses n: if a structurally identical node already exists in
// the pool, that pointer is returned instead of n.
func (a *Analysis) intern(n *SENode) *SENode {
	key := n.key()
	if existing, ok := a.pool[key]; ok {
		return existing
	}
	a.pool[key] = n
	return n
}

func (a *Analysis) constant(v int64) *SENode {
	return a.intern(&SENode{Kind: Constant, Value: v})
}

// NewConstant interns a literal constant node, for callers (the dependence
// analysis) building ad hoc expressions outside of instruction analysis.
func (a *Analysis) NewConstant(v int64) *SENode { return a.constant(v) }

// NewAdd interns an unsimplified Add of x and y; callers typically pass the
// result through Simplify.
func (a *Analysis) NewAdd(x, y *SENode) *SENode {
	return a.intern(&SENode{Kind: Add, Children: []*SENode{x, y}})
}

// NewNegative interns an unsimplified Negative of x.
func (a *Analysis) NewNegative(x *SENode) *SENode {
	return a.intern(&SENode{Kind: Negative, Children: []*SENode{x}})
}

// NewSubtraction interns an unsimplified x + (-y).
func (a *Analysis) NewSubtraction(x, y *SENode) *SENode {
	return a.NewAdd(x, a.NewNegative(y))
}

// NewMultiply interns an unsimplified Multiply of x and y.
func (a *Analysis) NewMultiply(x, y *SENode) *SENode {
	return a.intern(&SENode{Kind: Multiply, Children: []*SENode{x, y}})
}

func (a *Analysis) cantCompute(id ir.Id) *SENode {
	return a.intern(&SENode{Kind: CantCompute, SourceId: id})
}

func (a *Analysis) valueUnknown(id ir.Id) *SENode {
	return a.intern(&SENode{Kind: ValueUnknown, SourceId: id})
}

// AnalyzeId returns id's scalar-evolution node, constructing and caching
// it on first use.
func (a *Analysis) AnalyzeId(id ir.Id) *SENode {
	if cached, ok := a.memo[id]; ok {
		return cached
	}
	inst := a.duse.GetDef(id)
	if inst == nil {
		return a.cantCompute(id)
	}
	return a.AnalyzeInstruction(inst)
}

// AnalyzeInstruction recursively classifies inst, memoizing the result.
func (a *Analysis) AnalyzeInstruction(inst *ir.Instruction) *SENode {
	if !inst.HasResult() {
		return a.cantCompute(ir.NoId)
	}
	if cached, ok := a.memo[inst.ResultId]; ok {
		return cached
	}

	switch inst.Opcode {
	case ir.OpConstant:
		if len(inst.Operands) == 0 {
			node := a.cantCompute(inst.ResultId)
			a.memo[inst.ResultId] = node
			return node
		}
		node := a.constant(inst.Operands[0].AsInt64())
		a.memo[inst.ResultId] = node
		return node

	case ir.OpPhi:
		if node, ok := a.analyzeHeaderPhi(inst); ok {
			a.memo[inst.ResultId] = node
			return node
		}
		node := a.valueUnknown(inst.ResultId)
		a.memo[inst.ResultId] = node
		return node

	case ir.OpIAdd:
		node := a.buildAdd(inst, false)
		a.memo[inst.ResultId] = node
		return node

	case ir.OpISub:
		node := a.buildAdd(inst, true)
		a.memo[inst.ResultId] = node
		return node

	case ir.OpIMul:
		if len(inst.Operands) != 2 {
			node := a.cantCompute(inst.ResultId)
			a.memo[inst.ResultId] = node
			return node
		}
		node := a.intern(&SENode{Kind: Multiply, Children: sortedPair(
			a.AnalyzeId(inst.Operands[0].AsId()), a.AnalyzeId(inst.Operands[1].AsId()))})
		a.memo[inst.ResultId] = node
		return node

	default:
		node := a.valueUnknown(inst.ResultId)
		a.memo[inst.ResultId] = node
		return node
	}
}

func (a *Analysis) buildAdd(inst *ir.Instruction, isSub bool) *SENode {
	if len(inst.Operands) != 2 {
		return a.cantCompute(inst.ResultId)
	}
	lhs := a.AnalyzeId(inst.Operands[0].AsId())
	rhs := a.AnalyzeId(inst.Operands[1].AsId())
	if isSub {
		rhs = a.intern(&SENode{Kind: Negative, Children: []*SENode{rhs}})
	}
	return a.intern(&SENode{Kind: Add, Children: sortedPair(lhs, rhs)})
}

func sortedPair(a, b *SENode) []*SENode {
	if a.key() <= b.key() {
		return []*SENode{a, b}
	}
	return []*SENode{b, a}
}

// analyzeHeaderPhi recognises a loop-header phi with exactly the
// pre-header/latch incoming pair describes, building
// RecurrentExpr(loop, analyse(init), analyse(step_expr) - this). The
// phi's own memo slot is pre-seeded with a placeholder before descending
// into the step expression so a self-reference resolves to that
// placeholder instead of recursing forever; the placeholder is then
// finalised in place once the offset is known.
func (a *Analysis) analyzeHeaderPhi(phi *ir.Instruction) (*SENode, bool) {
	bb := phi.Block()
	if bb == nil {
		return nil, false
	}
	l := a.loops.InnermostLoopContaining(bb)
	if l == nil || l.Header() != bb {
		return nil, false
	}

	preHeaderId := l.PreHeader().Id()
	latchId := l.Latch().Id()
	var initId, stepId ir.Id
	haveInit, haveStep := false, false
	for i := 0; i+1 < len(phi.Operands); i += 2 {
		value := phi.Operands[i].AsId()
		parent := phi.Operands[i+1].AsId()
		switch parent {
		case preHeaderId:
			initId, haveInit = value, true
		case latchId:
			stepId, haveStep = value, true
		}
	}
	if !haveInit || !haveStep {
		return nil, false
	}

	placeholder := &SENode{Kind: RecurrentExpr, Loop: l}
	a.memo[phi.ResultId] = placeholder

	initSE := a.AnalyzeId(initId)
	stepExprSE := a.AnalyzeId(stepId)
	offset := Simplify(a, a.intern(&SENode{Kind: Add, Children: []*SENode{
		stepExprSE,
		a.intern(&SENode{Kind: Negative, Children: []*SENode{placeholder}}),
	}}))

	placeholder.Init = initSE
	placeholder.Step = offset
	return placeholder, true
}
