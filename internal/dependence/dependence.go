package dependence

import (
	"spirvopt/internal/analysis"
	"spirvopt/internal/ir"
	"spirvopt/internal/loop"
	"spirvopt/internal/scalarev"
)

// Analysis tests dependence between memory accesses against a loop nest,
// backed by a scalar-evolution analysis shared across every pair it tests.
type Analysis struct {
	duse  *analysis.DefUseManager
	loops *loop.Descriptor
	se    *scalarev.Analysis
}

// New builds a dependence analysis for fn's loop nest, layered on an
// already-built scalar-evolution analysis so dependence testing shares its
// hash-consed node pool instead of re-deriving every subscript's SENode
// from scratch.
func New(duse *analysis.DefUseManager, loops *loop.Descriptor, se *scalarev.Analysis) *Analysis {
	return &Analysis{duse: duse, loops: loops, se: se}
}

// GetDependence tests dependence between source (an OpLoad) and destination
// (an OpStore), both into access chains over the same base variable.
// Returns independent=true when the pair is proven to never alias;
// otherwise vector carries whatever direction/distance information could
// be established per subscript.
func (a *Analysis) GetDependence(source, destination *ir.Instruction) (independent bool, vector DistanceVector) {
	srcBase, srcSubs, srcOk := a.accessChainOperands(source)
	dstBase, dstSubs, dstOk := a.accessChainOperands(destination)
	if !srcOk || !dstOk {
		return false, DistanceVector{NewDistanceEntry()}
	}
	if srcBase != dstBase {
		return true, DistanceVector{{Info: InfoDirection, Direction: DirNone}}
	}
	if len(srcSubs) != len(dstSubs) {
		return true, DistanceVector{{Info: InfoDirection, Direction: DirNone}}
	}

	entries := make([]DistanceEntry, len(srcSubs))
	for i := range entries {
		entries[i] = NewDistanceEntry()
	}

	for i := range srcSubs {
		srcNode := scalarev.Simplify(a.se, a.se.AnalyzeId(srcSubs[i]))
		dstNode := scalarev.Simplify(a.se, a.se.AnalyzeId(dstSubs[i]))

		if srcNode.Kind == scalarev.CantCompute || dstNode.Kind == scalarev.CantCompute {
			entries[i].Info = InfoDirection
			entries[i].Direction = DirAll
			return false, entries
		}

		loops := unionLoops(srcNode, dstNode)
		switch len(loops) {
		case 0:
			if indep := a.zivTest(srcNode, dstNode, &entries[i]); indep {
				return true, DistanceVector{{Info: InfoDirection, Direction: DirNone}}
			}
		case 1:
			var l *loop.Loop
			for only := range loops {
				l = only
			}
			if indep := a.sivTest(l, srcNode, dstNode, &entries[i]); indep {
				return true, DistanceVector{{Info: InfoDirection, Direction: DirNone}}
			}
		default:
			if indep := gcdMIVTest(srcNode, dstNode); indep {
				return true, DistanceVector{{Info: InfoDirection, Direction: DirNone}}
			}
			entries[i].Info = InfoDirection
			entries[i].Direction = DirAll
		}
	}

	return false, entries
}

// accessChainOperands resolves a load or store's pointer operand to its
// defining OpAccessChain and returns the base variable id plus the
// subscript operand ids past the base.
func (a *Analysis) accessChainOperands(memOp *ir.Instruction) (base ir.Id, subscripts []ir.Id, ok bool) {
	if len(memOp.Operands) == 0 {
		return ir.NoId, nil, false
	}
	chain := a.duse.GetDef(memOp.Operands[0].AsId())
	if chain == nil || chain.Opcode != ir.OpAccessChain || len(chain.Operands) == 0 {
		return ir.NoId, nil, false
	}
	base = chain.Operands[0].AsId()
	for _, op := range chain.Operands[1:] {
		subscripts = append(subscripts, op.AsId())
	}
	return base, subscripts, true
}

func unionLoops(a, b *scalarev.SENode) map[*loop.Loop]bool {
	out := a.Loops()
	for l := range b.Loops() {
		out[l] = true
	}
	return out
}

// zivTest handles the zero-induction-variable case: the two subscripts are
// loop invariant with respect to the pair, so equality is the only
// dependence-preserving relation.
func (a *Analysis) zivTest(source, destination *scalarev.SENode, entry *DistanceEntry) bool {
	if source == destination {
		entry.Info = InfoDistance
		entry.Direction = DirEQ
		entry.Distance = 0
		return false
	}
	entry.Info = InfoDirection
	entry.Direction = DirNone
	return true
}

// tripExtremes returns the induction variable's first and last values over
// l's recognised trip count, used by the weak-SIV tests and bounds checks
// in place of the symbolic lower/upper-bound machinery this component does
// not otherwise need.
func tripExtremes(l *loop.Loop) (first, last int64, ok bool) {
	iv, ok := l.InductionVariable()
	if !ok {
		return 0, 0, false
	}
	count, ok := iv.TripCount()
	if !ok || count == 0 {
		return 0, 0, false
	}
	lo, ok := constValue(iv.Init)
	if !ok {
		return 0, 0, false
	}
	return lo, lo + iv.Step*(count-1), true
}

func constValue(inst *ir.Instruction) (int64, bool) {
	if inst == nil || inst.Opcode != ir.OpConstant || len(inst.Operands) == 0 {
		return 0, false
	}
	return inst.Operands[0].AsInt64(), true
}

// isWithinBounds reports whether value lies between bound one and two,
// inclusive, regardless of which is numerically smaller.
func isWithinBounds(value, boundOne, boundTwo int64) bool {
	if boundOne < boundTwo {
		return value >= boundOne && value <= boundTwo
	}
	if boundOne > boundTwo {
		return value >= boundTwo && value <= boundOne
	}
	return value == boundOne
}
