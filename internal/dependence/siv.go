package dependence

import (
	"spirvopt/internal/loop"
	"spirvopt/internal/scalarev"
)

// decompose splits node into its coefficient over l (0 if node does not
// recur over l) and its loop-invariant offset. A simplified Add groups a
// loop's RecurrentExpr as a sibling alongside any other invariant terms,
// so an Add is searched for that sibling rather than requiring node
// itself to be the recurrence.
func (a *Analysis) decompose(node *scalarev.SENode, l *loop.Loop) (coeff int64, coeffIsConst bool, offset *scalarev.SENode) {
	if node.Kind == scalarev.RecurrentExpr && node.Loop == l {
		if node.Step.Kind == scalarev.Constant {
			return node.Step.Value, true, node.Init
		}
		return 0, false, node.Init
	}
	if node.Kind == scalarev.Add {
		var rec *scalarev.SENode
		var rest []*scalarev.SENode
		for _, c := range node.Children {
			if rec == nil && c.Kind == scalarev.RecurrentExpr && c.Loop == l {
				rec = c
				continue
			}
			rest = append(rest, c)
		}
		if rec != nil {
			combined := scalarev.Simplify(a.se, a.se.NewAdd(rec.Init, sumChildren(a, rest)))
			if rec.Step.Kind == scalarev.Constant {
				return rec.Step.Value, true, combined
			}
			return 0, false, combined
		}
	}
	return 0, true, node
}

// sumChildren folds nodes into a single (unsimplified) Add tree, the
// identity constant if nodes is empty.
func sumChildren(a *Analysis, nodes []*scalarev.SENode) *scalarev.SENode {
	if len(nodes) == 0 {
		return a.se.NewConstant(0)
	}
	sum := nodes[0]
	for _, n := range nodes[1:] {
		sum = a.se.NewAdd(sum, n)
	}
	return sum
}

// sivTest handles the single-induction-variable case, dispatching to the
// weak-zero, strong, weak-crossing or symbolic sub-tests by the two
// sides' coefficients over l.
func (a *Analysis) sivTest(l *loop.Loop, source, destination *scalarev.SENode, entry *DistanceEntry) bool {
	srcCoeff, srcCoeffOk, srcOffset := a.decompose(source, l)
	dstCoeff, dstCoeffOk, dstOffset := a.decompose(destination, l)

	if srcCoeffOk && dstCoeffOk {
		if srcCoeff == 0 && dstCoeff != 0 {
			return a.weakZeroTest(l, source, dstOffset, dstCoeff, entry)
		}
		if dstCoeff == 0 && srcCoeff != 0 {
			return a.weakZeroTest(l, destination, srcOffset, srcCoeff, entry)
		}
		if srcCoeff != 0 && srcCoeff == dstCoeff {
			return a.strongSIVTest(l, srcOffset, dstOffset, srcCoeff, entry)
		}
		if srcCoeff != 0 && srcCoeff == -dstCoeff {
			return a.weakCrossingSIVTest(srcOffset, dstOffset, srcCoeff, entry)
		}
	}

	return a.symbolicStrongSIVTest(l, source, destination, entry)
}

// strongSIVTest is the a*i+c1, a*i+c2 case: distance = (c1-c2)/a.
func (a *Analysis) strongSIVTest(l *loop.Loop, srcOffset, dstOffset *scalarev.SENode, coeff int64, entry *DistanceEntry) bool {
	delta := scalarev.Simplify(a.se, a.se.NewSubtraction(srcOffset, dstOffset))
	if delta.Kind != scalarev.Constant {
		return a.symbolicStrongSIVTest(l, srcOffset, dstOffset, entry)
	}
	if delta.Value%coeff != 0 {
		entry.Info = InfoDirection
		entry.Direction = DirNone
		return true
	}
	distance := delta.Value / coeff

	if first, last, ok := tripExtremes(l); ok {
		lo, hi := first, last
		if lo > hi {
			lo, hi = hi, lo
		}
		span := hi - lo
		if abs64(distance) > span {
			entry.Info = InfoDistance
			entry.Direction = DirNone
			entry.Distance = distance
			return true
		}
	}

	entry.Info = InfoDistance
	entry.Distance = distance
	switch {
	case distance > 0:
		entry.Direction = DirLT
	case distance == 0:
		entry.Direction = DirEQ
	default:
		entry.Direction = DirGT
	}
	return false
}

// symbolicStrongSIVTest falls back to proving source-destination stays
// outside the loop's trip span without folding to a constant distance,
// covering the symbolic-trip-count case the strong-SIV test otherwise
// cannot decide.
func (a *Analysis) symbolicStrongSIVTest(l *loop.Loop, source, destination *scalarev.SENode, entry *DistanceEntry) bool {
	delta := scalarev.Simplify(a.se, a.se.NewSubtraction(source, destination))
	if a.isProvablyOutwithLoopBounds(l, delta) {
		entry.Info = InfoDirection
		entry.Direction = DirNone
		return true
	}
	entry.Direction = DirAll
	return false
}

// symbolicBounds returns l's induction variable's inclusive lower and
// upper value as SE expressions, adjusting the raw comparison operand by
// one where the comparison is strict, mirroring
// loop_dependence_helpers.cpp's GetLowerBound/GetUpperBound.
func (a *Analysis) symbolicBounds(l *loop.Loop) (lower, upper *scalarev.SENode, ok bool) {
	iv, ok := l.InductionVariable()
	if !ok {
		return nil, nil, false
	}
	initSE := scalarev.Simplify(a.se, a.se.AnalyzeId(iv.Init.ResultId))
	boundSE := scalarev.Simplify(a.se, a.se.AnalyzeId(iv.Bound.ResultId))
	one := a.se.NewConstant(1)
	switch iv.Condition {
	case loop.CondLessThan:
		return initSE, scalarev.Simplify(a.se, a.se.NewSubtraction(boundSE, one)), true
	case loop.CondLessEqual:
		return initSE, boundSE, true
	case loop.CondGreaterThan:
		return scalarev.Simplify(a.se, a.se.NewAdd(boundSE, one)), initSE, true
	case loop.CondGreaterEqual:
		return boundSE, initSE, true
	default:
		return nil, nil, false
	}
}

// isProvablyOutwithLoopBounds reports whether distance, once the loop's
// symbolic trip span is subtracted away, simplifies to a positive
// constant -- i.e. distance necessarily exceeds every possible trip count.
func (a *Analysis) isProvablyOutwithLoopBounds(l *loop.Loop, distance *scalarev.SENode) bool {
	lower, upper, ok := a.symbolicBounds(l)
	if !ok {
		return false
	}
	span := scalarev.Simplify(a.se, a.se.NewSubtraction(upper, lower))
	result := scalarev.Simplify(a.se, a.se.NewSubtraction(distance, span))
	return result.Kind == scalarev.Constant && result.Value > 0
}

// weakZeroTest handles a1*i+c1, a2*i+c2 where exactly one coefficient is
// zero: distance = (invariant_side - offset_other) / coeff_other.
func (a *Analysis) weakZeroTest(l *loop.Loop, invariantSide, otherOffset *scalarev.SENode, coeff int64, entry *DistanceEntry) bool {
	delta := scalarev.Simplify(a.se, a.se.NewSubtraction(invariantSide, otherOffset))
	if delta.Kind != scalarev.Constant {
		entry.Direction = DirAll
		return false
	}
	if delta.Value%coeff != 0 {
		entry.Info = InfoDirection
		entry.Direction = DirNone
		return true
	}
	distance := delta.Value / coeff

	first, last, ok := tripExtremes(l)
	if ok {
		if !isWithinBounds(distance, first, last) {
			entry.Info = InfoDistance
			entry.Direction = DirNone
			entry.Distance = distance
			return true
		}
		if distance == first {
			entry.Info = InfoPeel
			entry.PeelFirst = true
			return false
		}
		if distance == last {
			entry.Info = InfoPeel
			entry.PeelLast = true
			return false
		}
	}

	entry.Info = InfoDistance
	entry.Distance = distance
	entry.Direction = DirAll
	return false
}

// weakCrossingSIVTest handles a*i+c1, -a*j+c2: distance = (c2-c1)/(2a).
func (a *Analysis) weakCrossingSIVTest(srcOffset, dstOffset *scalarev.SENode, coeff int64, entry *DistanceEntry) bool {
	delta := scalarev.Simplify(a.se, a.se.NewSubtraction(dstOffset, srcOffset))
	if delta.Kind != scalarev.Constant {
		entry.Direction = DirAll
		return false
	}
	denom := 2 * coeff
	if delta.Value%denom != 0 {
		entry.Info = InfoDirection
		entry.Direction = DirNone
		return true
	}
	distance := delta.Value / denom
	if distance == 0 {
		entry.Info = InfoDistance
		entry.Direction = DirEQ
		entry.Distance = 0
		return false
	}
	entry.Info = InfoDistance
	entry.Distance = distance
	entry.Direction = DirAll
	return false
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
