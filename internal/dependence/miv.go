package dependence

import "spirvopt/internal/scalarev"

// collectLinearTerm decomposes a simplified SE node into a constant offset
// plus the list of per-loop coefficients appearing in its recurrences,
// the a0*i0 + a1*i1 + ... + an*in + c shape the GCD test requires. ok is
// false when node contains anything the shape can't represent (a
// symbolic step, an opaque multiply, an unresolved value).
func collectLinearTerm(node *scalarev.SENode) (constant int64, coeffs []int64, ok bool) {
	switch node.Kind {
	case scalarev.Constant:
		return node.Value, nil, true
	case scalarev.RecurrentExpr:
		if node.Step.Kind != scalarev.Constant {
			return 0, nil, false
		}
		innerConst, innerCoeffs, ok := collectLinearTerm(node.Init)
		if !ok {
			return 0, nil, false
		}
		return innerConst, append([]int64{node.Step.Value}, innerCoeffs...), true
	case scalarev.Negative:
		innerConst, innerCoeffs, ok := collectLinearTerm(node.Children[0])
		if !ok {
			return 0, nil, false
		}
		negated := make([]int64, len(innerCoeffs))
		for i, c := range innerCoeffs {
			negated[i] = -c
		}
		return -innerConst, negated, true
	case scalarev.Add:
		var constant int64
		var coeffs []int64
		for _, c := range node.Children {
			innerConst, innerCoeffs, ok := collectLinearTerm(c)
			if !ok {
				return 0, nil, false
			}
			constant += innerConst
			coeffs = append(coeffs, innerCoeffs...)
		}
		return constant, coeffs, true
	default:
		return 0, nil, false
	}
}

// gcdMIVTest implements the GCD test for two or more shared induction
// variables: independence is proven when the gcd of every coefficient
// does not divide the constant offset delta.
func gcdMIVTest(source, destination *scalarev.SENode) bool {
	srcConst, srcCoeffs, srcOk := collectLinearTerm(source)
	dstConst, dstCoeffs, dstOk := collectLinearTerm(destination)
	if !srcOk || !dstOk {
		return false
	}

	var g int64
	for _, c := range srcCoeffs {
		g = gcd(g, abs64(c))
	}
	for _, c := range dstCoeffs {
		g = gcd(g, abs64(c))
	}
	if g == 0 {
		return false
	}

	diff := dstConst - srcConst
	return diff%g != 0
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
