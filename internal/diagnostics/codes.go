// Package diagnostics is the core's error taxonomy: a stable
// code space plus the coded Error value that irctx's pass-result type
// carries on failure. Nothing here panics or
// throws; every fallible operation in the core returns one of these.
package diagnostics

// Code ranges split across the two families this package distinguishes:
// analysis-layer errors (L-series) and transformation-layer failures
// (T-series).
//
// L0001-L0999: loop/graph-analysis errors (malformed merge instructions,
// structural corruption detected mid-analysis).
// T0001-T0999: transform failures (precondition violations, id exhaustion,
// post-mutation structural-verification failures).
const (
	// L0001: a block claims an OpLoopMerge but its merge/continue operands
	// don't resolve to blocks in the function.
	LMalformedLoopMerge = "L0001"

	// L0002: dominator tree construction found no reachable entry block.
	LUnreachableEntry = "L0002"

	// L0003: scalar-evolution recursion hit a cycle it could not break
	// through a recognised header phi.
	LUnbrokenRecurrence = "L0003"

	// L0004: dependence analysis was asked to compare access chains with
	// differing subscript arity or non-matching base resolution.
	LIncomparableAccessChains = "L0004"

	// T0001: a transform's precondition check failed. The module is left
	// untouched and the pass returns success-no-change, not this code, at
	// the Pass boundary -- T0001 is for programmatic callers of the
	// transform package directly that want the reason, not just the
	// boolean.
	TPreconditionFailed = "T0001"

	// T0002: the module declares an extension outside the accepted
	// allow-list; the pass passes the module through unchanged.
	TUnsupportedExtension = "T0002"

	// T0003: TakeNextId returned the null id mid-transform.
	TIdSpaceExhausted = "T0003"

	// T0004: the post-mutation structured-control-flow verifier
	// (transform.VerifyCFG) rejected the result.
	TStructuralVerificationFailed = "T0004"
)

var descriptions = map[string]string{
	LMalformedLoopMerge:           "OpLoopMerge's merge or continue operand does not name a block in this function",
	LUnreachableEntry:             "function has no block reachable from the entry for dominator construction",
	LUnbrokenRecurrence:           "scalar-evolution recursion could not resolve a phi to a recurrence",
	LIncomparableAccessChains:     "access chains being compared for dependence have incompatible shape",
	TPreconditionFailed:           "transform precondition not satisfied",
	TUnsupportedExtension:         "module declares an extension outside the accepted allow-list",
	TIdSpaceExhausted:             "module id bound exhausted while allocating a fresh result id",
	TStructuralVerificationFailed: "structured-control-flow verification failed after mutation",
}

// Describe returns a human-readable description of code, or "" if unknown.
func Describe(code string) string { return descriptions[code] }

// IsTransformCode reports whether code is in the T-series (transform
// layer) rather than the L-series (analysis layer).
func IsTransformCode(code string) bool {
	return len(code) > 0 && code[0] == 'T'
}
