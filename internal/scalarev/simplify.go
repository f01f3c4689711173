package scalarev

import (
	"fmt"
	"sort"

	"spirvopt/internal/loop"
)

// term is one entry of the weighted sum flatten() produces: coeff copies
// of node, where node is an already-simplified, non-Add/Negative/
// constant-Multiply atom.
type term struct {
	coeff int64
	node  *SENode
}

// recurAcc accumulates the per-loop init/step weighted sums used to merge
// sibling RecurrentExpr terms sharing a loop.
type recurAcc struct {
	loop      *loop.Loop
	initConst int64
	initTerms map[string]*term
	stepConst int64
	stepTerms map[string]*term
}

// Simplify is an idempotent, confluent flattening of nested Add/Negative
// into a canonical weighted sum, followed by hash-consing against a's
// pool.
func Simplify(a *Analysis, n *SENode) *SENode {
	switch n.Kind {
	case Constant, ValueUnknown, CantCompute:
		return n
	case RecurrentExpr:
		if n.Init == nil || n.Step == nil {
			// Under-construction self-reference placeholder; leave it to the
			// caller (analyzeHeaderPhi) to finish building it.
			return n
		}
		init := Simplify(a, n.Init)
		step := Simplify(a, n.Step)
		if init == n.Init && step == n.Step {
			return a.intern(n)
		}
		return a.intern(&SENode{Kind: RecurrentExpr, Loop: n.Loop, Init: init, Step: step})
	case Multiply:
		children := make([]*SENode, len(n.Children))
		for i, c := range n.Children {
			children[i] = Simplify(a, c)
		}
		return a.intern(&SENode{Kind: Multiply, Children: children})
	case Negative, Add:
		return simplifySum(a, n)
	default:
		return n
	}
}

func simplifySum(a *Analysis, n *SENode) *SENode {
	var constAcc int64
	terms := make(map[string]*term)
	recur := make(map[*loop.Loop]*recurAcc)

	flatten(a, n, 1, &constAcc, terms, recur)

	var children []*SENode

	var loopKeys []string
	loopByKey := map[string]*recurAcc{}
	for l, racc := range recur {
		loopByKey[fmt.Sprintf("%p", l)] = racc
	}
	for k := range loopByKey {
		loopKeys = append(loopKeys, k)
	}
	sort.Strings(loopKeys)

	// A bare constant added to a recurrence folds into that recurrence's
	// init (1 + {c,+,s} == {c+1,+,s}); push it into the first (by sort
	// order) recurrence group instead of keeping it as a separate term so
	// the result stays canonical and the fold is stable under re-running.
	if constAcc != 0 && len(loopKeys) > 0 {
		loopByKey[loopKeys[0]].initConst += constAcc
		constAcc = 0
	}

	if constAcc != 0 {
		children = append(children, a.constant(constAcc))
	}

	var keys []string
	for k := range terms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t := terms[k]
		if t.coeff == 0 {
			continue
		}
		children = append(children, scaleNode(a, t.coeff, t.node))
	}

	for _, k := range loopKeys {
		racc := loopByKey[k]
		init := finishAcc(a, racc.initConst, racc.initTerms)
		step := finishAcc(a, racc.stepConst, racc.stepTerms)
		children = append(children, a.intern(&SENode{Kind: RecurrentExpr, Loop: racc.loop, Init: init, Step: step}))
	}

	switch len(children) {
	case 0:
		return a.constant(0)
	case 1:
		return children[0]
	default:
		sort.Slice(children, func(i, j int) bool { return children[i].key() < children[j].key() })
		return a.intern(&SENode{Kind: Add, Children: children})
	}
}

func finishAcc(a *Analysis, constAcc int64, terms map[string]*term) *SENode {
	var children []*SENode
	if constAcc != 0 {
		children = append(children, a.constant(constAcc))
	}
	var keys []string
	for k := range terms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t := terms[k]
		if t.coeff == 0 {
			continue
		}
		children = append(children, scaleNode(a, t.coeff, t.node))
	}
	switch len(children) {
	case 0:
		return a.constant(0)
	case 1:
		return children[0]
	default:
		sort.Slice(children, func(i, j int) bool { return children[i].key() < children[j].key() })
		return a.intern(&SENode{Kind: Add, Children: children})
	}
}

func scaleNode(a *Analysis, coeff int64, node *SENode) *SENode {
	if coeff == 1 {
		return node
	}
	if coeff == -1 {
		return a.intern(&SENode{Kind: Negative, Children: []*SENode{node}})
	}
	return a.intern(&SENode{Kind: Multiply, Children: []*SENode{a.constant(coeff), node}})
}

// flatten recurses through Add/Negative/constant-Multiply structure,
// accumulating a weighted sum of opaque atoms (by pointer-identity key)
// plus a running constant and, separately, per-loop RecurrentExpr groups.
// A RecurrentExpr still under construction (its own analysis calling back
// into itself) is treated as an ordinary opaque atom so the explicit
// self-subtraction in analyzeHeaderPhi cancels to exactly zero.
func flatten(a *Analysis, n *SENode, coeff int64, constAcc *int64, terms map[string]*term, recur map[*loop.Loop]*recurAcc) {
	if coeff == 0 {
		return
	}
	switch n.Kind {
	case Constant:
		*constAcc += coeff * n.Value
	case Negative:
		flatten(a, n.Children[0], -coeff, constAcc, terms, recur)
	case Add:
		for _, c := range n.Children {
			flatten(a, c, coeff, constAcc, terms, recur)
		}
	case Multiply:
		if len(n.Children) == 2 {
			if n.Children[0].Kind == Constant {
				flatten(a, n.Children[1], coeff*n.Children[0].Value, constAcc, terms, recur)
				return
			}
			if n.Children[1].Kind == Constant {
				flatten(a, n.Children[0], coeff*n.Children[1].Value, constAcc, terms, recur)
				return
			}
		}
		addOpaqueTerm(n, coeff, terms)
	case RecurrentExpr:
		if n.Init == nil || n.Step == nil {
			addOpaqueTerm(n, coeff, terms)
			return
		}
		racc, ok := recur[n.Loop]
		if !ok {
			racc = &recurAcc{loop: n.Loop, initTerms: make(map[string]*term), stepTerms: make(map[string]*term)}
			recur[n.Loop] = racc
		}
		flatten(a, n.Init, coeff, &racc.initConst, racc.initTerms, recur)
		flatten(a, n.Step, coeff, &racc.stepConst, racc.stepTerms, recur)
	default:
		addOpaqueTerm(n, coeff, terms)
	}
}

func addOpaqueTerm(n *SENode, coeff int64, terms map[string]*term) {
	key := n.key()
	t, ok := terms[key]
	if !ok {
		t = &term{node: n}
		terms[key] = t
	}
	t.coeff += coeff
}
