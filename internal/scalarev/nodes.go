// Package scalarev builds, for every instruction inside a loop nest, a
// scalar-evolution DAG describing its value as a recurrence over the
// enclosing loops.
package scalarev

import (
	"fmt"

	"spirvopt/internal/ir"
	"spirvopt/internal/loop"
)

// Kind is an SENode's tag.
type Kind int

const (
	Constant Kind = iota
	RecurrentExpr
	Add
	Multiply
	Negative
	ValueUnknown
	CantCompute
)

func (k Kind) String() string {
	switch k {
	case Constant:
		return "Constant"
	case RecurrentExpr:
		return "RecurrentExpr"
	case Add:
		return "Add"
	case Multiply:
		return "Multiply"
	case Negative:
		return "Negative"
	case ValueUnknown:
		return "ValueUnknown"
	default:
		return "CantCompute"
	}
}

// SENode is one node of the hash-consed scalar-evolution DAG. Once
// interned (outside of the transient placeholder used to break a phi's
// self-reference while it's being built), two nodes are structurally
// equal iff they are the same pointer.
type SENode struct {
	Kind     Kind
	Value    int64      // Constant
	Loop     *loop.Loop // RecurrentExpr
	Init     *SENode    // RecurrentExpr: value on loop entry
	Step     *SENode    // RecurrentExpr: per-iteration delta
	Children []*SENode  // Add, Multiply, Negative
	SourceId ir.Id      // ValueUnknown/CantCompute: the originating instruction, if any
}

// FoldToSingleValue evaluates a node with no free symbols. It panics on a
// node containing an unresolved symbol; callers must check CanFold first.
func (n *SENode) FoldToSingleValue() int64 {
	switch n.Kind {
	case Constant:
		return n.Value
	case Negative:
		return -n.Children[0].FoldToSingleValue()
	case Add:
		var sum int64
		for _, c := range n.Children {
			sum += c.FoldToSingleValue()
		}
		return sum
	case Multiply:
		product := int64(1)
		for _, c := range n.Children {
			product *= c.FoldToSingleValue()
		}
		return product
	default:
		panic("scalarev: FoldToSingleValue called on a non-constant node")
	}
}

// CanFold reports whether FoldToSingleValue can succeed.
func (n *SENode) CanFold() bool {
	switch n.Kind {
	case Constant:
		return true
	case Negative:
		return n.Children[0].CanFold()
	case Add, Multiply:
		for _, c := range n.Children {
			if !c.CanFold() {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Loops returns the set of loops appearing in n's recurrents, used by the
// dependence analysis to classify a subscript pair as ZIV, SIV or MIV and
// by the loops-set property test.
func (n *SENode) Loops() map[*loop.Loop]bool {
	out := make(map[*loop.Loop]bool)
	var walk func(*SENode)
	seen := make(map[*SENode]bool)
	walk = func(node *SENode) {
		if node == nil || seen[node] {
			return
		}
		seen[node] = true
		if node.Kind == RecurrentExpr {
			out[node.Loop] = true
			walk(node.Init)
			walk(node.Step)
		}
		for _, c := range node.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}

// key returns a canonical string identifying n's structure for hash-
// consing; interned children are identified by pointer address, which is
// stable and cheap once a child has itself already been interned.
func (n *SENode) key() string {
	switch n.Kind {
	case Constant:
		return fmt.Sprintf("C:%d", n.Value)
	case RecurrentExpr:
		return fmt.Sprintf("R:%p:%p:%p", n.Loop, n.Init, n.Step)
	case ValueUnknown:
		return fmt.Sprintf("U:%d", n.SourceId)
	case CantCompute:
		return fmt.Sprintf("X:%d", n.SourceId)
	default:
		s := n.Kind.String()
		for _, c := range n.Children {
			s += fmt.Sprintf(":%p", c)
		}
		return s
	}
}

func (n *SENode) String() string {
	switch n.Kind {
	case Constant:
		return fmt.Sprintf("%d", n.Value)
	case RecurrentExpr:
		return fmt.Sprintf("{%s,+,%s}", n.Init, n.Step)
	case Negative:
		return fmt.Sprintf("-(%s)", n.Children[0])
	case Add:
		s := "("
		for i, c := range n.Children {
			if i > 0 {
				s += " + "
			}
			s += c.String()
		}
		return s + ")"
	case Multiply:
		s := "("
		for i, c := range n.Children {
			if i > 0 {
				s += " * "
			}
			s += c.String()
		}
		return s + ")"
	case ValueUnknown:
		return "?"
	default:
		return "cant-compute"
	}
}
