// Package analysis holds the graph analyses layered directly on top of
// internal/ir: the control-flow graph, the def-use relation, and the
// dominator/post-dominator tree.
package analysis

import "spirvopt/internal/ir"

// CFG is a function's predecessor/successor relation, computed from
// terminator operands. It is rebuilt (not incrementally patched) whenever
// invalidated; puts the incremental-update decision on
// IRContext, not here.
type CFG struct {
	fn    *ir.Function
	preds map[ir.Id][]*ir.BasicBlock
	succs map[ir.Id][]*ir.BasicBlock
	order []ir.Id // block ids in function textual order, for stable iteration
}

// BuildCFG computes the CFG of fn from its blocks' terminators.
func BuildCFG(fn *ir.Function) *CFG {
	c := &CFG{
		fn:    fn,
		preds: make(map[ir.Id][]*ir.BasicBlock),
		succs: make(map[ir.Id][]*ir.BasicBlock),
	}
	for _, bb := range fn.Blocks {
		c.order = append(c.order, bb.Id())
		c.succs[bb.Id()] = nil
		c.preds[bb.Id()] = nil
	}
	for _, bb := range fn.Blocks {
		term := bb.Terminator()
		if term == nil {
			continue
		}
		for _, succId := range term.Successors() {
			succ := fn.BlockById(succId)
			if succ == nil {
				continue
			}
			c.succs[bb.Id()] = append(c.succs[bb.Id()], succ)
			c.preds[succId] = append(c.preds[succId], bb)
		}
	}
	return c
}

func (c *CFG) Function() *ir.Function { return c.fn }

func (c *CFG) Successors(bb *ir.BasicBlock) []*ir.BasicBlock { return c.succs[bb.Id()] }
func (c *CFG) Predecessors(bb *ir.BasicBlock) []*ir.BasicBlock { return c.preds[bb.Id()] }

// Blocks returns the function's blocks in textual order.
func (c *CFG) Blocks() []*ir.BasicBlock { return c.fn.Blocks }

// ReversePostOrder returns blocks reachable from the entry in reverse
// post-order, the structured order loop unrolling's body-copy step needs.
func (c *CFG) ReversePostOrder() []*ir.BasicBlock {
	visited := make(map[ir.Id]bool)
	var post []*ir.BasicBlock
	var visit func(bb *ir.BasicBlock)
	visit = func(bb *ir.BasicBlock) {
		if bb == nil || visited[bb.Id()] {
			return
		}
		visited[bb.Id()] = true
		for _, s := range c.Successors(bb) {
			visit(s)
		}
		post = append(post, bb)
	}
	visit(c.fn.Entry())
	// Reverse post-order list in place.
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// Reachable reports whether bb is reachable from the function entry.
func (c *CFG) Reachable(bb *ir.BasicBlock) bool {
	for _, b := range c.ReversePostOrder() {
		if b.Id() == bb.Id() {
			return true
		}
	}
	return false
}
