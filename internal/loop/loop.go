// Package loop builds the natural-loop structure of a function on top of
// its dominator tree and exposes the lazily materialised data (body
// blocks, pre-header, induction variable) the transform passes need.
package loop

import (
	"sort"

	"spirvopt/internal/analysis"
	"spirvopt/internal/ir"
)

// Loop is one natural loop, identified by its header's OpLoopMerge.
type Loop struct {
	header *ir.BasicBlock
	merge  *ir.BasicBlock
	latch  *ir.BasicBlock

	parent   *Loop
	children []*Loop

	descriptor *Descriptor

	bodyBlocks []*ir.BasicBlock // memoized, nil until Blocks() is called
	preHeader  *ir.BasicBlock   // memoized, nil until PreHeader() is called
	indVar     *InductionVariable
	indVarDone bool
}

func (l *Loop) Header() *ir.BasicBlock { return l.header }
func (l *Loop) Merge() *ir.BasicBlock  { return l.merge }
func (l *Loop) Latch() *ir.BasicBlock  { return l.latch }
func (l *Loop) Parent() *Loop          { return l.parent }
func (l *Loop) Children() []*Loop      { return l.children }
func (l *Loop) IsNested() bool         { return l.parent != nil }
func (l *Loop) Depth() int {
	d := 0
	for p := l.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// Blocks returns the loop body (header included, merge excluded) in CFG
// reverse-post-order, computed once via the standard natural-loop
// backward walk from the latch stopping at the header.
func (l *Loop) Blocks() []*ir.BasicBlock {
	if l.bodyBlocks != nil {
		return l.bodyBlocks
	}
	cfg := l.descriptor.cfg
	in := map[ir.Id]bool{l.header.Id(): true}
	var worklist []*ir.BasicBlock
	if l.latch.Id() != l.header.Id() {
		worklist = append(worklist, l.latch)
		in[l.latch.Id()] = true
	}
	for len(worklist) > 0 {
		bb := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, p := range cfg.Predecessors(bb) {
			if !in[p.Id()] {
				in[p.Id()] = true
				worklist = append(worklist, p)
			}
		}
	}

	var ordered []*ir.BasicBlock
	for _, bb := range cfg.ReversePostOrder() {
		if in[bb.Id()] {
			ordered = append(ordered, bb)
		}
	}
	l.bodyBlocks = ordered
	return ordered
}

// Contains reports whether bb belongs to this loop's body.
func (l *Loop) Contains(bb *ir.BasicBlock) bool {
	for _, b := range l.Blocks() {
		if b.Id() == bb.Id() {
			return true
		}
	}
	return false
}

// PreHeader returns the loop's unique entry predecessor, synthesising one
// by inserting a new block if the header currently has more than one
// non-back-edge predecessor.
func (l *Loop) PreHeader() *ir.BasicBlock {
	if l.preHeader != nil {
		return l.preHeader
	}
	fn := l.header.Function()
	module := fn.Module()
	cfg := l.descriptor.cfg

	var outside []*ir.BasicBlock
	for _, p := range cfg.Predecessors(l.header) {
		if p.Id() != l.latch.Id() {
			outside = append(outside, p)
		}
	}
	if len(outside) == 1 {
		l.preHeader = outside[0]
		return l.preHeader
	}

	preHeaderId := module.TakeNextId()
	preHeaderLabel := module.NewInstruction(ir.OpLabel, ir.NoId, preHeaderId)
	preHeader := ir.NewBasicBlock(preHeaderLabel)
	preHeader.AddInstruction(module.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(l.header.Id())))

	for _, p := range outside {
		term := p.Terminator()
		if term != nil {
			ir.RewriteOperands(term, l.header.Id(), preHeaderId)
		}
		for _, phi := range l.header.Phis() {
			rewritePhiIncomingBlock(phi, p.Id(), preHeaderId)
		}
	}

	// Insert immediately before the header to keep the structured-layout
	// invariant that loop constructs stay textually contiguous.
	insertBefore(fn, l.header, preHeader)
	l.preHeader = preHeader
	return preHeader
}

func insertBefore(fn *ir.Function, before, bb *ir.BasicBlock) {
	for i, b := range fn.Blocks {
		if b == before {
			fn.AddBasicBlock(bb) // back-links bb.fn, appends at the tail first
			copy(fn.Blocks[i+1:], fn.Blocks[i:len(fn.Blocks)-1])
			fn.Blocks[i] = bb
			return
		}
	}
	fn.AddBasicBlock(bb)
}

func rewritePhiIncomingBlock(phi *ir.Instruction, oldBlock, newBlock ir.Id) {
	for i := 1; i < len(phi.Operands); i += 2 {
		if phi.Operands[i].AsId() == oldBlock {
			phi.Operands[i] = ir.MakeIdOperand(newBlock)
		}
	}
}

// Descriptor holds every loop found in a function, their nesting, and a
// block -> innermost-loop map.
type Descriptor struct {
	fn        *ir.Function
	cfg       *analysis.CFG
	dt        *analysis.DominatorTree
	duse      *analysis.DefUseManager
	loops     []*Loop
	innermost map[ir.Id]*Loop
}

func (d *Descriptor) NumLoops() int     { return len(d.loops) }
func (d *Descriptor) Loops() []*Loop    { return d.loops }
func (d *Descriptor) Loop(i int) *Loop  { return d.loops[i] }
func (d *Descriptor) InnermostLoopContaining(bb *ir.BasicBlock) *Loop {
	return d.innermost[bb.Id()]
}

// Build constructs fn's loop descriptor: a dominator-tree pre-order walk
// collects every OpLoopMerge header into a Loop, then parents are
// assigned by walking previously created loops innermost-first.
//
// The nesting test follows the header-dominates/merge-does-not-dominate
// form (a previously created loop whose merge also dominates the
// candidate header is an ancestor's sibling, not a parent, and the walk
// continues outward) rather than the literal "merge also dominates"
// wording, matching loop_descriptor.cpp's actual PopulateList logic -- the
// literal wording would nest a loop under every enclosing loop's
// strictly-outer sibling instead of its true parent.
func Build(fn *ir.Function) *Descriptor {
	cfg := analysis.BuildCFG(fn)
	dt := analysis.Dominator(fn)
	duse := analysis.AnalyzeDefUse(fn.Module())
	d := &Descriptor{fn: fn, cfg: cfg, dt: dt, duse: duse, innermost: make(map[ir.Id]*Loop)}

	for _, id := range dt.PreOrder() {
		header := fn.BlockById(id)
		if header == nil || !header.IsLoopHeader() {
			continue
		}
		merge := header.MergeInst()
		mergeId, latchId := merge.LoopMergeTargets()
		l := &Loop{
			header:     header,
			merge:      fn.BlockById(mergeId),
			latch:      fn.BlockById(latchId),
			descriptor: d,
		}
		d.loops = append(d.loops, l)

		for i := len(d.loops) - 2; i >= 0; i-- {
			prev := d.loops[i]
			if !dt.Dominates(prev.header.Id(), header.Id()) {
				break
			}
			if dt.Dominates(prev.merge.Id(), header.Id()) {
				continue
			}
			prev.children = append(prev.children, l)
			l.parent = prev
			break
		}
	}

	for _, l := range d.loops {
		for _, bb := range l.Blocks() {
			if cur, ok := d.innermost[bb.Id()]; !ok || l.Depth() > cur.Depth() {
				d.innermost[bb.Id()] = l
			}
		}
	}
	return d
}

// sortedBlockIds is a small helper used by tests to get a deterministic
// textual view of a loop's body.
func sortedBlockIds(blocks []*ir.BasicBlock) []int {
	ids := make([]int, len(blocks))
	for i, b := range blocks {
		ids[i] = int(b.Id())
	}
	sort.Ints(ids)
	return ids
}
