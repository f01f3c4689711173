package analysis

import (
	"sort"

	"spirvopt/internal/ir"
)

// Direction is the capability the single dominator-tree algorithm is
// parameterized over, instead of separate Dominator/PostDominator
// subclasses: Forward builds the ordinary dominator tree, Reverse builds
// the post-dominator tree by swapping the roles of predecessor/successor
// and entry/exit.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// domNode is one node of a materialized dominator (or post-dominator)
// tree. Root is the synthetic pseudo-block, represented by ir.NoId.
type domNode struct {
	id       ir.Id
	parent   *domNode
	children []*domNode
	pre      int
	post     int
}

// DominatorTree is a function's dominator or post-dominator tree, built
// once and queried in constant time thereafter.
type DominatorTree struct {
	direction Direction
	cfg       *CFG
	nodes     map[ir.Id]*domNode
	root      *domNode
}

func isExitBlock(bb *ir.BasicBlock) bool {
	term := bb.Terminator()
	if term == nil {
		return false
	}
	switch term.Opcode {
	case ir.OpReturn, ir.OpReturnValue, ir.OpKill, ir.OpUnreachable:
		return true
	}
	return false
}

func idsOfBlocks(blocks []*ir.BasicBlock) []ir.Id {
	ids := make([]ir.Id, len(blocks))
	for i, b := range blocks {
		ids[i] = b.Id()
	}
	return ids
}

// succOf/predOf implement the direction-parameterized neighbour functions
// from: for Forward, a synthetic pseudo-entry (id ir.NoId)
// precedes the real entry; for Reverse, a synthetic pseudo-exit succeeds
// every return/kill/unreachable block and predecessor/successor roles swap.
func (dt *DominatorTree) succOf(id ir.Id) []ir.Id {
	fn := dt.cfg.Function()
	if dt.direction == Forward {
		if id == ir.NoId {
			if e := fn.Entry(); e != nil {
				return []ir.Id{e.Id()}
			}
			return nil
		}
		return idsOfBlocks(dt.cfg.Successors(fn.BlockById(id)))
	}
	if id == ir.NoId {
		var exits []ir.Id
		for _, bb := range fn.Blocks {
			if isExitBlock(bb) {
				exits = append(exits, bb.Id())
			}
		}
		return exits
	}
	return idsOfBlocks(dt.cfg.Predecessors(fn.BlockById(id)))
}

func (dt *DominatorTree) predOf(id ir.Id) []ir.Id {
	fn := dt.cfg.Function()
	if dt.direction == Forward {
		bb := fn.BlockById(id)
		preds := idsOfBlocks(dt.cfg.Predecessors(bb))
		if fn.Entry() != nil && id == fn.Entry().Id() {
			preds = append(preds, ir.NoId)
		}
		return preds
	}
	bb := fn.BlockById(id)
	preds := idsOfBlocks(dt.cfg.Successors(bb))
	if isExitBlock(bb) {
		preds = append(preds, ir.NoId)
	}
	return preds
}

// Build constructs the dominator (direction=Forward) or post-dominator
// (direction=Reverse) tree of cfg's function using the Cooper-Harvey-
// Kennedy iterative algorithm: a post-order DFS over succ,
// then fixpoint iteration over the reverse-post-order list intersecting
// each node's processed predecessors.
func Build(cfg *CFG, direction Direction) *DominatorTree {
	dt := &DominatorTree{direction: direction, cfg: cfg, nodes: make(map[ir.Id]*domNode)}

	postOrder := dt.dfsPostOrder()
	// index[id] = position in postOrder; higher postOrder number = visited/closed later.
	postIndex := make(map[ir.Id]int, len(postOrder))
	for i, id := range postOrder {
		postIndex[id] = i
	}
	rpo := make([]ir.Id, len(postOrder))
	for i, id := range postOrder {
		rpo[len(postOrder)-1-i] = id
	}

	idom := make(map[ir.Id]ir.Id)
	idom[ir.NoId] = ir.NoId // root dominates itself

	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == ir.NoId {
				continue
			}
			var newIdom ir.Id
			haveNewIdom := false
			for _, p := range dt.predOf(b) {
				if _, ok := idom[p]; !ok {
					continue // predecessor not processed yet
				}
				if !haveNewIdom {
					newIdom = p
					haveNewIdom = true
					continue
				}
				newIdom = intersect(newIdom, p, idom, postIndex)
			}
			if !haveNewIdom {
				continue
			}
			if prev, ok := idom[b]; !ok || prev != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	// Materialize nodes.
	for id := range idom {
		dt.nodes[id] = &domNode{id: id}
	}
	for id, node := range dt.nodes {
		if id == ir.NoId {
			dt.root = node
			continue
		}
		parent := dt.nodes[idom[id]]
		node.parent = parent
		parent.children = append(parent.children, node)
	}
	if dt.root == nil {
		dt.root = &domNode{id: ir.NoId}
		dt.nodes[ir.NoId] = dt.root
	}

	dt.assignCounters()
	return dt
}

func intersect(a, b ir.Id, idom map[ir.Id]ir.Id, postIndex map[ir.Id]int) ir.Id {
	for a != b {
		for postIndex[a] < postIndex[b] {
			a = idom[a]
		}
		for postIndex[b] < postIndex[a] {
			b = idom[b]
		}
	}
	return a
}

// dfsPostOrder performs an explicit-worklist depth-first traversal from
// the pseudo-root.
func (dt *DominatorTree) dfsPostOrder() []ir.Id {
	visited := make(map[ir.Id]bool)
	var order []ir.Id

	type frame struct {
		id       ir.Id
		children []ir.Id
		idx      int
	}
	var stack []*frame
	visited[ir.NoId] = true
	stack = append(stack, &frame{id: ir.NoId, children: dt.succOf(ir.NoId)})

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.idx < len(top.children) {
			child := top.children[top.idx]
			top.idx++
			if !visited[child] {
				visited[child] = true
				stack = append(stack, &frame{id: child, children: dt.succOf(child)})
			}
			continue
		}
		order = append(order, top.id)
		stack = stack[:len(stack)-1]
	}
	return order
}

// assignCounters performs the tree-shaped DFS that assigns pre/post
// counters used by the constant-time domination test.
func (dt *DominatorTree) assignCounters() {
	pre, post := 0, 0
	var visit func(n *domNode)
	visit = func(n *domNode) {
		n.pre = pre
		pre++
		for _, c := range n.children {
			visit(c)
		}
		n.post = post
		post++
	}
	visit(dt.root)
}

// Dominates reports whether a dominates b: reflexive, anti-symmetric
// outside equality, transitive. Absent nodes never dominate anything.
func (dt *DominatorTree) Dominates(a, b ir.Id) bool {
	na, ok := dt.nodes[a]
	if !ok {
		return false
	}
	nb, ok := dt.nodes[b]
	if !ok {
		return false
	}
	if a == b {
		return true
	}
	return na.pre < nb.pre && na.post > nb.post
}

// StrictlyDominates is Dominates excluding equality.
func (dt *DominatorTree) StrictlyDominates(a, b ir.Id) bool {
	return a != b && dt.Dominates(a, b)
}

// ImmediateDominator returns id's immediate (post-)dominator, or ir.NoId
// if id is the root or is absent from the tree.
func (dt *DominatorTree) ImmediateDominator(id ir.Id) ir.Id {
	n, ok := dt.nodes[id]
	if !ok || n.parent == nil {
		return ir.NoId
	}
	return n.parent.id
}

// PreOrder returns every non-root node's id in dominator-tree pre-order,
// the order LoopDescriptor construction walks to find OpLoopMerge headers
// in domination order.
func (dt *DominatorTree) PreOrder() []ir.Id {
	ids := make([]ir.Id, 0, len(dt.nodes))
	for id := range dt.nodes {
		if id == dt.root.id {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return dt.nodes[ids[i]].pre < dt.nodes[ids[j]].pre })
	return ids
}

// IsReachable reports whether id is present in the tree.
func (dt *DominatorTree) IsReachable(id ir.Id) bool {
	_, ok := dt.nodes[id]
	return ok
}

// Dominator builds fn's ordinary dominator tree.
func Dominator(fn *ir.Function) *DominatorTree {
	return Build(BuildCFG(fn), Forward)
}

// PostDominator builds fn's post-dominator tree.
func PostDominator(fn *ir.Function) *DominatorTree {
	return Build(BuildCFG(fn), Reverse)
}
