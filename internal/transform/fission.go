package transform

import (
	"spirvopt/internal/ir"
	"spirvopt/internal/irctx"
	"spirvopt/internal/loop"
)

// Fission is loop distribution: when a loop's body computes two
// unrelated things, splitting it into two loops running in sequence can
// let one half vectorize, pipeline, or get hoisted where the combined
// body couldn't. Grounded on
// loop_fission.cpp's LoopFissionImpl (BuildRelatedSets partitioning
// instructions by def-use reachability, CanPerformSplit checking the two
// partitions don't carry a dependence across iterations, SplitLoop
// cloning the loop and pruning each copy to its own partition). This
// repository narrows BuildRelatedSets' general multi-seed traversal to a
// two-component union-find over a single interior block's non-terminator
// instructions, since anything with more than one natural split point or
// a more complex control flow shape needs case analysis this package's
// other transforms also decline rather than attempt.
type Fission struct {
	// Budget is the register-pressure threshold, grounded on
	// register_pressure.h/.cpp's simulated register budget: a loop is only
	// a fission candidate while its measured register pressure
	// (liveness.ComputeLoopRegisterPressure's UsedRegisters, via
	// irctx.Context.RegisterLiveness) exceeds Budget. After a successful
	// split, both resulting loops are re-measured on the next outer
	// iteration, so a loop keeps getting split as long as it (or its
	// successor half) is still over budget and still has a splittable
	// two-partition body. Budget <= 0 means unconditional: every eligible
	// loop is split once, independent of measured pressure, matching this
	// pass's behavior before pressure was wired in.
	Budget int
}

func (Fission) Name() string           { return "loop-fission" }
func (Fission) Preserve() []irctx.Kind { return nil }

func (f Fission) Run(c *irctx.Context) irctx.Result {
	changed := false
	for _, fn := range c.Module().Functions {
		declined := map[ir.Id]bool{}
		for {
			d := c.LoopDescriptor(fn)
			progressed := false
			for _, l := range d.Loops() {
				if declined[l.Header().Id()] {
					continue
				}
				if !f.exceedsBudget(c, fn, l) {
					continue
				}
				if fissionOne(c, fn, l) {
					progressed = true
					changed = true
					c.InvalidateAll()
					break
				}
				declined[l.Header().Id()] = true
			}
			if !progressed {
				break
			}
		}
	}
	return irctx.Ok(changed)
}

// exceedsBudget reports whether l's measured register pressure is still
// over f.Budget, recursing after a split the same way
// LoopFissionImpl::ShouldSplitOnRegisterPressure keeps splitting while the
// simulated register count is over its target.
func (f Fission) exceedsBudget(c *irctx.Context, fn *ir.Function, l *loop.Loop) bool {
	if f.Budget <= 0 {
		return true
	}
	pressure := c.RegisterLiveness(fn).ComputeLoopRegisterPressure(l)
	return pressure.UsedRegisters > f.Budget
}

func fissionOne(c *irctx.Context, fn *ir.Function, l *loop.Loop) bool {
	iv, ok := simpleLoopShape(l)
	if !ok {
		return false
	}
	interior := interiorBlocks(l)
	if len(interior) != 1 {
		return false
	}
	body := interior[0]

	groups := partitionByDataFlow(body, iv)
	if groups == nil {
		return false
	}
	if hasCrossGroupDependence(c, fn, groups) {
		return false
	}

	module := c.Module()
	header := l.Header()
	merge := l.Merge()
	preHeader := l.PreHeader()

	// The clone is attached at the pre-header and runs first, keeping
	// group 0; the original loop, kept in place, runs second and keeps
	// group 1, matching loop_fission.cpp's own placement convention.
	firstLoop := loop.CloneLoop(module, l)
	clonedBody := firstLoop.BlockByOldId(body.Id())
	origInsts := body.Instructions()
	clonedInsts := clonedBody.Instructions()
	for idx, orig := range origInsts {
		if groups[1][orig] {
			clonedBody.KillInstruction(clonedInsts[idx])
		} else if groups[0][orig] {
			body.KillInstruction(orig)
		}
	}

	cursor := preHeader
	for i, bb := range firstLoop.Blocks {
		fn.InsertBasicBlockAfter(cursor, bb)
		cursor = bb
		nameIteration(module, bb, "fission_first", i)
	}

	loop.RetargetBranches([]*ir.BasicBlock{preHeader}, header.Id(), firstLoop.BlockByOldId(header.Id()).Id())
	loop.RetargetBranches(firstLoop.Blocks, merge.Id(), header.Id())
	return true
}

// partitionByDataFlow groups body's instructions into connected
// components by SSA def-use, ignoring edges through the induction phi or
// its increment (every split loop keeps its own copy of that machinery,
// so sharing it isn't a reason to keep two computations together).
// Declines (returns nil) if the body contains anything outside
// ir.IsMovable's whitelist — a barrier or call could observably run once
// instead of twice, or in the wrong relative order, once the body is
// split across two loops — or unless the movable instructions form
// exactly two components.
func partitionByDataFlow(body *ir.BasicBlock, iv *loop.InductionVariable) []map[*ir.Instruction]bool {
	var movable []*ir.Instruction
	for _, inst := range body.Instructions() {
		if inst.IsTerminator() {
			continue
		}
		if !ir.IsMovable(inst) {
			return nil
		}
		movable = append(movable, inst)
	}
	if len(movable) < 2 {
		return nil
	}

	parent := make(map[*ir.Instruction]*ir.Instruction, len(movable))
	byResult := make(map[ir.Id]*ir.Instruction, len(movable))
	for _, inst := range movable {
		parent[inst] = inst
		if inst.HasResult() {
			byResult[inst.ResultId] = inst
		}
	}
	var find func(*ir.Instruction) *ir.Instruction
	find = func(x *ir.Instruction) *ir.Instruction {
		for parent[x] != x {
			x = parent[x]
		}
		return x
	}
	union := func(a, b *ir.Instruction) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, inst := range movable {
		for _, op := range inst.Operands {
			if op.Type != ir.OperandIdRef {
				continue
			}
			id := op.AsId()
			if id == iv.Phi.ResultId || id == iv.StepInst.ResultId {
				continue
			}
			if def, ok := byResult[id]; ok {
				union(inst, def)
			}
		}
	}

	byRoot := make(map[*ir.Instruction][]*ir.Instruction)
	for _, inst := range movable {
		root := find(inst)
		byRoot[root] = append(byRoot[root], inst)
	}
	if len(byRoot) != 2 {
		return nil
	}

	groups := make([]map[*ir.Instruction]bool, 0, 2)
	for _, members := range byRoot {
		set := make(map[*ir.Instruction]bool, len(members))
		for _, inst := range members {
			set[inst] = true
		}
		groups = append(groups, set)
	}
	return groups
}

func hasCrossGroupDependence(c *irctx.Context, fn *ir.Function, groups []map[*ir.Instruction]bool) bool {
	dep := c.Dependence(fn)
	var memA, memB []*ir.Instruction
	for inst := range groups[0] {
		if isMemoryOp(inst) {
			memA = append(memA, inst)
		}
	}
	for inst := range groups[1] {
		if isMemoryOp(inst) {
			memB = append(memB, inst)
		}
	}
	for _, a := range memA {
		for _, b := range memB {
			independent, _ := dep.GetDependence(a, b)
			if !independent {
				return true
			}
		}
	}
	return false
}

func isMemoryOp(inst *ir.Instruction) bool {
	return inst.Opcode == ir.OpLoad || inst.Opcode == ir.OpStore
}
