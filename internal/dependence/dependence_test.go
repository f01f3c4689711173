package dependence

import (
	"testing"

	"spirvopt/internal/analysis"
	"spirvopt/internal/ir"
	"spirvopt/internal/loop"
	"spirvopt/internal/scalarev"
)

// buildCountingLoop builds `for i := 0; i < bound; i++` with an empty body
// block the caller populates with memory accesses, mirroring the fixture
// internal/loop and internal/scalarev's tests already use. bound is either
// a folded constant or, for the symbolic-bound property test, an opaque
// OpFunctionParameter.
func buildCountingLoop(m *ir.Module, zero, one, bound *ir.Instruction) (*ir.Function, *ir.BasicBlock, ir.Id) {
	fnDef := m.NewInstruction(ir.OpFunction, ir.NoId, m.TakeNextId())
	fnEnd := m.NewInstruction(ir.OpFunctionEnd, ir.NoId, ir.NoId)
	fn := m.NewFunction(fnDef, nil, fnEnd)

	entry := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	header := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	check := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	body := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	latch := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))
	merge := ir.NewBasicBlock(m.NewInstruction(ir.OpLabel, ir.NoId, m.TakeNextId()))

	iPhiId := m.TakeNextId()
	incId := m.TakeNextId()
	condId := m.TakeNextId()

	entry.AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(header.Id())))

	iPhi := m.NewInstruction(ir.OpPhi, ir.NoId, iPhiId,
		ir.MakeIdOperand(zero.ResultId), ir.MakeIdOperand(entry.Id()),
		ir.MakeIdOperand(incId), ir.MakeIdOperand(latch.Id()))
	header.AddInstruction(iPhi)
	header.AddInstruction(m.NewInstruction(ir.OpLoopMerge, ir.NoId, ir.NoId,
		ir.MakeIdOperand(merge.Id()), ir.MakeIdOperand(latch.Id()), ir.MakeLiteralOperand(0)))
	header.AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(check.Id())))

	check.AddInstruction(m.NewInstruction(ir.OpSLessThan, ir.NoId, condId,
		ir.MakeIdOperand(iPhiId), ir.MakeIdOperand(bound.ResultId)))
	check.AddInstruction(m.NewInstruction(ir.OpBranchConditional, ir.NoId, ir.NoId,
		ir.MakeIdOperand(condId), ir.MakeIdOperand(body.Id()), ir.MakeIdOperand(merge.Id())))

	body.AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(latch.Id())))

	latch.AddInstruction(m.NewInstruction(ir.OpIAdd, ir.NoId, incId,
		ir.MakeIdOperand(iPhiId), ir.MakeIdOperand(one.ResultId)))
	latch.AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(header.Id())))

	merge.AddInstruction(m.NewInstruction(ir.OpReturn, ir.NoId, ir.NoId))

	for _, bb := range []*ir.BasicBlock{entry, header, check, body, latch, merge} {
		fn.AddBasicBlock(bb)
	}

	return fn, body, iPhiId
}

// addLoadAt inserts `%result = OpLoad(OpAccessChain(base, subscript))` as
// the body block's first instruction (before its terminator), returning
// the load's result id.
func addLoadAt(m *ir.Module, body *ir.BasicBlock, base, subscript ir.Id) ir.Id {
	chain := m.NewInstruction(ir.OpAccessChain, ir.NoId, m.TakeNextId(),
		ir.MakeIdOperand(base), ir.MakeIdOperand(subscript))
	load := m.NewInstruction(ir.OpLoad, ir.NoId, m.TakeNextId(), ir.MakeIdOperand(chain.ResultId))
	insertBeforeTerminator(body, chain)
	insertBeforeTerminator(body, load)
	return load.ResultId
}

// addStoreAt inserts `OpStore(OpAccessChain(base, subscript), value)` as
// the body block's first instruction (before its terminator).
func addStoreAt(m *ir.Module, body *ir.BasicBlock, base, subscript, value ir.Id) ir.Id {
	chain := m.NewInstruction(ir.OpAccessChain, ir.NoId, m.TakeNextId(),
		ir.MakeIdOperand(base), ir.MakeIdOperand(subscript))
	store := m.NewInstruction(ir.OpStore, ir.NoId, ir.NoId,
		ir.MakeIdOperand(chain.ResultId), ir.MakeIdOperand(value))
	insertBeforeTerminator(body, chain)
	insertBeforeTerminator(body, store)
	return store.ResultId
}

func insertBeforeTerminator(body *ir.BasicBlock, inst *ir.Instruction) {
	body.InstructionList().InsertBefore(body.Terminator(), inst)
}

func setup(m *ir.Module, fn *ir.Function) *Analysis {
	duse := analysis.AnalyzeDefUse(m)
	loops := loop.Build(fn)
	return New(duse, loops, scalarev.New(duse, loops))
}

func TestZIVIndependentOnDistinctConstants(t *testing.T) {
	m := ir.NewModule()
	zero := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	one := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(1))
	bound := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(10))
	arrVar := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	idxA := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(5))
	idxB := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(6))
	value := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	m.Types = append(m.Types, zero, one, bound, arrVar, idxA, idxB, value)

	fn, body, _ := buildCountingLoop(m, zero, one, bound)
	loadId := addLoadAt(m, body, arrVar.ResultId, idxA.ResultId)
	addStoreAt(m, body, arrVar.ResultId, idxB.ResultId, value.ResultId)

	a := setup(m, fn)
	loadInst := a.duse.GetDef(loadId)
	storeInst := findStore(body)

	independent, _ := a.GetDependence(loadInst, storeInst)
	if !independent {
		t.Fatalf("expected ZIV pair on distinct constants to be independent")
	}
}

func TestZIVDependentOnEqualConstants(t *testing.T) {
	m := ir.NewModule()
	zero := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	one := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(1))
	bound := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(10))
	arrVar := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	idx := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(5))
	value := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	m.Types = append(m.Types, zero, one, bound, arrVar, idx, value)

	fn, body, _ := buildCountingLoop(m, zero, one, bound)
	loadId := addLoadAt(m, body, arrVar.ResultId, idx.ResultId)
	addStoreAt(m, body, arrVar.ResultId, idx.ResultId, value.ResultId)

	a := setup(m, fn)
	loadInst := a.duse.GetDef(loadId)
	storeInst := findStore(body)

	independent, vector := a.GetDependence(loadInst, storeInst)
	if independent {
		t.Fatalf("expected ZIV pair on equal constants to be dependent")
	}
	if len(vector) != 1 || vector[0].Direction != DirEQ || vector[0].Distance != 0 {
		t.Fatalf("expected a single EQ/0 entry, got %+v", vector)
	}
}

func TestStrongSIVWithinBoundsReportsDistance(t *testing.T) {
	m := ir.NewModule()
	zero := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	one := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(1))
	bound := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(10))
	arrVar := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	two := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(2))
	value := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	m.Types = append(m.Types, zero, one, bound, arrVar, two, value)

	fn, body, iPhiId := buildCountingLoop(m, zero, one, bound)

	// load A[i], store A[i+2]: distance = (0-2)/1 = -2, within the loop's
	// span of 9, so dependence survives with direction GT.
	loadId := addLoadAt(m, body, arrVar.ResultId, iPhiId)
	iPlus2 := m.NewInstruction(ir.OpIAdd, ir.NoId, m.TakeNextId(),
		ir.MakeIdOperand(iPhiId), ir.MakeIdOperand(two.ResultId))
	insertBeforeTerminator(body, iPlus2)
	addStoreAt(m, body, arrVar.ResultId, iPlus2.ResultId, value.ResultId)

	a := setup(m, fn)
	loadInst := a.duse.GetDef(loadId)
	storeInst := findStore(body)

	independent, vector := a.GetDependence(loadInst, storeInst)
	if independent {
		t.Fatalf("expected dependence to survive within the loop's trip span")
	}
	if len(vector) != 1 || vector[0].Direction != DirGT || vector[0].Distance != -2 {
		t.Fatalf("expected GT/-2, got %+v", vector)
	}
}

func TestStrongSIVOutsideBoundsIsIndependent(t *testing.T) {
	m := ir.NewModule()
	zero := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	one := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(1))
	bound := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(10))
	arrVar := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	twenty := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(20))
	value := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	m.Types = append(m.Types, zero, one, bound, arrVar, twenty, value)

	fn, body, iPhiId := buildCountingLoop(m, zero, one, bound)

	loadId := addLoadAt(m, body, arrVar.ResultId, iPhiId)
	iPlus20 := m.NewInstruction(ir.OpIAdd, ir.NoId, m.TakeNextId(),
		ir.MakeIdOperand(iPhiId), ir.MakeIdOperand(twenty.ResultId))
	insertBeforeTerminator(body, iPlus20)
	addStoreAt(m, body, arrVar.ResultId, iPlus20.ResultId, value.ResultId)

	a := setup(m, fn)
	loadInst := a.duse.GetDef(loadId)
	storeInst := findStore(body)

	independent, _ := a.GetDependence(loadInst, storeInst)
	if !independent {
		t.Fatalf("expected a distance of 20 to exceed the loop's span of 9")
	}
}

func TestSymbolicStrongSIVProvesIndependence(t *testing.T) {
	m := ir.NewModule()
	zero := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	one := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(1))
	n := m.NewInstruction(ir.OpFunctionParameter, ir.NoId, m.TakeNextId())
	arrVar := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	value := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	m.Types = append(m.Types, zero, one, arrVar, value)

	fn, body, iPhiId := buildCountingLoop(m, zero, one, n)
	fn.Params = append(fn.Params, n)

	// load A[i + 2N], store A[i + N]: the index gap is exactly N, which
	// exceeds the loop's maximum achievable span of N-1 (	// strong-SIV symbolic property).
	twoN := m.NewInstruction(ir.OpIAdd, ir.NoId, m.TakeNextId(),
		ir.MakeIdOperand(n.ResultId), ir.MakeIdOperand(n.ResultId))
	iPlus2N := m.NewInstruction(ir.OpIAdd, ir.NoId, m.TakeNextId(),
		ir.MakeIdOperand(iPhiId), ir.MakeIdOperand(twoN.ResultId))
	insertBeforeTerminator(body, twoN)
	insertBeforeTerminator(body, iPlus2N)
	loadId := addLoadAt(m, body, arrVar.ResultId, iPlus2N.ResultId)

	iPlusN := m.NewInstruction(ir.OpIAdd, ir.NoId, m.TakeNextId(),
		ir.MakeIdOperand(iPhiId), ir.MakeIdOperand(n.ResultId))
	insertBeforeTerminator(body, iPlusN)
	addStoreAt(m, body, arrVar.ResultId, iPlusN.ResultId, value.ResultId)

	a := setup(m, fn)
	loadInst := a.duse.GetDef(loadId)
	storeInst := findStore(body)

	independent, _ := a.GetDependence(loadInst, storeInst)
	if !independent {
		t.Fatalf("expected the symbolic strong-SIV test to prove independence")
	}
}

func TestWeakZeroSIVMiddleTripReportsAllDirection(t *testing.T) {
	m := ir.NewModule()
	zero := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	one := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(1))
	bound := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(10))
	arrVar := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	five := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(5))
	value := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	m.Types = append(m.Types, zero, one, bound, arrVar, five, value)

	fn, body, iPhiId := buildCountingLoop(m, zero, one, bound)

	// load A[5], store A[i]: i ranges over 0..9, so the store aliases the
	// load on the trip where i==5, a mid-range hit reported with DirAll
	// rather than a peel.
	loadId := addLoadAt(m, body, arrVar.ResultId, five.ResultId)
	addStoreAt(m, body, arrVar.ResultId, iPhiId, value.ResultId)

	a := setup(m, fn)
	loadInst := a.duse.GetDef(loadId)
	storeInst := findStore(body)

	independent, vector := a.GetDependence(loadInst, storeInst)
	if independent {
		t.Fatalf("expected a weak-zero SIV hit inside the trip range to be dependent")
	}
	if len(vector) != 1 || vector[0].Info != InfoDistance || vector[0].Direction != DirAll || vector[0].Distance != 5 {
		t.Fatalf("expected distance 5 with all directions, got %+v", vector)
	}
}

func TestWeakZeroSIVAtFirstTripReportsPeel(t *testing.T) {
	m := ir.NewModule()
	zero := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	one := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(1))
	bound := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(10))
	arrVar := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	value := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	m.Types = append(m.Types, zero, one, bound, arrVar, value)

	fn, body, iPhiId := buildCountingLoop(m, zero, one, bound)

	// load A[0], store A[i]: the only aliasing trip is the loop's first
	// (i==0), so the pair can be resolved with a peel of the first trip.
	loadId := addLoadAt(m, body, arrVar.ResultId, zero.ResultId)
	addStoreAt(m, body, arrVar.ResultId, iPhiId, value.ResultId)

	a := setup(m, fn)
	loadInst := a.duse.GetDef(loadId)
	storeInst := findStore(body)

	independent, vector := a.GetDependence(loadInst, storeInst)
	if independent {
		t.Fatalf("expected a weak-zero SIV hit at the first trip to be dependent")
	}
	if len(vector) != 1 || vector[0].Info != InfoPeel || !vector[0].PeelFirst {
		t.Fatalf("expected a peel-first entry, got %+v", vector)
	}
}

func findStore(body *ir.BasicBlock) *ir.Instruction {
	for _, inst := range body.Instructions() {
		if inst.Opcode == ir.OpStore {
			return inst
		}
	}
	return nil
}
