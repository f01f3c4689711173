package transform

import (
	"testing"

	"spirvopt/internal/ir"
	"spirvopt/internal/irctx"
)

// buildLoopWithTwoArrayUpdates builds a counting loop whose body updates two
// arrays through independent access chains:
//
//	body: %ac0 = OpAccessChain %arrA %i
//	      %l0  = OpLoad %ac0
//	      %a0  = OpIAdd %l0 %one
//	            OpStore %ac0 %a0
//	      %ac1 = OpAccessChain %arrB %i
//	      %l1  = OpLoad %ac1
//	      %a1  = OpIAdd %l1 %two
//	            OpStore %ac1 %a1
//	            OpBranch %latch
//
// When arrA != arrB the two update chains share nothing but the induction
// variable, so they partition into two fission candidates. Passing the same
// array as both arrA and arrB instead produces a pair the dependence check
// must refuse to split.
func buildLoopWithTwoArrayUpdates(m *ir.Module, arrA, arrB ir.Id) (*ir.Function, map[string]*ir.BasicBlock) {
	fnDef := m.NewInstruction(ir.OpFunction, ir.NoId, m.TakeNextId())
	fnEnd := m.NewInstruction(ir.OpFunctionEnd, ir.NoId, ir.NoId)
	fn := m.NewFunction(fnDef, nil, fnEnd)

	zero := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(0))
	one := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(1))
	two := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(2))
	bound := m.NewInstruction(ir.OpConstant, ir.NoId, m.TakeNextId(), ir.MakeLiteralInt64Operand(10))
	m.Types = append(m.Types, zero, one, two, bound)

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

	ac0 := m.NewInstruction(ir.OpAccessChain, ir.NoId, m.TakeNextId(),
		ir.MakeIdOperand(arrA), ir.MakeIdOperand(iPhiId))
	load0 := m.NewInstruction(ir.OpLoad, ir.NoId, m.TakeNextId(), ir.MakeIdOperand(ac0.ResultId))
	add0 := m.NewInstruction(ir.OpIAdd, ir.NoId, m.TakeNextId(),
		ir.MakeIdOperand(load0.ResultId), ir.MakeIdOperand(one.ResultId))
	store0 := m.NewInstruction(ir.OpStore, ir.NoId, ir.NoId,
		ir.MakeIdOperand(ac0.ResultId), ir.MakeIdOperand(add0.ResultId))

	ac1 := m.NewInstruction(ir.OpAccessChain, ir.NoId, m.TakeNextId(),
		ir.MakeIdOperand(arrB), ir.MakeIdOperand(iPhiId))
	load1 := m.NewInstruction(ir.OpLoad, ir.NoId, m.TakeNextId(), ir.MakeIdOperand(ac1.ResultId))
	add1 := m.NewInstruction(ir.OpIAdd, ir.NoId, m.TakeNextId(),
		ir.MakeIdOperand(load1.ResultId), ir.MakeIdOperand(two.ResultId))
	store1 := m.NewInstruction(ir.OpStore, ir.NoId, ir.NoId,
		ir.MakeIdOperand(ac1.ResultId), ir.MakeIdOperand(add1.ResultId))

	for _, inst := range []*ir.Instruction{ac0, load0, add0, store0, ac1, load1, add1, store1} {
		body.AddInstruction(inst)
	}
	body.AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(latch.Id())))

	latch.AddInstruction(m.NewInstruction(ir.OpIAdd, ir.NoId, incId,
		ir.MakeIdOperand(iPhiId), ir.MakeIdOperand(one.ResultId)))
	latch.AddInstruction(m.NewInstruction(ir.OpBranch, ir.NoId, ir.NoId, ir.MakeIdOperand(header.Id())))

	merge.AddInstruction(m.NewInstruction(ir.OpReturn, ir.NoId, ir.NoId))

	for _, bb := range []*ir.BasicBlock{entry, header, check, body, latch, merge} {
		fn.AddBasicBlock(bb)
	}

	return fn, map[string]*ir.BasicBlock{
		"entry": entry, "header": header, "check": check,
		"body": body, "latch": latch, "merge": merge,
	}
}

func TestFissionSplitsIndependentArrayUpdates(t *testing.T) {
	m := ir.NewModule()
	arrA := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	arrB := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	m.Types = append(m.Types, arrA, arrB)

	fn, bb := buildLoopWithTwoArrayUpdates(m, arrA.ResultId, arrB.ResultId)
	c := irctx.New(m)

	res := Fission{}.Run(c)
	if res.Failed() {
		t.Fatalf("fission failed: %v", res.Err)
	}
	if !res.Changed() {
		t.Fatal("expected fission to report a change for two independent array updates")
	}

	// header + check + body + latch, original plus one clone, plus entry
	// and merge which are untouched.
	want := 2 + 2*4
	if got := len(fn.Blocks); got != want {
		t.Fatalf("expected %d blocks after fission, got %d", want, got)
	}

	sawArrA, sawArrB := false, false
	for _, inst := range bb["body"].Instructions() {
		if inst.Opcode == ir.OpAccessChain {
			switch inst.Operands[0].AsId() {
			case arrA.ResultId:
				sawArrA = true
			case arrB.ResultId:
				sawArrB = true
			}
		}
	}
	if sawArrA && sawArrB {
		t.Fatal("original body should retain only one array's update chain after fission")
	}
	if !sawArrA && !sawArrB {
		t.Fatal("original body should still retain exactly one array's update chain")
	}
}

func TestFissionDeclinesOnCrossDependentArrays(t *testing.T) {
	m := ir.NewModule()
	arr := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	m.Types = append(m.Types, arr)

	fn, _ := buildLoopWithTwoArrayUpdates(m, arr.ResultId, arr.ResultId)
	c := irctx.New(m)

	res := Fission{}.Run(c)
	if res.Failed() {
		t.Fatalf("fission failed: %v", res.Err)
	}
	if res.Changed() {
		t.Fatal("expected no change when both update chains touch the same array")
	}
	_ = fn
}

func TestFissionDeclinesUnderRegisterPressureBudget(t *testing.T) {
	m := ir.NewModule()
	arrA := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	arrB := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	m.Types = append(m.Types, arrA, arrB)

	fn, _ := buildLoopWithTwoArrayUpdates(m, arrA.ResultId, arrB.ResultId)
	c := irctx.New(m)

	res := Fission{Budget: 1000000}.Run(c)
	if res.Failed() {
		t.Fatalf("fission failed: %v", res.Err)
	}
	if res.Changed() {
		t.Fatal("expected no split when register pressure is far under the budget")
	}
	_ = fn
}

func TestFissionSplitsOverRegisterPressureBudget(t *testing.T) {
	m := ir.NewModule()
	arrA := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	arrB := m.NewInstruction(ir.OpVariable, ir.NoId, m.TakeNextId())
	m.Types = append(m.Types, arrA, arrB)

	fn, _ := buildLoopWithTwoArrayUpdates(m, arrA.ResultId, arrB.ResultId)
	c := irctx.New(m)

	res := Fission{Budget: 1}.Run(c)
	if res.Failed() {
		t.Fatalf("fission failed: %v", res.Err)
	}
	if !res.Changed() {
		t.Fatal("expected a split once register pressure exceeds a budget of 1")
	}
	_ = fn
}

func TestFissionDeclinesWithoutTwoPartitions(t *testing.T) {
	m := ir.NewModule()
	fn, _ := buildCountingLoopForLICM(m)
	c := irctx.New(m)

	res := Fission{}.Run(c)
	if res.Failed() {
		t.Fatalf("fission failed: %v", res.Err)
	}
	if res.Changed() {
		t.Fatal("expected no change when the body has nothing to partition")
	}
	_ = fn
}
