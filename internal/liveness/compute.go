package liveness

import (
	"spirvopt/internal/ir"
	"spirvopt/internal/loop"
)

// compute runs the three-stage pipeline: per-block liveness in post
// order, loop unification, then peak register pressure.
func (a *Analysis) compute() {
	for _, bb := range a.postOrder() {
		a.computePartialLiveness(bb)
	}
	a.unifyLoopLiveness()
	a.evaluateRegisterRequirements()
}

// postOrder visits successors before the block itself, which is what lets
// computePartialLiveness assume every non-back-edge successor is already
// populated by the time it runs.
func (a *Analysis) postOrder() []*ir.BasicBlock {
	rpo := a.cfg.ReversePostOrder()
	post := make([]*ir.BasicBlock, len(rpo))
	for i, bb := range rpo {
		post[len(rpo)-1-i] = bb
	}
	return post
}

// createsRegisterUsage reports whether insn occupies a register once
// defined: undef, constants and labels never do.
func createsRegisterUsage(insn *ir.Instruction) bool {
	if insn == nil || !insn.HasResult() {
		return false
	}
	switch insn.Opcode {
	case ir.OpUndef, ir.OpConstant, ir.OpConstantTrue, ir.OpConstantFalse, ir.OpConstantComposite, ir.OpLabel:
		return false
	}
	return true
}

// computePhiUses adds, to live, the value each of bb's successors' phis
// selects for the bb->successor edge.
func (a *Analysis) computePhiUses(bb *ir.BasicBlock, live LiveSet) {
	for _, succ := range a.cfg.Successors(bb) {
		for _, phi := range succ.Phis() {
			for i := 0; i+1 < len(phi.Operands); i += 2 {
				if phi.Operands[i+1].AsId() != bb.Id() {
					continue
				}
				if def := a.duse.GetDef(phi.Operands[i].AsId()); createsRegisterUsage(def) {
					live.Add(def)
				}
				break
			}
		}
	}
}

// excludePhiDefinedIn reports whether insn should survive a live-set
// filter when propagating into bb's predecessor: bb's own phis are
// resolved by computePhiUses instead, so they don't also get carried
// through verbatim.
func excludePhiDefinedIn(bb *ir.BasicBlock) func(*ir.Instruction) bool {
	return func(insn *ir.Instruction) bool {
		return !(insn.Opcode == ir.OpPhi && insn.Block() == bb)
	}
}

func (a *Analysis) computePartialLiveness(bb *ir.BasicBlock) {
	live := a.getOrInsert(bb.Id())
	a.computePhiUses(bb, live.LiveOut)

	keep := excludePhiDefinedIn(bb)
	for _, succ := range a.cfg.Successors(bb) {
		if a.dt.Dominates(succ.Id(), bb.Id()) {
			continue // back edge into a loop header
		}
		succLive := a.Get(succ)
		for insn := range succLive.LiveIn {
			if keep(insn) {
				live.LiveOut.Add(insn)
			}
		}
	}

	live.LiveIn = live.LiveOut.Clone()
	insns := bb.Instructions()
	for i := len(insns) - 1; i >= 0; i-- {
		insn := insns[i]
		if insn.Opcode == ir.OpPhi {
			live.LiveIn.Add(bb.Phis()...)
			break
		}
		if insn.HasResult() {
			delete(live.LiveIn, insn)
		}
		for _, op := range insn.Operands {
			if op.Type != ir.OperandIdRef {
				continue
			}
			if def := a.duse.GetDef(op.AsId()); createsRegisterUsage(def) {
				live.LiveIn.Add(def)
			}
		}
	}
}

// unifyLoopLiveness forces every value live in a loop's header (other than
// the header's own phis) live across the whole loop body, recursing into
// nested loops.
func (a *Analysis) unifyLoopLiveness() {
	if a.loops == nil {
		return
	}
	for _, l := range a.loops.Loops() {
		if !l.IsNested() {
			a.unifyLoopLivenessFor(l)
		}
	}
}

func (a *Analysis) unifyLoopLivenessFor(l *loop.Loop) {
	header := a.Get(l.Header())
	keep := excludePhiDefinedIn(l.Header())
	var liveLoop []*ir.Instruction
	for insn := range header.LiveIn {
		if keep(insn) {
			liveLoop = append(liveLoop, insn)
		}
	}

	for _, bb := range l.Blocks() {
		if bb.Id() == l.Header().Id() || a.loops.InnermostLoopContaining(bb) != l {
			continue
		}
		r := a.Get(bb)
		r.LiveIn.Add(liveLoop...)
		r.LiveOut.Add(liveLoop...)
	}

	for _, child := range l.Children() {
		r := a.Get(child.Header())
		r.LiveIn.Add(liveLoop...)
		r.LiveOut.Add(liveLoop...)
		a.unifyLoopLivenessFor(child)
	}
}

// evaluateRegisterRequirements walks each block bottom-up from its
// live-out set, tracking the running register count and recording its
// peak plus a class breakdown at that peak.
func (a *Analysis) evaluateRegisterRequirements() {
	for _, bb := range a.fn.Blocks {
		r := a.Get(bb)
		live := r.LiveOut.Clone()
		regCount := len(live)
		r.UsedRegisters = regCount
		peak := live.Clone()

		dieInBlock := make(map[ir.Id]bool)
		insns := bb.Instructions()
		for i := len(insns) - 1; i >= 0; i-- {
			insn := insns[i]
			if insn.Opcode == ir.OpPhi {
				break
			}
			if !createsRegisterUsage(insn) {
				continue
			}
			for _, op := range insn.Operands {
				if op.Type != ir.OperandIdRef {
					continue
				}
				def := a.duse.GetDef(op.AsId())
				if !createsRegisterUsage(def) || r.LiveOut[def] {
					continue
				}
				if !dieInBlock[def.ResultId] {
					live[def] = true
					regCount++
					dieInBlock[def.ResultId] = true
				}
			}
			if insn.HasResult() && dieInBlock[insn.ResultId] {
				delete(live, insn)
				regCount--
			}
			if regCount > r.UsedRegisters {
				r.UsedRegisters = regCount
				peak = live.Clone()
			}
		}
		for insn := range peak {
			r.addRegisterClass(a.classify(insn))
		}
	}
}

func (a *Analysis) classify(insn *ir.Instruction) RegisterClass {
	return RegisterClass{
		TypeId:    insn.TypeId,
		IsUniform: a.fn.Module().HasDecoration(insn.ResultId, ir.DecorationUniform),
	}
}
