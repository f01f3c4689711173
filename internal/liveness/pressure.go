package liveness

import (
	"spirvopt/internal/ir"
	"spirvopt/internal/loop"
)

// exitBlocks returns l's body blocks that branch to a block outside l.
func (a *Analysis) exitBlocks(l *loop.Loop) []*ir.BasicBlock {
	var out []*ir.BasicBlock
	for _, bb := range l.Blocks() {
		for _, succ := range a.cfg.Successors(bb) {
			if !l.Contains(succ) {
				out = append(out, bb)
				break
			}
		}
	}
	return out
}

// ComputeLoopRegisterPressure aggregates the region liveness of l as a
// whole: the header's live-in set, and the live-in (not live-out) sets of
// every block that exits the loop, unioned into live-out. This mirrors
// RegisterLiveness::ComputeLoopRegisterPressure exactly, including its use
// of an exit block's live-in rather than its live-out. UsedRegisters is
// the size of the union of the loop's live-in and live-out sets, and
// RegisterClasses buckets every value in that union; there is no
// instruction-by-instruction peak walk as in evaluateRegisterRequirements.
func (a *Analysis) ComputeLoopRegisterPressure(l *loop.Loop) *RegionLiveness {
	out := newRegionLiveness()

	header := a.Get(l.Header())
	out.LiveIn = header.LiveIn.Clone()

	for _, bb := range a.exitBlocks(l) {
		live := a.Get(bb)
		for insn := range live.LiveIn {
			out.LiveOut[insn] = true
		}
	}

	live := make(map[*ir.Instruction]bool, len(out.LiveIn)+len(out.LiveOut))
	for insn := range out.LiveIn {
		live[insn] = true
	}
	for insn := range out.LiveOut {
		live[insn] = true
	}
	for insn := range live {
		out.addRegisterClass(a.classify(insn))
	}
	out.UsedRegisters = len(live)

	return out
}
