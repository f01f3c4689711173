// Package liveness computes per-basic-block register liveness and peak
// register pressure over a function's control-flow graph, the resource
// the loop transforms consult before deciding whether an unroll or
// fission would blow out register pressure.
package liveness

import (
	"spirvopt/internal/analysis"
	"spirvopt/internal/ir"
	"spirvopt/internal/loop"
)

// RegisterClass buckets a live SSA value by its declared type and whether
// it carries a Uniform decoration.
type RegisterClass struct {
	TypeId    ir.Id
	IsUniform bool
}

// RegisterClassCount pairs a class with how many live values at the peak
// fall into it.
type RegisterClassCount struct {
	Class RegisterClass
	Count int
}

// LiveSet is an unordered set of instructions, keyed by identity.
type LiveSet map[*ir.Instruction]bool

// Clone returns a shallow copy of s.
func (s LiveSet) Clone() LiveSet {
	out := make(LiveSet, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

// Add inserts every instruction in insts into s.
func (s LiveSet) Add(insts ...*ir.Instruction) {
	for _, i := range insts {
		s[i] = true
	}
}

// RegionLiveness is the live-in/live-out and register-pressure summary for
// one basic block, or for an aggregated loop region.
type RegionLiveness struct {
	LiveIn  LiveSet
	LiveOut LiveSet

	UsedRegisters   int
	RegisterClasses []RegisterClassCount
}

func newRegionLiveness() *RegionLiveness {
	return &RegionLiveness{LiveIn: LiveSet{}, LiveOut: LiveSet{}}
}

func (r *RegionLiveness) addRegisterClass(class RegisterClass) {
	for i := range r.RegisterClasses {
		if r.RegisterClasses[i].Class == class {
			r.RegisterClasses[i].Count++
			return
		}
	}
	r.RegisterClasses = append(r.RegisterClasses, RegisterClassCount{Class: class, Count: 1})
}

// Analysis is the per-function register-liveness analysis.
type Analysis struct {
	fn    *ir.Function
	cfg   *analysis.CFG
	dt    *analysis.DominatorTree
	duse  *analysis.DefUseManager
	loops *loop.Descriptor

	blocks map[ir.Id]*RegionLiveness
}

// New computes register liveness for fn, using loops for the loop-
// unification step. loops may be nil for a function with no recognised
// loops.
func New(fn *ir.Function, loops *loop.Descriptor) *Analysis {
	a := &Analysis{
		fn:     fn,
		cfg:    analysis.BuildCFG(fn),
		dt:     analysis.Dominator(fn),
		duse:   analysis.AnalyzeDefUse(fn.Module()),
		loops:  loops,
		blocks: make(map[ir.Id]*RegionLiveness),
	}
	a.compute()
	return a
}

// Get returns bb's computed liveness, or nil if bb was not part of the
// analysed function.
func (a *Analysis) Get(bb *ir.BasicBlock) *RegionLiveness { return a.blocks[bb.Id()] }

func (a *Analysis) getOrInsert(id ir.Id) *RegionLiveness {
	r, ok := a.blocks[id]
	if !ok {
		r = newRegionLiveness()
		a.blocks[id] = r
	}
	return r
}
