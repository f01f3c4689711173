// Package irctx is the orchestration layer: IRContext owns a module, lazily
// builds and caches the analyses the rest of the repository defines, and
// gives passes a single, consistent place to request them and to mutate the
// module in ways that keep those caches honest.
package irctx

import (
	"spirvopt/internal/analysis"
	"spirvopt/internal/dependence"
	"spirvopt/internal/ir"
	"spirvopt/internal/liveness"
	"spirvopt/internal/loop"
	"spirvopt/internal/scalarev"
)

// Kind names one of the cacheable analyses a pass can request or preserve.
// Register-pressure, constants, types and decorations are module-wide bits
// that some passes ask to preserve even though this repository computes
// the latter three by direct inspection of Module fields rather than a
// separate cached structure: there is nothing to build or drop for them
// beyond the bit itself.
type Kind int

const (
	KindDefUse Kind = iota
	KindInstrToBlock
	KindDominator
	KindPostDominator
	KindCFG
	KindLoop
	KindRegisterPressure
	KindConstants
	KindTypes
	KindDecorations
	KindScalarEvolution
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindDefUse:
		return "def-use"
	case KindInstrToBlock:
		return "instr-to-block"
	case KindDominator:
		return "dominator"
	case KindPostDominator:
		return "post-dominator"
	case KindCFG:
		return "cfg"
	case KindLoop:
		return "loop"
	case KindRegisterPressure:
		return "register-pressure"
	case KindConstants:
		return "constants"
	case KindTypes:
		return "types"
	case KindDecorations:
		return "decorations"
	case KindScalarEvolution:
		return "scalar-evolution"
	default:
		return "unknown"
	}
}

// AllKinds is every analysis bit, in a stable order, used to build and
// iterate preserve sets.
var AllKinds = [...]Kind{
	KindDefUse, KindInstrToBlock, KindDominator, KindPostDominator, KindCFG,
	KindLoop, KindRegisterPressure, KindConstants, KindTypes, KindDecorations,
	KindScalarEvolution,
}

type funcAnalyses struct {
	cfg      *analysis.CFG
	dom      *analysis.DominatorTree
	postDom  *analysis.DominatorTree
	loops    *loop.Descriptor
	deps     *dependence.Analysis
	se       *scalarev.Analysis
	liveness *liveness.Analysis
}

// Context wraps a module with the lazily-built, cached analyses passes
// request through it, plus the mutation API that keeps those caches valid
// or drops them.
type Context struct {
	module *ir.Module
	valid  [numKinds]bool

	duse       *analysis.DefUseManager
	instrBlock map[uint64]*ir.BasicBlock
	perFunc    map[*ir.Function]*funcAnalyses

	// Strict makes the introspection server run transform.VerifyCFG over
	// each function after the whole pipeline. PassManager.Run does not
	// read it and does not verify between passes.
	Strict bool
}

// New wraps module in a fresh context with no analysis cached.
func New(module *ir.Module) *Context {
	return &Context{
		module:     module,
		instrBlock: make(map[uint64]*ir.BasicBlock),
		perFunc:    make(map[*ir.Function]*funcAnalyses),
	}
}

func (c *Context) Module() *ir.Module { return c.module }

func (c *Context) valid_(k Kind) bool { return c.valid[k] }

func (c *Context) funcState(fn *ir.Function) *funcAnalyses {
	fa, ok := c.perFunc[fn]
	if !ok {
		fa = &funcAnalyses{}
		c.perFunc[fn] = fa
	}
	return fa
}

// IsValid reports whether the analysis named by k is currently cached.
func (c *Context) IsValid(k Kind) bool { return c.valid[k] }

// CFG lazily builds and caches fn's control-flow graph.
func (c *Context) CFG(fn *ir.Function) *analysis.CFG {
	fa := c.funcState(fn)
	if !c.valid[KindCFG] || fa.cfg == nil {
		fa.cfg = analysis.BuildCFG(fn)
		c.valid[KindCFG] = true
	}
	return fa.cfg
}

// DefUse lazily builds and caches the module-wide def-use manager.
func (c *Context) DefUse() *analysis.DefUseManager {
	if !c.valid[KindDefUse] || c.duse == nil {
		c.duse = analysis.AnalyzeDefUse(c.module)
		c.valid[KindDefUse] = true
		c.rebuildInstrToBlock()
	}
	return c.duse
}

// Dominator lazily builds and caches fn's dominator tree.
func (c *Context) Dominator(fn *ir.Function) *analysis.DominatorTree {
	fa := c.funcState(fn)
	if !c.valid[KindDominator] || fa.dom == nil {
		fa.dom = analysis.Build(c.CFG(fn), analysis.Forward)
		c.valid[KindDominator] = true
	}
	return fa.dom
}

// PostDominator lazily builds and caches fn's post-dominator tree.
func (c *Context) PostDominator(fn *ir.Function) *analysis.DominatorTree {
	fa := c.funcState(fn)
	if !c.valid[KindPostDominator] || fa.postDom == nil {
		fa.postDom = analysis.Build(c.CFG(fn), analysis.Reverse)
		c.valid[KindPostDominator] = true
	}
	return fa.postDom
}

// LoopDescriptor lazily builds and caches fn's loop nest.
func (c *Context) LoopDescriptor(fn *ir.Function) *loop.Descriptor {
	fa := c.funcState(fn)
	if !c.valid[KindLoop] || fa.loops == nil {
		fa.loops = loop.Build(fn)
		c.valid[KindLoop] = true
	}
	return fa.loops
}

// ScalarEvolution lazily builds and caches fn's scalar-evolution analysis,
// sharing the def-use and loop analyses already cached on the context
// rather than each pass building its own.
func (c *Context) ScalarEvolution(fn *ir.Function) *scalarev.Analysis {
	fa := c.funcState(fn)
	if !c.valid[KindScalarEvolution] || fa.se == nil {
		fa.se = scalarev.New(c.DefUse(), c.LoopDescriptor(fn))
		c.valid[KindScalarEvolution] = true
	}
	return fa.se
}

// Dependence lazily builds fn's dependence analysis. It is not a Kind of
// its own, since it layers directly on the loop and scalar-evolution
// analyses; it is rebuilt whenever either of those bits is rebuilt.
func (c *Context) Dependence(fn *ir.Function) *dependence.Analysis {
	fa := c.funcState(fn)
	if fa.deps == nil || !c.valid[KindLoop] || !c.valid[KindScalarEvolution] {
		fa.deps = dependence.New(c.DefUse(), c.LoopDescriptor(fn), c.ScalarEvolution(fn))
	}
	return fa.deps
}

// RegisterLiveness lazily builds and caches fn's register-liveness analysis.
func (c *Context) RegisterLiveness(fn *ir.Function) *liveness.Analysis {
	fa := c.funcState(fn)
	if !c.valid[KindRegisterPressure] || fa.liveness == nil {
		fa.liveness = liveness.New(fn, c.LoopDescriptor(fn))
		c.valid[KindRegisterPressure] = true
	}
	return fa.liveness
}

func (c *Context) rebuildInstrToBlock() {
	c.instrBlock = make(map[uint64]*ir.BasicBlock)
	c.module.ForEachFunction(func(fn *ir.Function) {
		for _, bb := range fn.Blocks {
			for _, inst := range bb.AllInstructions() {
				c.instrBlock[inst.UniqueId] = bb
			}
		}
	})
	c.valid[KindInstrToBlock] = true
}

// InstrBlock returns the block currently owning inst, consulting the
// cached instruction-to-block map if valid and inst.Block() directly
// otherwise.
func (c *Context) InstrBlock(inst *ir.Instruction) *ir.BasicBlock {
	if c.valid[KindInstrToBlock] {
		if bb, ok := c.instrBlock[inst.UniqueId]; ok {
			return bb
		}
	}
	return inst.Block()
}

// InvalidateExcept drops every cached analysis whose Kind is not in
// preserve, the contract a transformation pass declares at completion.
func (c *Context) InvalidateExcept(preserve ...Kind) {
	keep := make(map[Kind]bool, len(preserve))
	for _, k := range preserve {
		keep[k] = true
	}
	for _, k := range AllKinds {
		if !keep[k] {
			c.valid[k] = false
		}
	}
	if !keep[KindDefUse] {
		c.duse = nil
	}
	if !keep[KindInstrToBlock] {
		c.instrBlock = nil
	}
	for fn, fa := range c.perFunc {
		if !keep[KindCFG] {
			fa.cfg = nil
		}
		if !keep[KindDominator] {
			fa.dom = nil
		}
		if !keep[KindPostDominator] {
			fa.postDom = nil
		}
		if !keep[KindLoop] {
			fa.loops = nil
		}
		if !keep[KindScalarEvolution] {
			fa.se = nil
			fa.deps = nil
		}
		if !keep[KindRegisterPressure] {
			fa.liveness = nil
		}
		c.perFunc[fn] = fa
	}
}

// InvalidateAll drops every cached analysis.
func (c *Context) InvalidateAll() { c.InvalidateExcept() }
