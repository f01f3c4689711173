package irctx

import "spirvopt/internal/diagnostics"

// Status is the three-way discriminated result every pass returns:
// no exceptions, no panics, every fallible operation surfaces through
// this instead.
type Status int

const (
	SuccessNoChange Status = iota
	SuccessWithChange
	Failure
)

func (s Status) String() string {
	switch s {
	case SuccessNoChange:
		return "success-no-change"
	case SuccessWithChange:
		return "success-with-change"
	default:
		return "failure"
	}
}

// Result carries a Status plus, for Failure, the diagnostics.Error that
// explains it. A Failure result guarantees the context's module was not
// mutated.
type Result struct {
	Status Status
	Err    *diagnostics.Error
}

// Ok builds a successful result, changed reflecting whether the pass
// actually mutated the module.
func Ok(changed bool) Result {
	if changed {
		return Result{Status: SuccessWithChange}
	}
	return Result{Status: SuccessNoChange}
}

// Fail builds a Failure result carrying err.
func Fail(err *diagnostics.Error) Result {
	return Result{Status: Failure, Err: err}
}

func (r Result) Changed() bool { return r.Status == SuccessWithChange }
func (r Result) Failed() bool  { return r.Status == Failure }

// Pass is one transformation or analysis-only pipeline stage. Preserve
// names the analyses the pass guarantees remain valid on success; the
// PassManager invalidates everything else via Context.InvalidateExcept
// after a successful, changed run.
type Pass interface {
	Name() string
	Run(c *Context) Result
	Preserve() []Kind
}

// PassManager runs a fixed pipeline of passes over one context in order,
// applying each pass's declared preserve set between runs. It is a thin
// driver, not the pass-pipeline CLI itself.
type PassManager struct {
	passes []Pass
}

func NewPassManager(passes ...Pass) *PassManager {
	return &PassManager{passes: passes}
}

// Run executes every pass in order against c, stopping at the first
// Failure. It returns the per-pass results in order, so a caller can tell
// exactly which pass failed and which earlier passes changed the module.
func (pm *PassManager) Run(c *Context) []Result {
	var results []Result
	for _, p := range pm.passes {
		res := p.Run(c)
		results = append(results, res)
		if res.Failed() {
			return results
		}
		if res.Changed() {
			c.InvalidateExcept(p.Preserve()...)
		}
	}
	return results
}
