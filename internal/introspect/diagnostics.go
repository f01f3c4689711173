package introspect

import (
	"github.com/alecthomas/participle/v2"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"spirvopt/internal/diagnostics"
	"spirvopt/internal/ir"
	"spirvopt/internal/irctx"
	"spirvopt/internal/transform"
)

func ptrSeverity(s protocol.DiagnosticSeverity) *protocol.DiagnosticSeverity { return &s }
func ptrString(s string) *string                                            { return &s }

// parseDiagnostic reports a testasm grammar error at its reported line,
// following the teacher's ConvertParseErrors convention of a small fixed
// span rather than trying to recover the offending token's exact width.
func parseDiagnostic(err error) []protocol.Diagnostic {
	line, col := 0, 0
	if perr, ok := err.(participle.Error); ok {
		pos := perr.Position()
		line, col = pos.Line-1, pos.Column-1
	}
	return []protocol.Diagnostic{{
		Range: protocol.Range{
			Start: protocol.Position{Line: uint32(max0(line)), Character: uint32(max0(col))},
			End:   protocol.Position{Line: uint32(max0(line)), Character: uint32(max0(col) + 1)},
		},
		Severity: ptrSeverity(protocol.DiagnosticSeverityError),
		Source:   ptrString("spirvopt-testasm"),
		Message:  err.Error(),
	}}
}

// runDiagnostic reports a pass failure. A transform.Pass failure has no
// source position of its own (it's about a module's structure, not a
// line of fixture text), so it is reported against the document start
// the way a whole-file compile error would be.
func runDiagnostic(err *diagnostics.Error) protocol.Diagnostic {
	return protocol.Diagnostic{
		Range:    protocol.Range{Start: protocol.Position{}, End: protocol.Position{Character: 1}},
		Severity: ptrSeverity(protocol.DiagnosticSeverityError),
		Source:   ptrString("spirvopt-pipeline"),
		Message:  err.Error(),
	}
}

// verifyDiagnostics reports whatever transform.VerifyCFG finds wrong with
// fn after a pipeline run; it returns nil without verifying when
// Context.Strict is false.
func verifyDiagnostics(c *irctx.Context, fn *ir.Function) []protocol.Diagnostic {
	if !c.Strict {
		return nil
	}
	if err := transform.VerifyCFG(c, fn); err != nil {
		return []protocol.Diagnostic{{
			Range:    protocol.Range{Start: protocol.Position{}, End: protocol.Position{Character: 1}},
			Severity: ptrSeverity(protocol.DiagnosticSeverityWarning),
			Source:   ptrString("spirvopt-verify"),
			Message:  err.Error(),
		}}
	}
	return nil
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
