// Package introspect is a read-only JSON-RPC server over IRContext
// snapshots: open a fixture file, see its pipeline diagnostics and loop
// structure as they change, the SPIR-V-tooling equivalent of the
// teacher's internal/lsp editor server for a text-based language. It
// never mutates a module outside of running the configured pipeline once
// per open/change notification; there is no code-action or rename
// surface; it exists to let a pipeline's effect on a fixture be observed,
// not edited through the wire protocol.
package introspect

import (
	"fmt"
	"log"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sasha-s/go-deadlock"
	"github.com/segmentio/ksuid"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"spirvopt/internal/config"
	"spirvopt/internal/ir"
	"spirvopt/internal/irctx"
	"spirvopt/internal/testasm"
)

// SemanticTokenTypes mirrors the teacher's token legend shape but names
// this domain's own categories.
var SemanticTokenTypes = []string{
	"function",
	"loopHeader",
	"loopLatch",
	"loopMerge",
	"induction",
}

var SemanticTokenModifiers = []string{
	"nested",
}

// snapshot is what a single open document resolves to: the parsed
// module, the context built over it, and the pipeline result from the
// last run.
type snapshot struct {
	sessionID ksuid.KSUID
	module    *ir.Module
	ctx       *irctx.Context
}

// Handler implements glsp's protocol.Handler callbacks against a table of
// open-document snapshots. mu is a deadlock.RWMutex rather than
// sync.RWMutex: the snapshot cache is read by SemanticTokensFull requests
// while a DidChange notification may be rebuilding it on another
// goroutine, and a silent self-deadlock here would be far harder to
// diagnose than in the teacher's single-threaded AST cache.
type Handler struct {
	mu        deadlock.RWMutex
	snapshots map[string]*snapshot
	pipeline  config.Pipeline
}

// NewHandler creates a Handler that runs p against every document it is
// asked to analyze.
func NewHandler(p config.Pipeline) *Handler {
	return &Handler{
		snapshots: make(map[string]*snapshot),
		pipeline:  p,
	}
}

func (h *Handler) Initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Println("introspect: Initialize called")
	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: ptrBool(true),
				Change:    ptrSyncKind(protocol.TextDocumentSyncKindFull),
			},
			SemanticTokensProvider: &protocol.SemanticTokensOptions{
				Legend: protocol.SemanticTokensLegend{
					TokenTypes:     SemanticTokenTypes,
					TokenModifiers: SemanticTokenModifiers,
				},
				Full: ptrBool(true),
			},
		},
	}, nil
}

func (h *Handler) Initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	log.Println("introspect: Initialized")
	return nil
}

func (h *Handler) Shutdown(ctx *glsp.Context) error {
	log.Println("introspect: Shutdown")
	return nil
}

func (h *Handler) TextDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	return h.analyze(ctx, params.TextDocument.URI, params.TextDocument.Text)
}

func (h *Handler) TextDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	if len(params.ContentChanges) == 0 {
		return nil
	}
	full, ok := params.ContentChanges[len(params.ContentChanges)-1].(protocol.TextDocumentContentChangeEventWhole)
	if !ok {
		return fmt.Errorf("introspect: expected a full-document change event")
	}
	return h.analyze(ctx, params.TextDocument.URI, full.Text)
}

func (h *Handler) TextDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	path, err := uriToPath(params.TextDocument.URI)
	if err != nil {
		return err
	}
	h.mu.Lock()
	delete(h.snapshots, path)
	h.mu.Unlock()
	return nil
}

func (h *Handler) analyze(ctx *glsp.Context, rawURI protocol.DocumentUri, text string) error {
	path, err := uriToPath(rawURI)
	if err != nil {
		return err
	}

	module, parseErr := testasm.Parse(path, text)
	if parseErr != nil {
		sendDiagnostics(ctx, rawURI, parseDiagnostic(parseErr))
		return nil
	}

	c := irctx.New(module)
	c.Strict = true

	passes, err := h.pipeline.Build()
	if err != nil {
		return fmt.Errorf("introspect: building pipeline: %w", err)
	}
	var diags []protocol.Diagnostic
	results := irctx.NewPassManager(passes...).Run(c)
	if n := len(results); n > 0 && results[n-1].Failed() {
		diags = append(diags, runDiagnostic(results[n-1].Err))
	} else {
		for _, fn := range module.Functions {
			diags = append(diags, verifyDiagnostics(c, fn)...)
		}
	}

	h.mu.Lock()
	h.snapshots[path] = &snapshot{sessionID: ksuid.New(), module: module, ctx: c}
	h.mu.Unlock()

	sendDiagnostics(ctx, rawURI, diags)
	return nil
}

func (h *Handler) TextDocumentSemanticTokensFull(ctx *glsp.Context, params *protocol.SemanticTokensParams) (*protocol.SemanticTokens, error) {
	path, err := uriToPath(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	snap, ok := h.snapshots[path]
	h.mu.RUnlock()
	if !ok {
		return &protocol.SemanticTokens{}, nil
	}

	var data []uint32
	for _, fn := range snap.module.Functions {
		data = append(data, collectLoopTokens(snap.ctx, fn)...)
	}
	return &protocol.SemanticTokens{Data: data}, nil
}

func uriToPath(rawURI string) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", fmt.Errorf("invalid URI %s: %w", rawURI, err)
	}
	path := u.Path
	if runtime.GOOS == "windows" && strings.HasPrefix(path, "/") && len(path) > 3 && path[2] == ':' {
		path = path[1:]
	}
	return filepath.FromSlash(path), nil
}

func sendDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, diags []protocol.Diagnostic) {
	if diags == nil {
		diags = []protocol.Diagnostic{}
	}
	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diags,
	})
}

func ptrBool(b bool) *bool { return &b }

func ptrSyncKind(k protocol.TextDocumentSyncKind) *protocol.TextDocumentSyncKind {
	return &k
}
