package main

import (
	"log"
	"os"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"spirvopt/internal/config"
	"spirvopt/internal/introspect"
)

const serverName = "spirvopt-introspect"

var version = "0.0.1"

func main() {
	commonlog.Configure(1, nil)

	h := introspect.NewHandler(config.DefaultPipeline())
	handler := protocol.Handler{
		Initialize:                     h.Initialize,
		Initialized:                    h.Initialized,
		Shutdown:                       h.Shutdown,
		TextDocumentDidOpen:            h.TextDocumentDidOpen,
		TextDocumentDidClose:           h.TextDocumentDidClose,
		TextDocumentDidChange:          h.TextDocumentDidChange,
		TextDocumentSemanticTokensFull: h.TextDocumentSemanticTokensFull,
	}

	s := server.NewServer(&handler, serverName, false)

	log.Println("Starting spirvopt introspect server...")
	if err := s.RunStdio(); err != nil {
		log.Println("Error starting spirvopt introspect server:", err)
		os.Exit(1)
	}
}
