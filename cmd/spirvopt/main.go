// cmd/spirvopt is a thin diagnostic dump for the testasm fixture
// language: not a pass-pipeline configuration driver (that is explicitly
// out of scope for this repository), just enough of a front door to run
// the default pipeline over a fixture file and print what happened.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"spirvopt/internal/config"
	"spirvopt/internal/irctx"
	"spirvopt/internal/testasm"
	"spirvopt/internal/transform"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: spirvopt <fixture.spvasm>")
		os.Exit(1)
	}

	path := os.Args[1]
	source, err := os.ReadFile(path)
	if err != nil {
		color.Red("failed to read file: %s", err)
		os.Exit(1)
	}

	module, err := testasm.Parse(path, string(source))
	if err != nil {
		color.Red("parse error in %s: %s", path, err)
		os.Exit(1)
	}

	c := irctx.New(module)
	c.Strict = true

	pipeline := config.DefaultPipeline()
	passes, err := pipeline.Build()
	if err != nil {
		color.Red("invalid pipeline: %s", err)
		os.Exit(1)
	}

	pm := irctx.NewPassManager(passes...)
	changed := false
	for _, res := range pm.Run(c) {
		if res.Failed() {
			color.Red("pipeline failed: %s", res.Err)
			os.Exit(1)
		}
		if res.Changed() {
			changed = true
		}
	}

	for _, fn := range module.Functions {
		if verr := transform.VerifyCFG(c, fn); verr != nil {
			color.Yellow("function %d failed post-pipeline verification: %s", fn.ResultId(), verr)
		}
	}

	if changed {
		color.Green("✅ %s: pipeline applied at least one transform", path)
	} else {
		color.Green("✅ %s: pipeline made no changes", path)
	}
}
