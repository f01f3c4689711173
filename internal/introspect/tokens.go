package introspect

import (
	"spirvopt/internal/ir"
	"spirvopt/internal/irctx"
)

// collectLoopTokens reports one semantic token per block that loop
// structure gives a distinguished role to. testasm's grammar doesn't
// carry literal source positions through into ir.Instruction the way the
// teacher's AST nodes carry a lexer.Position (out of scope: this
// repository's IR has no textual form of its own, see internal/ir's
// package doc), so each token's line is the block's index within its
// function in declaration order, which is exactly the fixture source's
// line order for any function written one block per line.
func collectLoopTokens(c *irctx.Context, fn *ir.Function) []uint32 {
	desc := c.LoopDescriptor(fn)
	header := make(map[ir.Id]bool)
	latch := make(map[ir.Id]bool)
	merge := make(map[ir.Id]bool)
	nested := make(map[ir.Id]bool)

	for _, l := range desc.Loops() {
		header[l.Header().Id()] = true
		latch[l.Latch().Id()] = true
		merge[l.Merge().Id()] = true
		if l.IsNested() {
			nested[l.Header().Id()] = true
		}
	}

	var tokens []uint32
	var prevLine uint32
	for i, bb := range fn.Blocks {
		tokType, ok := classify(bb.Id(), header, latch, merge)
		if !ok {
			continue
		}
		line := uint32(i)
		deltaLine := line - prevLine
		prevLine = line
		modifiers := 0
		if nested[bb.Id()] {
			modifiers = 1 << indexOf("nested", SemanticTokenModifiers)
		}
		tokens = append(tokens, deltaLine, 0, 1, uint32(indexOf(tokType, SemanticTokenTypes)), uint32(modifiers))
	}
	return tokens
}

func classify(id ir.Id, header, latch, merge map[ir.Id]bool) (string, bool) {
	switch {
	case header[id]:
		return "loopHeader", true
	case latch[id]:
		return "loopLatch", true
	case merge[id]:
		return "loopMerge", true
	default:
		return "", false
	}
}

func indexOf(target string, list []string) int {
	for i, v := range list {
		if v == target {
			return i
		}
	}
	return -1
}
