// Package testasm is a small textual fixture language for building
// ir.Module values without a binary decoder (out of scope for this
// repository, see internal/ir's package doc). It exists for tests and the
// fixture-file argument of cmd/spirvopt, generalizing kanso's own
// grammar/parser.go struct-tag technique to a line-oriented SPIR-V-like
// assembly instead of a source language's full expression grammar.
package testasm

import "github.com/alecthomas/participle/v2/lexer"

// Lexer tokenizes the fixture language: %-prefixed symbols (block labels,
// result ids, and named constants all share one namespace), the const/fn/
// block keywords, bare identifiers for opcode mnemonics, integer literals,
// and the handful of punctuation marks a flat instruction list needs.
// Keywords get their own token type so an instruction's @Ident opcode
// never swallows the "block" that starts the next block.
var Lexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `;[^\n]*`},
	{Name: "Id", Pattern: `%[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Keyword", Pattern: `(?:const|fn|block)\b`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Int", Pattern: `-?[0-9]+`},
	{Name: "Punct", Pattern: `[{}:=]`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
})

// Source is a sequence of top-level declarations: named constants and
// functions, in any order (a constant may be declared after the function
// that references it).
type Source struct {
	Decls []*Decl `@@*`
}

type Decl struct {
	Const *ConstDecl `  @@`
	Func  *FuncDecl  `| @@`
}

// ConstDecl declares a single OpConstant by name: `const %bound = 10`.
type ConstDecl struct {
	Name  string `"const" @Id "="`
	Value int64  `@Int`
}

// FuncDecl is a function as a flat list of labeled blocks.
type FuncDecl struct {
	Name   string       `"fn" @Id "{"`
	Blocks []*BlockDecl `@@* "}"`
}

// BlockDecl is one basic block: a label followed by its instructions, in
// textual order, terminator included.
type BlockDecl struct {
	Name  string      `"block" @Id ":"`
	Insts []*InstDecl `@@*`
}

// InstDecl is one instruction: an optional result binding, an opcode
// mnemonic matched against ir.OpcodeByName, and its operands. Operands
// disambiguate id-refs from literals lexically (%-prefixed vs bare
// integer) rather than by a per-opcode operand-shape table, since the
// fixture language only needs to round-trip what a human would write by
// hand for a test.
type InstDecl struct {
	Result string `[ @Id "=" ]`
	Op     string `@Ident`
	Args   []*Arg `@@*`
}

type Arg struct {
	Id  *string `  @Id`
	Int *int64  `| @Int`
}
