// Package ir is the IR substrate: Module, Function, BasicBlock, Instruction,
// Operand and InstructionList. Higher layers (analysis, loop, scalarev,
// dependence, liveness, transform, irctx) are built on top of these types
// and never reach into a raw word stream themselves; decoding SPIR-V binary
// into this shape is the decoder's job and is out of scope here.
package ir

import "fmt"

// Id is a SPIR-V numeric id. The zero value is the SPIR-V null id and is
// never the id of a real definition.
type Id uint32

// NoId is the null id: absent type id, absent result id, or an exhausted
// id bound (see Module.TakeNextId).
const NoId Id = 0

// Opcode names the SPIR-V instructions this package understands. This is a
// deliberately small subset: only what the loop analyses and transforms in
// actually inspect. A real decoder would carry the full opcode
// table (out of scope, see ).
type Opcode int

const (
	OpUnknown Opcode = iota

	// Module-level sections, in their required relative order.
	OpCapability
	OpExtension
	OpExtInstImport
	OpMemoryModel
	OpEntryPoint
	OpExecutionMode
	OpString
	OpName
	OpMemberName
	OpDecorate
	OpMemberDecorate
	OpTypeVoid
	OpTypeBool
	OpTypeInt
	OpTypeFloat
	OpTypeVector
	OpTypeArray
	OpTypePointer
	OpTypeFunction
	OpTypeStruct
	OpConstant
	OpConstantTrue
	OpConstantFalse
	OpConstantComposite
	OpUndef
	OpVariable

	// Functions.
	OpFunction
	OpFunctionParameter
	OpFunctionEnd
	OpFunctionCall

	// Basic block structure.
	OpLabel
	OpBranch
	OpBranchConditional
	OpSwitch
	OpPhi
	OpSelectionMerge
	OpLoopMerge
	OpReturn
	OpReturnValue
	OpKill
	OpUnreachable

	// Memory.
	OpLoad
	OpStore
	OpAccessChain
	OpInBoundsAccessChain

	// Arithmetic and comparison: the subset the scalar-evolution and
	// dependence analyses reason about.
	OpIAdd
	OpISub
	OpIMul
	OpSDiv
	OpUDiv
	OpSMod
	OpUMod
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpSLessThan
	OpSLessThanEqual
	OpSGreaterThan
	OpSGreaterThanEqual
	OpULessThan
	OpULessThanEqual
	OpUGreaterThan
	OpUGreaterThanEqual
	OpIEqual
	OpINotEqual
	OpLogicalAnd
	OpLogicalOr
	OpLogicalNot
	OpLogicalEqual
	OpSelect
	OpBitcast
	OpConvertFToS
	OpConvertSToF
	OpSNegate

	// Calls into barriers/atomics; conservatively opaque to LICM/fission.
	OpAtomicIAdd
	OpAtomicIIncrement
	OpControlBarrier
	OpMemoryBarrier
	OpExtInst
)

var opcodeNames = map[Opcode]string{
	OpUnknown: "OpUnknown", OpCapability: "OpCapability", OpExtension: "OpExtension",
	OpExtInstImport: "OpExtInstImport", OpMemoryModel: "OpMemoryModel", OpEntryPoint: "OpEntryPoint",
	OpExecutionMode: "OpExecutionMode", OpString: "OpString", OpName: "OpName",
	OpMemberName: "OpMemberName", OpDecorate: "OpDecorate", OpMemberDecorate: "OpMemberDecorate",
	OpTypeVoid: "OpTypeVoid", OpTypeBool: "OpTypeBool", OpTypeInt: "OpTypeInt",
	OpTypeFloat: "OpTypeFloat", OpTypeVector: "OpTypeVector", OpTypeArray: "OpTypeArray",
	OpTypePointer: "OpTypePointer", OpTypeFunction: "OpTypeFunction", OpTypeStruct: "OpTypeStruct",
	OpConstant: "OpConstant", OpConstantTrue: "OpConstantTrue", OpConstantFalse: "OpConstantFalse",
	OpConstantComposite: "OpConstantComposite", OpUndef: "OpUndef", OpVariable: "OpVariable",
	OpFunction: "OpFunction", OpFunctionParameter: "OpFunctionParameter", OpFunctionEnd: "OpFunctionEnd",
	OpFunctionCall: "OpFunctionCall", OpLabel: "OpLabel", OpBranch: "OpBranch",
	OpBranchConditional: "OpBranchConditional", OpSwitch: "OpSwitch", OpPhi: "OpPhi",
	OpSelectionMerge: "OpSelectionMerge", OpLoopMerge: "OpLoopMerge", OpReturn: "OpReturn",
	OpReturnValue: "OpReturnValue", OpKill: "OpKill", OpUnreachable: "OpUnreachable",
	OpLoad: "OpLoad", OpStore: "OpStore", OpAccessChain: "OpAccessChain",
	OpInBoundsAccessChain: "OpInBoundsAccessChain", OpIAdd: "OpIAdd", OpISub: "OpISub",
	OpIMul: "OpIMul", OpSDiv: "OpSDiv", OpUDiv: "OpUDiv", OpSMod: "OpSMod", OpUMod: "OpUMod",
	OpFAdd: "OpFAdd", OpFSub: "OpFSub", OpFMul: "OpFMul", OpFDiv: "OpFDiv",
	OpSLessThan: "OpSLessThan", OpSLessThanEqual: "OpSLessThanEqual",
	OpSGreaterThan: "OpSGreaterThan", OpSGreaterThanEqual: "OpSGreaterThanEqual",
	OpULessThan: "OpULessThan", OpULessThanEqual: "OpULessThanEqual",
	OpUGreaterThan: "OpUGreaterThan", OpUGreaterThanEqual: "OpUGreaterThanEqual",
	OpIEqual: "OpIEqual", OpINotEqual: "OpINotEqual", OpLogicalAnd: "OpLogicalAnd",
	OpLogicalOr: "OpLogicalOr", OpLogicalNot: "OpLogicalNot", OpLogicalEqual: "OpLogicalEqual",
	OpSelect: "OpSelect", OpBitcast: "OpBitcast", OpConvertFToS: "OpConvertFToS",
	OpConvertSToF: "OpConvertSToF", OpSNegate: "OpSNegate",
	OpAtomicIAdd: "OpAtomicIAdd", OpAtomicIIncrement: "OpAtomicIIncrement",
	OpControlBarrier: "OpControlBarrier", OpMemoryBarrier: "OpMemoryBarrier", OpExtInst: "OpExtInst",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(%d)", int(op))
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeNames))
	for op, n := range opcodeNames {
		m[n] = op
	}
	return m
}()

// OpcodeByName looks up an opcode by its textual mnemonic (e.g. "OpPhi"),
// for callers building a Module from a textual source rather than decoded
// binary words.
func OpcodeByName(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// IsTerminator reports whether op ends a basic block.
func (op Opcode) IsTerminator() bool {
	switch op {
	case OpBranch, OpBranchConditional, OpSwitch, OpReturn, OpReturnValue, OpKill, OpUnreachable:
		return true
	}
	return false
}

// IsMerge reports whether op is a structured merge instruction.
func (op Opcode) IsMerge() bool {
	return op == OpLoopMerge || op == OpSelectionMerge
}

// OperandType is the logical operand category: a grammar operand may be
// an id-ref, a literal, an enum, or a literal string.
type OperandType int

const (
	OperandIdRef OperandType = iota
	OperandLiteralInteger
	OperandLiteralString
	OperandLiteralEnum
)

// Operand is one logical operand of an instruction: one or more SPIR-V
// words, or a decoded string for OperandLiteralString.
type Operand struct {
	Type  OperandType
	Words []uint32
	Str   string
}

// MakeIdOperand builds an id-ref operand.
func MakeIdOperand(id Id) Operand {
	return Operand{Type: OperandIdRef, Words: []uint32{uint32(id)}}
}

// MakeLiteralOperand builds a single-word literal-integer or enum operand.
func MakeLiteralOperand(v uint32) Operand {
	return Operand{Type: OperandLiteralInteger, Words: []uint32{v}}
}

// MakeLiteralInt64Operand builds a two-word literal-integer operand, wide
// enough for any 64-bit induction-variable constant the loop analyses
// compute over.
func MakeLiteralInt64Operand(v int64) Operand {
	u := uint64(v)
	return Operand{Type: OperandLiteralInteger, Words: []uint32{uint32(u), uint32(u >> 32)}}
}

// MakeStringOperand builds a literal-string operand.
func MakeStringOperand(s string) Operand {
	return Operand{Type: OperandLiteralString, Str: s}
}

// AsId reads an id-ref operand.
func (o Operand) AsId() Id { return Id(o.Words[0]) }

// AsInt64 reads a one- or two-word literal integer as a signed 64-bit value.
func (o Operand) AsInt64() int64 {
	if len(o.Words) == 1 {
		return int64(int32(o.Words[0]))
	}
	return int64(uint64(o.Words[0]) | uint64(o.Words[1])<<32)
}

// Instruction is an opcode plus up to one type id, up to one result id, and
// a sequence of logical in-operands. UniqueId is assigned once at creation
// and never reused or reassigned, independent of ResultId which clones are
// free to renumber.
type Instruction struct {
	UniqueId   uint64
	Opcode     Opcode
	TypeId     Id
	ResultId   Id
	Operands   []Operand
	DebugLines []*Instruction // OpLine-shaped instructions textually attached to this one

	block *BasicBlock
}

// HasResult reports whether this instruction defines an id.
func (i *Instruction) HasResult() bool { return i.ResultId != NoId }

// Block returns the basic block currently owning this instruction, or nil
// for module-level (non-function) instructions.
func (i *Instruction) Block() *BasicBlock { return i.block }

// IsTerminator reports whether this instruction ends its basic block.
func (i *Instruction) IsTerminator() bool { return i.Opcode.IsTerminator() }

// IsMerge reports whether this instruction is a structured merge instruction.
func (i *Instruction) IsMerge() bool { return i.Opcode.IsMerge() }

func (i *Instruction) String() string {
	s := i.Opcode.String()
	if i.ResultId != NoId {
		s = fmt.Sprintf("%%%d = %s", i.ResultId, s)
	}
	if i.TypeId != NoId {
		s = fmt.Sprintf("%s %%%d", s, i.TypeId)
	}
	for _, op := range i.Operands {
		switch op.Type {
		case OperandIdRef:
			s += fmt.Sprintf(" %%%d", op.AsId())
		case OperandLiteralString:
			s += fmt.Sprintf(" %q", op.Str)
		default:
			s += fmt.Sprintf(" %d", op.AsInt64())
		}
	}
	return s
}

// InstructionList is the ordered, mutable body of a basic block (or a
// module section). It is a thin wrapper over a slice rather than the
// original's intrusive linked list: instructions are addressed by
// UniqueId, not by pointer stability, so a slice with O(n) splice is
// sufficient and, per, cheaper than a recursive-lambda list walk.
type InstructionList struct {
	items []*Instruction
}

func NewInstructionList(items ...*Instruction) *InstructionList {
	return &InstructionList{items: append([]*Instruction{}, items...)}
}

func (l *InstructionList) Len() int              { return len(l.items) }
func (l *InstructionList) At(i int) *Instruction { return l.items[i] }
func (l *InstructionList) Items() []*Instruction { return l.items }
func (l *InstructionList) Append(inst *Instruction) {
	l.items = append(l.items, inst)
}

func (l *InstructionList) IndexOf(inst *Instruction) int {
	for i, it := range l.items {
		if it == inst || it.UniqueId == inst.UniqueId {
			return i
		}
	}
	return -1
}

// InsertBefore splices inst immediately before target (by UniqueId).
func (l *InstructionList) InsertBefore(target, inst *Instruction) {
	idx := l.IndexOf(target)
	if idx < 0 {
		l.items = append(l.items, inst)
		return
	}
	l.items = append(l.items, nil)
	copy(l.items[idx+1:], l.items[idx:])
	l.items[idx] = inst
}

// InsertAfter splices inst immediately after target.
func (l *InstructionList) InsertAfter(target, inst *Instruction) {
	idx := l.IndexOf(target)
	if idx < 0 {
		l.items = append(l.items, inst)
		return
	}
	l.items = append(l.items, nil)
	copy(l.items[idx+2:], l.items[idx+1:])
	l.items[idx+1] = inst
}

// Remove deletes inst from the list. It is a no-op if inst is absent.
func (l *InstructionList) Remove(inst *Instruction) {
	idx := l.IndexOf(inst)
	if idx < 0 {
		return
	}
	l.items = append(l.items[:idx], l.items[idx+1:]...)
}

// BasicBlock is a non-empty, terminator-closed instruction sequence. The
// first instruction is always the OpLabel whose result id is the block's id.
type BasicBlock struct {
	label        *Instruction
	instructions *InstructionList
	fn           *Function
}

// NewBasicBlock creates an empty block owning label, which must be an
// OpLabel instruction.
func NewBasicBlock(label *Instruction) *BasicBlock {
	bb := &BasicBlock{label: label, instructions: NewInstructionList()}
	label.block = bb
	return bb
}

func (b *BasicBlock) Id() Id               { return b.label.ResultId }
func (b *BasicBlock) Label() *Instruction  { return b.label }
func (b *BasicBlock) Function() *Function  { return b.fn }

// Instructions returns the body after the label, in order, including any
// merge instruction and the terminator.
func (b *BasicBlock) Instructions() []*Instruction { return b.instructions.Items() }

// AllInstructions returns the label followed by the body.
func (b *BasicBlock) AllInstructions() []*Instruction {
	return append([]*Instruction{b.label}, b.instructions.Items()...)
}

func (b *BasicBlock) InstructionList() *InstructionList { return b.instructions }

// AddInstruction appends inst to the block body.
func (b *BasicBlock) AddInstruction(inst *Instruction) {
	inst.block = b
	b.instructions.Append(inst)
}

// Terminator returns the block's terminating instruction, or nil if the
// block is still under construction.
func (b *BasicBlock) Terminator() *Instruction {
	items := b.instructions.Items()
	if len(items) == 0 {
		return nil
	}
	last := items[len(items)-1]
	if last.IsTerminator() {
		return last
	}
	return nil
}

// MergeInst returns the block's OpLoopMerge/OpSelectionMerge instruction,
// if any. It always immediately precedes the terminator.
func (b *BasicBlock) MergeInst() *Instruction {
	items := b.instructions.Items()
	if len(items) < 2 {
		return nil
	}
	cand := items[len(items)-2]
	if cand.IsMerge() {
		return cand
	}
	return nil
}

// IsLoopHeader reports whether this block carries an OpLoopMerge.
func (b *BasicBlock) IsLoopHeader() bool {
	m := b.MergeInst()
	return m != nil && m.Opcode == OpLoopMerge
}

// Phis returns the leading run of OpPhi instructions in the block.
func (b *BasicBlock) Phis() []*Instruction {
	var phis []*Instruction
	for _, inst := range b.instructions.Items() {
		if inst.Opcode != OpPhi {
			break
		}
		phis = append(phis, inst)
	}
	return phis
}

// KillInstruction removes inst from the block's instruction list.
func (b *BasicBlock) KillInstruction(inst *Instruction) {
	b.instructions.Remove(inst)
	inst.block = nil
}

// Function is an ordered, non-empty sequence of basic blocks; Blocks[0] is
// the entry block.
type Function struct {
	DefInst *Instruction // OpFunction
	Params  []*Instruction
	Blocks  []*BasicBlock
	EndInst *Instruction // OpFunctionEnd

	module *Module
}

func (f *Function) Module() *Module { return f.module }
func (f *Function) ResultId() Id    { return f.DefInst.ResultId }
func (f *Function) Entry() *BasicBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// AddBasicBlock appends bb to the function and back-links it.
func (f *Function) AddBasicBlock(bb *BasicBlock) {
	bb.fn = f
	f.Blocks = append(f.Blocks, bb)
}

// BlockById finds a block by its label id, or nil.
func (f *Function) BlockById(id Id) *BasicBlock {
	for _, bb := range f.Blocks {
		if bb.Id() == id {
			return bb
		}
	}
	return nil
}

// ForEachInstruction visits every instruction in the function, block order
// then in-block order.
func (f *Function) ForEachInstruction(visit func(*Instruction)) {
	for _, bb := range f.Blocks {
		visit(bb.label)
		for _, inst := range bb.Instructions() {
			visit(inst)
		}
	}
}

// RemoveBasicBlock deletes bb from the function's block list.
func (f *Function) RemoveBasicBlock(bb *BasicBlock) {
	for i, b := range f.Blocks {
		if b == bb {
			f.Blocks = append(f.Blocks[:i], f.Blocks[i+1:]...)
			return
		}
	}
}

// InsertBasicBlockAfter splices a new block into the function's order
// immediately after "after", preserving the textual-layout invariant that
// structured regions stay contiguous.
func (f *Function) InsertBasicBlockAfter(after, bb *BasicBlock) {
	bb.fn = f
	for i, b := range f.Blocks {
		if b == after {
			f.Blocks = append(f.Blocks, nil)
			copy(f.Blocks[i+2:], f.Blocks[i+1:])
			f.Blocks[i+1] = bb
			return
		}
	}
	f.Blocks = append(f.Blocks, bb)
}

// ModuleHeader is the 5-word SPIR-V binary header.
type ModuleHeader struct {
	Magic     uint32
	Version   uint32
	Generator uint32
	IdBound   uint32
	Reserved  uint32
}

// Module is the top-level IR: an ordered sequence of sections plus all
// functions it owns.
type Module struct {
	Header ModuleHeader

	Capabilities   []*Instruction
	Extensions     []*Instruction
	ExtInstImports []*Instruction
	MemoryModel    *Instruction
	EntryPoints    []*Instruction
	ExecutionModes []*Instruction
	DebugInsts     []*Instruction
	Annotations    []*Instruction
	Types          []*Instruction // types, constants, global variables

	Functions []*Function

	nextUniqueId uint64
}

// NewModule creates an empty module with a fresh id-bound of 1 (id 0 is
// reserved as the null id).
func NewModule() *Module {
	return &Module{Header: ModuleHeader{Magic: 0x07230203, IdBound: 1}}
}

// TakeNextId allocates and returns a fresh result id, or NoId if the
// 32-bit id space is exhausted. Callers treat exhaustion as a Failure,
// not a panic.
func (m *Module) TakeNextId() Id {
	if m.Header.IdBound >= 0xFFFFFFFF {
		return NoId
	}
	id := Id(m.Header.IdBound)
	m.Header.IdBound++
	return id
}

// NewInstruction allocates a fresh, unowned instruction with a fresh
// UniqueId. The caller chooses ResultId (via TakeNextId, or an explicit id
// for clones) and is responsible for inserting the instruction somewhere.
func (m *Module) NewInstruction(op Opcode, typeId, resultId Id, operands ...Operand) *Instruction {
	m.nextUniqueId++
	return &Instruction{
		UniqueId: m.nextUniqueId,
		Opcode:   op,
		TypeId:   typeId,
		ResultId: resultId,
		Operands: append([]Operand{}, operands...),
	}
}

// NewFunction allocates and registers a new function.
func (m *Module) NewFunction(defInst *Instruction, params []*Instruction, endInst *Instruction) *Function {
	fn := &Function{DefInst: defInst, Params: params, EndInst: endInst, module: m}
	m.Functions = append(m.Functions, fn)
	return fn
}

// ForEachFunction visits every function.
func (m *Module) ForEachFunction(visit func(*Function)) {
	for _, fn := range m.Functions {
		visit(fn)
	}
}

// ForEachInstruction visits every instruction in the module, including
// module-level (non-function) sections.
func (m *Module) ForEachInstruction(visit func(*Instruction)) {
	if m.MemoryModel != nil {
		visit(m.MemoryModel)
	}
	sections := [][]*Instruction{m.Capabilities, m.Extensions, m.ExtInstImports, m.EntryPoints,
		m.ExecutionModes, m.DebugInsts, m.Annotations, m.Types}
	for _, sec := range sections {
		for _, inst := range sec {
			visit(inst)
		}
	}
	for _, fn := range m.Functions {
		if fn.DefInst != nil {
			visit(fn.DefInst)
		}
		for _, p := range fn.Params {
			visit(p)
		}
		fn.ForEachInstruction(visit)
		if fn.EndInst != nil {
			visit(fn.EndInst)
		}
	}
}

// FunctionById finds a function by its OpFunction result id.
func (m *Module) FunctionById(id Id) *Function {
	for _, fn := range m.Functions {
		if fn.ResultId() == id {
			return fn
		}
	}
	return nil
}

// allowedExtensions is the fixed allow-list from A module
// declaring any other OpExtension is passed through unchanged by every
// pass in this repository.
var allowedExtensions = map[string]bool{
	"SPV_KHR_shader_ballot":                true,
	"SPV_KHR_shader_draw_parameters":       true,
	"SPV_KHR_subgroup_vote":                true,
	"SPV_KHR_16bit_storage":                true,
	"SPV_KHR_device_group":                 true,
	"SPV_KHR_multiview":                    true,
	"SPV_KHR_variable_pointers":            true,
	"SPV_KHR_post_depth_coverage":          true,
	"SPV_KHR_shader_atomic_counter_ops":    true,
	"SPV_KHR_storage_buffer_storage_class": true,
}

// ExtensionsAccepted reports whether every OpExtension this module
// declares is in the allow-list.
func (m *Module) ExtensionsAccepted() bool {
	for _, ext := range m.Extensions {
		if len(ext.Operands) == 0 {
			continue
		}
		if !allowedExtensions[ext.Operands[0].Str] {
			return false
		}
	}
	return true
}

// Decoration is a SPIR-V decoration kind. Only the one value the register-
// liveness analysis inspects is
// named here.
type Decoration uint32

const DecorationUniform Decoration = 26

// HasDecoration reports whether id carries an OpDecorate annotation of the
// given kind.
func (m *Module) HasDecoration(id Id, kind Decoration) bool {
	for _, dec := range m.Annotations {
		if dec.Opcode != OpDecorate || len(dec.Operands) < 2 {
			continue
		}
		if dec.Operands[0].AsId() == id && Decoration(dec.Operands[1].AsInt64()) == kind {
			return true
		}
	}
	return false
}
