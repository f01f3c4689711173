package analysis

import (
	"sort"

	"spirvopt/internal/ir"
)

// use is one (user, operand-index) pair recording where a def is used.
// Kept sorted by (def.UniqueId, user.UniqueId) per so that
// users of one def are contiguous and ForEachUser visits them in a
// deterministic order.
type use struct {
	user     *ir.Instruction
	operand  int
	uniqueId uint64
}

// DefUseManager maintains the two relations and #4.2 describe:
// id -> defining instruction, and defining instruction -> uses.
type DefUseManager struct {
	defs map[ir.Id]*ir.Instruction
	uses map[ir.Id][]use // keyed by the def's result id
}

// NewDefUseManager builds an empty manager; call AnalyzeDefUse to populate
// it from a module.
func NewDefUseManager() *DefUseManager {
	return &DefUseManager{defs: make(map[ir.Id]*ir.Instruction), uses: make(map[ir.Id][]use)}
}

// AnalyzeDefUse walks every instruction of module once, registering
// definitions first so AnalyzeInstUse's lookups always succeed, then uses.
func AnalyzeDefUse(module *ir.Module) *DefUseManager {
	d := NewDefUseManager()
	module.ForEachInstruction(func(inst *ir.Instruction) {
		d.AnalyzeInstDef(inst)
	})
	module.ForEachInstruction(func(inst *ir.Instruction) {
		d.AnalyzeInstUse(inst)
	})
	return d
}

// AnalyzeInstDef registers inst's result id as a definition, if it has one.
// A def with no user is still registered.
func (d *DefUseManager) AnalyzeInstDef(inst *ir.Instruction) {
	if inst.HasResult() {
		d.defs[inst.ResultId] = inst
		if _, ok := d.uses[inst.ResultId]; !ok {
			d.uses[inst.ResultId] = nil
		}
	}
}

// AnalyzeInstUse registers every id-bearing operand of inst (including its
// type id) as a use of that id's definition. Operands must already be
// defined.
func (d *DefUseManager) AnalyzeInstUse(inst *ir.Instruction) {
	if inst.TypeId != ir.NoId {
		d.addUse(inst.TypeId, inst, -1)
	}
	for idx, op := range inst.Operands {
		if op.Type == ir.OperandIdRef {
			d.addUse(op.AsId(), inst, idx)
		}
	}
}

// AnalyzeInstDefUse registers both the definition and the uses of inst in
// one call, for instructions added after the initial AnalyzeDefUse pass.
func (d *DefUseManager) AnalyzeInstDefUse(inst *ir.Instruction) {
	d.AnalyzeInstDef(inst)
	d.AnalyzeInstUse(inst)
}

func (d *DefUseManager) addUse(defId ir.Id, user *ir.Instruction, operandIdx int) {
	d.uses[defId] = append(d.uses[defId], use{user: user, operand: operandIdx, uniqueId: user.UniqueId})
	sort.SliceStable(d.uses[defId], func(i, j int) bool {
		return d.uses[defId][i].uniqueId < d.uses[defId][j].uniqueId
	})
}

// GetDef returns the instruction defining id, or nil.
func (d *DefUseManager) GetDef(id ir.Id) *ir.Instruction { return d.defs[id] }

// ForEachUse calls fn once per (user, operand-index) pair using def's
// result id; it stops early if fn returns false. Each operand position is
// visited separately.
func (d *DefUseManager) ForEachUse(def *ir.Instruction, fn func(user *ir.Instruction, operandIdx int) bool) {
	if !def.HasResult() {
		return
	}
	for _, u := range d.uses[def.ResultId] {
		if !fn(u.user, u.operand) {
			return
		}
	}
}

// ForEachUser calls fn once per distinct user instruction of def (not once
// per operand position); it stops early if fn returns false.
func (d *DefUseManager) ForEachUser(def *ir.Instruction, fn func(user *ir.Instruction) bool) {
	if !def.HasResult() {
		return
	}
	seen := make(map[uint64]bool)
	for _, u := range d.uses[def.ResultId] {
		if seen[u.user.UniqueId] {
			continue
		}
		seen[u.user.UniqueId] = true
		if !fn(u.user) {
			return
		}
	}
}

// NumUses returns the number of (user, operand-index) pairs for def.
func (d *DefUseManager) NumUses(def *ir.Instruction) int {
	if !def.HasResult() {
		return 0
	}
	return len(d.uses[def.ResultId])
}

// NumUsers returns the number of distinct instructions using def.
func (d *DefUseManager) NumUsers(def *ir.Instruction) int {
	n := 0
	d.ForEachUser(def, func(*ir.Instruction) bool { n++; return true })
	return n
}

// ReplaceAllUseOf rewrites every operand referencing oldId to newId,
// recording which instructions were modified into modified (if non-nil).
func (d *DefUseManager) ReplaceAllUseOf(oldId, newId ir.Id, modified map[*ir.Instruction]bool) {
	for _, u := range d.uses[oldId] {
		if u.operand == -1 {
			u.user.TypeId = newId
		} else {
			u.user.Operands[u.operand] = ir.MakeIdOperand(newId)
		}
		if modified != nil {
			modified[u.user] = true
		}
	}
	newDef := d.defs[newId]
	d.uses[newId] = append(d.uses[newId], d.uses[oldId]...)
	sort.SliceStable(d.uses[newId], func(i, j int) bool {
		return d.uses[newId][i].uniqueId < d.uses[newId][j].uniqueId
	})
	_ = newDef
	delete(d.uses, oldId)
}

// ClearInst removes inst's own definition (if any) and all use records it
// produced (i.e. un-registers it as a user of everything it references).
// Combined with EraseUseRecordsOfOperandIds this is the only way to remove
// an instruction from the relation.
func (d *DefUseManager) ClearInst(inst *ir.Instruction) {
	if inst.HasResult() {
		delete(d.defs, inst.ResultId)
		delete(d.uses, inst.ResultId)
	}
	d.EraseUseRecordsOfOperandIds(inst)
}

// EraseUseRecordsOfOperandIds removes every use record where inst is the
// user, across every def id it referenced.
func (d *DefUseManager) EraseUseRecordsOfOperandIds(inst *ir.Instruction) {
	ids := map[ir.Id]bool{}
	if inst.TypeId != ir.NoId {
		ids[inst.TypeId] = true
	}
	for _, op := range inst.Operands {
		if op.Type == ir.OperandIdRef {
			ids[op.AsId()] = true
		}
	}
	for id := range ids {
		filtered := d.uses[id][:0]
		for _, u := range d.uses[id] {
			if u.user.UniqueId != inst.UniqueId {
				filtered = append(filtered, u)
			}
		}
		d.uses[id] = filtered
	}
}

// GetAnnotations returns the OpDecorate instructions directly targeting
// id, without following transitive decoration groups.
func (d *DefUseManager) GetAnnotations(id ir.Id, module *ir.Module) []*ir.Instruction {
	var out []*ir.Instruction
	for _, deco := range module.Annotations {
		if deco.Opcode == ir.OpDecorate && len(deco.Operands) > 0 && deco.Operands[0].AsId() == id {
			out = append(out, deco)
		}
	}
	return out
}
