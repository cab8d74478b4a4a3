package parser

import (
	"encoding/json"

	"github.com/memscope-index/internal/format"
	"github.com/memscope-index/pkg/model"
)

// PartialRecord is a selectively parsed record. Every slot of a requested
// field is Present or Absent; all other slots are NotRequested.
type PartialRecord struct {
	// Offset is where the record frame starts in the file.
	Offset uint64

	Ptr              Value[uint64]
	Size             Value[uint64]
	TimestampAlloc   Value[uint64]
	TimestampDealloc Value[uint64]
	VarName          Value[string]
	TypeName         Value[string]
	ScopeName        Value[string]
	ThreadID         Value[string]
	StackTrace       Value[[]string]
	BorrowCount      Value[uint32]
	IsLeaked         Value[bool]

	LifetimeMs                Value[uint64]
	BorrowInfo                Value[model.BorrowInfo]
	CloneInfo                 Value[model.CloneInfo]
	OwnershipHistoryAvailable Value[bool]

	// Analyses holds the JSON analyses. A missing key is NotRequested.
	Analyses map[format.Field]Value[json.RawMessage]
}

// Analysis returns the slot of analysis field f.
func (p *PartialRecord) Analysis(f format.Field) Value[json.RawMessage] {
	return p.Analyses[f]
}

func (p *PartialRecord) setAnalysis(f format.Field, v Value[json.RawMessage]) {
	if p.Analyses == nil {
		p.Analyses = make(map[format.Field]Value[json.RawMessage])
	}
	p.Analyses[f] = v
}

// State returns the state of field f.
func (p *PartialRecord) State(f format.Field) State {
	switch f {
	case format.FieldPtr:
		return p.Ptr.State()
	case format.FieldSize:
		return p.Size.State()
	case format.FieldTimestampAlloc:
		return p.TimestampAlloc.State()
	case format.FieldTimestampDealloc:
		return p.TimestampDealloc.State()
	case format.FieldVarName:
		return p.VarName.State()
	case format.FieldTypeName:
		return p.TypeName.State()
	case format.FieldScopeName:
		return p.ScopeName.State()
	case format.FieldThreadID:
		return p.ThreadID.State()
	case format.FieldStackTrace:
		return p.StackTrace.State()
	case format.FieldBorrowCount:
		return p.BorrowCount.State()
	case format.FieldIsLeaked:
		return p.IsLeaked.State()
	case format.FieldLifetimeMs:
		return p.LifetimeMs.State()
	case format.FieldBorrowInfo:
		return p.BorrowInfo.State()
	case format.FieldCloneInfo:
		return p.CloneInfo.State()
	case format.FieldOwnershipHistoryAvailable:
		return p.OwnershipHistoryAvailable.State()
	}
	if f.IsAnalysis() {
		return p.Analyses[f].State()
	}
	return NotRequested
}

// Requested returns the set of fields that are not NotRequested.
func (p *PartialRecord) Requested() format.FieldSet {
	var s format.FieldSet
	for _, f := range format.AllFields() {
		if p.State(f) != NotRequested {
			s = s.With(f)
		}
	}
	return s
}

// markAbsent sets every requested slot still NotRequested to Absent.
func (p *PartialRecord) markAbsent(fields format.FieldSet) {
	for _, f := range fields.Fields() {
		switch f {
		case format.FieldPtr:
			p.Ptr.markAbsent()
		case format.FieldSize:
			p.Size.markAbsent()
		case format.FieldTimestampAlloc:
			p.TimestampAlloc.markAbsent()
		case format.FieldTimestampDealloc:
			p.TimestampDealloc.markAbsent()
		case format.FieldVarName:
			p.VarName.markAbsent()
		case format.FieldTypeName:
			p.TypeName.markAbsent()
		case format.FieldScopeName:
			p.ScopeName.markAbsent()
		case format.FieldThreadID:
			p.ThreadID.markAbsent()
		case format.FieldStackTrace:
			p.StackTrace.markAbsent()
		case format.FieldBorrowCount:
			p.BorrowCount.markAbsent()
		case format.FieldIsLeaked:
			p.IsLeaked.markAbsent()
		case format.FieldLifetimeMs:
			p.LifetimeMs.markAbsent()
		case format.FieldBorrowInfo:
			p.BorrowInfo.markAbsent()
		case format.FieldCloneInfo:
			p.CloneInfo.markAbsent()
		case format.FieldOwnershipHistoryAvailable:
			p.OwnershipHistoryAvailable.markAbsent()
		default:
			if f.IsAnalysis() && p.Analyses[f].State() == NotRequested {
				p.setAnalysis(f, None[json.RawMessage]())
			}
		}
	}
}

// Clone returns a deep copy of p.
func (p *PartialRecord) Clone() *PartialRecord {
	c := *p
	if st, ok := p.StackTrace.Get(); ok {
		c.StackTrace = Some(append([]string{}, st...))
	}
	if bi, ok := p.BorrowInfo.Get(); ok {
		if bi.LastBorrowTimestamp != nil {
			ts := *bi.LastBorrowTimestamp
			bi.LastBorrowTimestamp = &ts
		}
		c.BorrowInfo = Some(bi)
	}
	if ci, ok := p.CloneInfo.Get(); ok {
		if ci.OriginalPtr != nil {
			ptr := *ci.OriginalPtr
			ci.OriginalPtr = &ptr
		}
		c.CloneInfo = Some(ci)
	}
	c.Analyses = nil
	for f, v := range p.Analyses {
		if raw, ok := v.Get(); ok {
			v = Some(append(json.RawMessage(nil), raw...))
		}
		c.setAnalysis(f, v)
	}
	return &c
}

// Project returns a deep copy of p in which only fields in fs keep their
// state; every other slot is NotRequested.
func (p *PartialRecord) Project(fs format.FieldSet) *PartialRecord {
	c := p.Clone()
	drop := func(f format.Field, reset func()) {
		if !fs.Has(f) {
			reset()
		}
	}
	drop(format.FieldPtr, func() { c.Ptr = Value[uint64]{} })
	drop(format.FieldSize, func() { c.Size = Value[uint64]{} })
	drop(format.FieldTimestampAlloc, func() { c.TimestampAlloc = Value[uint64]{} })
	drop(format.FieldTimestampDealloc, func() { c.TimestampDealloc = Value[uint64]{} })
	drop(format.FieldVarName, func() { c.VarName = Value[string]{} })
	drop(format.FieldTypeName, func() { c.TypeName = Value[string]{} })
	drop(format.FieldScopeName, func() { c.ScopeName = Value[string]{} })
	drop(format.FieldThreadID, func() { c.ThreadID = Value[string]{} })
	drop(format.FieldStackTrace, func() { c.StackTrace = Value[[]string]{} })
	drop(format.FieldBorrowCount, func() { c.BorrowCount = Value[uint32]{} })
	drop(format.FieldIsLeaked, func() { c.IsLeaked = Value[bool]{} })
	drop(format.FieldLifetimeMs, func() { c.LifetimeMs = Value[uint64]{} })
	drop(format.FieldBorrowInfo, func() { c.BorrowInfo = Value[model.BorrowInfo]{} })
	drop(format.FieldCloneInfo, func() { c.CloneInfo = Value[model.CloneInfo]{} })
	drop(format.FieldOwnershipHistoryAvailable, func() { c.OwnershipHistoryAvailable = Value[bool]{} })
	for f := range c.Analyses {
		if !fs.Has(f) {
			delete(c.Analyses, f)
		}
	}
	if len(c.Analyses) == 0 {
		c.Analyses = nil
	}
	return c
}

// ToAllocation converts p to a model.Allocation. Slots that are not
// Present become nil; fixed fields that are not Present become zero.
func (p *PartialRecord) ToAllocation() model.Allocation {
	a := model.Allocation{
		Ptr:                       p.Ptr.OrElse(0),
		Size:                      p.Size.OrElse(0),
		TimestampAlloc:            p.TimestampAlloc.OrElse(0),
		TimestampDealloc:          p.TimestampDealloc.Ptr(),
		VarName:                   p.VarName.Ptr(),
		TypeName:                  p.TypeName.Ptr(),
		ScopeName:                 p.ScopeName.Ptr(),
		ThreadID:                  p.ThreadID.Ptr(),
		BorrowCount:               p.BorrowCount.Ptr(),
		IsLeaked:                  p.IsLeaked.Ptr(),
		LifetimeMs:                p.LifetimeMs.Ptr(),
		BorrowInfo:                p.BorrowInfo.Ptr(),
		CloneInfo:                 p.CloneInfo.Ptr(),
		OwnershipHistoryAvailable: p.OwnershipHistoryAvailable.Ptr(),
	}
	if st, ok := p.StackTrace.Get(); ok {
		a.StackTrace = append([]string{}, st...)
	}
	for f, v := range p.Analyses {
		if raw, ok := v.Get(); ok {
			if a.Analyses == nil {
				a.Analyses = make(map[string]json.RawMessage)
			}
			a.Analyses[f.String()] = raw
		}
	}
	return a
}

// MarshalJSON writes the offset and every requested field; Absent
// fields are null.
func (p *PartialRecord) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{"offset": p.Offset}
	put := func(f format.Field, v slot) {
		if v.State() != NotRequested {
			out[f.String()] = v
		}
	}
	put(format.FieldPtr, p.Ptr)
	put(format.FieldSize, p.Size)
	put(format.FieldTimestampAlloc, p.TimestampAlloc)
	put(format.FieldTimestampDealloc, p.TimestampDealloc)
	put(format.FieldVarName, p.VarName)
	put(format.FieldTypeName, p.TypeName)
	put(format.FieldScopeName, p.ScopeName)
	put(format.FieldThreadID, p.ThreadID)
	put(format.FieldStackTrace, p.StackTrace)
	put(format.FieldBorrowCount, p.BorrowCount)
	put(format.FieldIsLeaked, p.IsLeaked)
	put(format.FieldLifetimeMs, p.LifetimeMs)
	put(format.FieldBorrowInfo, p.BorrowInfo)
	put(format.FieldCloneInfo, p.CloneInfo)
	put(format.FieldOwnershipHistoryAvailable, p.OwnershipHistoryAvailable)
	for f, v := range p.Analyses {
		put(f, v)
	}
	return json.Marshal(out)
}

type slot interface {
	State() State
	json.Marshaler
}
