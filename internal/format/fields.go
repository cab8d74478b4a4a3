package format

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Field enumerates every field a record may carry.
type Field uint8

const (
	FieldPtr Field = iota
	FieldSize
	FieldVarName
	FieldTypeName
	FieldScopeName
	FieldTimestampAlloc
	FieldTimestampDealloc
	FieldThreadID
	FieldBorrowCount
	FieldStackTrace
	FieldIsLeaked
	FieldLifetimeMs
	FieldBorrowInfo
	FieldCloneInfo
	FieldOwnershipHistoryAvailable
	FieldSmartPointerInfo
	FieldMemoryLayout
	FieldGenericInfo
	FieldDynamicTypeInfo
	FieldRuntimeState
	FieldStackAllocation
	FieldTemporaryObject
	FieldFragmentationAnalysis
	FieldGenericInstantiation
	FieldTypeRelationships
	FieldTypeUsage
	FieldFunctionCallTracking
	FieldLifecycleTracking
	FieldAccessTracking
	FieldDropChainAnalysis

	fieldCount
)

var fieldNames = [fieldCount]string{
	"ptr",
	"size",
	"var_name",
	"type_name",
	"scope_name",
	"timestamp_alloc",
	"timestamp_dealloc",
	"thread_id",
	"borrow_count",
	"stack_trace",
	"is_leaked",
	"lifetime_ms",
	"borrow_info",
	"clone_info",
	"ownership_history_available",
	"smart_pointer_info",
	"memory_layout",
	"generic_info",
	"dynamic_type_info",
	"runtime_state",
	"stack_allocation",
	"temporary_object",
	"fragmentation_analysis",
	"generic_instantiation",
	"type_relationships",
	"type_usage",
	"function_call_tracking",
	"lifecycle_tracking",
	"access_tracking",
	"drop_chain_analysis",
}

// String returns the snake_case field name.
func (f Field) String() string {
	if f < fieldCount {
		return fieldNames[f]
	}
	return fmt.Sprintf("field(%d)", uint8(f))
}

// IsAdvanced reports whether f is stored in the advanced region.
func (f Field) IsAdvanced() bool {
	return f >= FieldLifetimeMs && f < fieldCount
}

// IsAnalysis reports whether f is one of the JSON payload analyses.
func (f Field) IsAnalysis() bool {
	return f >= FieldSmartPointerInfo && f < fieldCount
}

// ParseField looks up a field by name.
func ParseField(name string) (Field, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range fieldNames {
		if n == name {
			return Field(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field %q", name)
}

// AllFields returns every field in declaration order.
func AllFields() []Field {
	out := make([]Field, fieldCount)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// FieldSet is a set of fields.
type FieldSet uint64

const (
	// BasicFields are always present in a record.
	BasicFields = FieldSet(1<<FieldPtr | 1<<FieldSize | 1<<FieldTimestampAlloc)

	// FullFieldSet contains every known field.
	FullFieldSet = FieldSet(1<<fieldCount - 1)

	// AdvancedFields contains the fields of the advanced region.
	AdvancedFields = FullFieldSet &^ FieldSet(1<<FieldLifetimeMs-1)
)

// NewFieldSet builds a set from fields.
func NewFieldSet(fields ...Field) FieldSet {
	var s FieldSet
	for _, f := range fields {
		s = s.With(f)
	}
	return s
}

// ParseFieldSet parses a comma separated list such as "ptr,size".
// "all" selects every field and "basic" the always-present ones.
func ParseFieldSet(list string) (FieldSet, error) {
	var s FieldSet
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "all":
			s |= FullFieldSet
			continue
		case "basic":
			s |= BasicFields
			continue
		}
		f, err := ParseField(part)
		if err != nil {
			return 0, err
		}
		s = s.With(f)
	}
	return s, nil
}

func (s FieldSet) Has(f Field) bool          { return f < fieldCount && s&(1<<f) != 0 }
func (s FieldSet) With(f Field) FieldSet     { return s | 1<<f }
func (s FieldSet) Without(f Field) FieldSet  { return s &^ (1 << f) }
func (s FieldSet) Union(o FieldSet) FieldSet { return s | o }
func (s FieldSet) Len() int                  { return bits.OnesCount64(uint64(s & FullFieldSet)) }
func (s FieldSet) IsEmpty() bool             { return s&FullFieldSet == 0 }

// Covers reports whether every field of o is also in s.
func (s FieldSet) Covers(o FieldSet) bool { return o&^s == 0 }

// HasAdvanced reports whether s requests any advanced field.
func (s FieldSet) HasAdvanced() bool { return s&AdvancedFields != 0 }

// Fields lists the members in declaration order.
func (s FieldSet) Fields() []Field {
	out := make([]Field, 0, s.Len())
	for f := Field(0); f < fieldCount; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// String returns the sorted, comma separated member names.
func (s FieldSet) String() string {
	names := make([]string, 0, s.Len())
	for _, f := range s.Fields() {
		names = append(names, f.String())
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
