// Package model holds the fully materialised allocation record exchanged
// between the writer, the parser and the CLI.
package model

import "encoding/json"

// BorrowInfo summarises how an allocation was borrowed.
type BorrowInfo struct {
	ImmutableBorrows     uint32  `json:"immutable_borrows"`
	MutableBorrows       uint32  `json:"mutable_borrows"`
	MaxConcurrentBorrows uint32  `json:"max_concurrent_borrows"`
	LastBorrowTimestamp  *uint64 `json:"last_borrow_timestamp,omitempty"`
}

// CloneInfo describes clone relationships of an allocation.
type CloneInfo struct {
	CloneCount  uint32  `json:"clone_count"`
	IsClone     bool    `json:"is_clone"`
	OriginalPtr *uint64 `json:"original_ptr,omitempty"`
}

// Allocation is one allocation event. Nil pointers and nil slices mean
// the value is absent from the record.
type Allocation struct {
	Ptr              uint64   `json:"ptr"`
	Size             uint64   `json:"size"`
	TimestampAlloc   uint64   `json:"timestamp_alloc"`
	TimestampDealloc *uint64  `json:"timestamp_dealloc,omitempty"`
	VarName          *string  `json:"var_name,omitempty"`
	TypeName         *string  `json:"type_name,omitempty"`
	ScopeName        *string  `json:"scope_name,omitempty"`
	ThreadID         *string  `json:"thread_id,omitempty"`
	StackTrace       []string `json:"stack_trace,omitempty"`
	BorrowCount      *uint32  `json:"borrow_count,omitempty"`
	IsLeaked         *bool    `json:"is_leaked,omitempty"`

	LifetimeMs                *uint64     `json:"lifetime_ms,omitempty"`
	BorrowInfo                *BorrowInfo `json:"borrow_info,omitempty"`
	CloneInfo                 *CloneInfo  `json:"clone_info,omitempty"`
	OwnershipHistoryAvailable *bool       `json:"ownership_history_available,omitempty"`

	// Analyses holds the JSON payload analyses keyed by their field name,
	// e.g. "memory_layout" or "drop_chain_analysis".
	Analyses map[string]json.RawMessage `json:"analyses,omitempty"`
}

// U64, U32, Str and Bool return pointers to their argument.

func U64(v uint64) *uint64 { return &v }
func U32(v uint32) *uint32 { return &v }
func Str(v string) *string { return &v }
func Bool(v bool) *bool    { return &v }
