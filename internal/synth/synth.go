// Package synth generates deterministic synthetic allocation records for
// the generate command and for tests.
package synth

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/memscope-index/pkg/model"
)

var typeNames = []string{
	"Vec<u8>",
	"String",
	"HashMap<String, i32>",
	"Box<dyn Error>",
	"Arc<Mutex<Vec<u64>>>",
	"Rc<RefCell<Node>>",
	"BTreeMap<u32, String>",
}

var scopes = []string{"main", "worker::run", "parser::tokenize", "cache::insert"}

// Options tunes generation.
type Options struct {
	Seed    int64
	Threads int
	// StartPtr and PtrStride lay out pointers as StartPtr + i*PtrStride.
	StartPtr  uint64
	PtrStride uint64
}

// DefaultOptions matches the layout used throughout the tests.
func DefaultOptions() Options {
	return Options{Seed: 1, Threads: 4, StartPtr: 0x1000, PtrStride: 0x100}
}

// Generate returns n allocations. Records differ in which optional and
// advanced fields they carry so every field appears both present and
// absent within a few records.
func Generate(n int, opts Options) []model.Allocation {
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	out := make([]model.Allocation, n)
	for i := range out {
		a := model.Allocation{
			Ptr:            opts.StartPtr + uint64(i)*opts.PtrStride,
			Size:           1024 + uint64(i)*100,
			TimestampAlloc: 1_000_000 + uint64(i)*10 + uint64(rng.Intn(10)),
			VarName:        model.Str(fmt.Sprintf("var_%d", i)),
			TypeName:       model.Str(typeNames[i%len(typeNames)]),
			ThreadID:       model.Str(fmt.Sprintf("thread-%d", i%opts.Threads)),
		}

		if i%2 == 0 {
			a.TimestampDealloc = model.U64(a.TimestampAlloc + uint64(rng.Intn(5000)+1))
			a.LifetimeMs = model.U64((*a.TimestampDealloc - a.TimestampAlloc) / 1000)
		}
		if i%3 != 2 {
			a.ScopeName = model.Str(scopes[i%len(scopes)])
		}
		if i%4 == 1 {
			a.StackTrace = []string{"alloc::alloc", fmt.Sprintf("app::fn_%d", i%7), "main"}
		}
		if i%5 != 4 {
			a.BorrowCount = model.U32(uint32(rng.Intn(8)))
			a.BorrowInfo = &model.BorrowInfo{
				ImmutableBorrows:     uint32(rng.Intn(6)),
				MutableBorrows:       uint32(rng.Intn(3)),
				MaxConcurrentBorrows: uint32(rng.Intn(4) + 1),
			}
			if i%2 == 1 {
				a.BorrowInfo.LastBorrowTimestamp = model.U64(a.TimestampAlloc + 5)
			}
		}
		a.IsLeaked = model.Bool(a.TimestampDealloc == nil && i%7 == 3)
		if i%6 == 0 {
			a.CloneInfo = &model.CloneInfo{CloneCount: uint32(i % 3), IsClone: i%12 == 6}
			if a.CloneInfo.IsClone {
				a.CloneInfo.OriginalPtr = model.U64(a.Ptr - opts.PtrStride)
			}
			a.OwnershipHistoryAvailable = model.Bool(true)
		}
		if i%8 == 0 {
			a.Analyses = map[string]json.RawMessage{
				"memory_layout": mustJSON(map[string]interface{}{
					"total_size": a.Size,
					"alignment":  8,
				}),
				"lifecycle_tracking": mustJSON(map[string]interface{}{
					"events": []string{"created", "moved"},
				}),
			}
		}
		out[i] = a
	}
	return out
}

// Scenario returns the five reference records: pointers 0x1000..0x1400,
// sizes 1024..1424 and variable names var_0..var_4.
func Scenario() []model.Allocation {
	out := make([]model.Allocation, 5)
	for i := range out {
		out[i] = model.Allocation{
			Ptr:            0x1000 + uint64(i)*0x100,
			Size:           1024 + uint64(i)*100,
			TimestampAlloc: 1000 + uint64(i),
			VarName:        model.Str(fmt.Sprintf("var_%d", i)),
			TypeName:       model.Str("i32"),
			ThreadID:       model.Str("main"),
		}
	}
	return out
}

// StringTable returns the distinct type names and scopes used by Generate.
func StringTable() []string {
	return append(append([]string(nil), typeNames...), scopes...)
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
