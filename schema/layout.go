package schema

import (
	"github.com/wasmlab/component-host/errors"
)

// CoreType is a core wasm value type, the unit the flattened call ABI
// is expressed in.
type CoreType uint8

const (
	CoreI32 CoreType = iota
	CoreI64
	CoreF32
	CoreF64
)

func (c CoreType) String() string {
	switch c {
	case CoreI32:
		return "i32"
	case CoreI64:
		return "i64"
	case CoreF32:
		return "f32"
	case CoreF64:
		return "f64"
	}
	return "unknown"
}

// Flattening limits. Parameters beyond MaxFlatParams are rejected at
// schema validation; results beyond MaxFlatResults are returned through
// a caller-allocated return area addressed by a trailing i32 pointer.
const (
	MaxFlatParams  = 16
	MaxFlatResults = 1
)

// SizeAlign returns the in-memory byte size and alignment of a type.
// The layout is fixed for the lifetime of a schema version: records lay
// fields out in declared order with natural alignment padding; variants
// store a u32 discriminant followed by the aligned payload slot sized
// for the largest case.
func SizeAlign(t *TypeDesc) (size, align uint32) {
	switch t.Kind {
	case KindBool:
		return 1, 1
	case KindS32, KindU32, KindF32:
		return 4, 4
	case KindS64, KindU64, KindF64:
		return 8, 8
	case KindString, KindBytes, KindList:
		// (ptr: u32, len: u32)
		return 8, 4
	case KindRecord:
		var off, maxAlign uint32 = 0, 1
		for fi := range t.Fields {
			fs, fa := SizeAlign(&t.Fields[fi].Type)
			off = alignTo(off, fa) + fs
			if fa > maxAlign {
				maxAlign = fa
			}
		}
		return alignTo(off, maxAlign), maxAlign
	case KindVariant:
		var payloadSize, payloadAlign uint32 = 0, 1
		for ci := range t.Cases {
			if t.Cases[ci].Payload == nil {
				continue
			}
			cs, ca := SizeAlign(t.Cases[ci].Payload)
			if cs > payloadSize {
				payloadSize = cs
			}
			if ca > payloadAlign {
				payloadAlign = ca
			}
		}
		align = payloadAlign
		if align < 4 {
			align = 4
		}
		size = alignTo(alignTo(4, payloadAlign)+payloadSize, align)
		return size, align
	}
	return 0, 1
}

func alignTo(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// FieldOffsets returns the byte offset of each record field under the
// layout SizeAlign describes.
func FieldOffsets(t *TypeDesc) []uint32 {
	offsets := make([]uint32, len(t.Fields))
	var off uint32
	for fi := range t.Fields {
		fs, fa := SizeAlign(&t.Fields[fi].Type)
		off = alignTo(off, fa)
		offsets[fi] = off
		off += fs
	}
	return offsets
}

// PayloadOffset returns the byte offset of a variant's payload slot.
func PayloadOffset(t *TypeDesc) uint32 {
	var payloadAlign uint32 = 1
	for ci := range t.Cases {
		if t.Cases[ci].Payload == nil {
			continue
		}
		_, ca := SizeAlign(t.Cases[ci].Payload)
		if ca > payloadAlign {
			payloadAlign = ca
		}
	}
	return alignTo(4, payloadAlign)
}

// Flatten returns the core value types a type lowers to when passed
// directly in the call ABI. Scalars lower to one word, pointer-length
// pairs to two i32s, records to their fields in order, and variants to
// an i32 discriminant plus joined payload slots.
func Flatten(t *TypeDesc) []CoreType {
	switch t.Kind {
	case KindBool, KindS32, KindU32:
		return []CoreType{CoreI32}
	case KindS64, KindU64:
		return []CoreType{CoreI64}
	case KindF32:
		return []CoreType{CoreF32}
	case KindF64:
		return []CoreType{CoreF64}
	case KindString, KindBytes, KindList:
		return []CoreType{CoreI32, CoreI32}
	case KindRecord:
		var flat []CoreType
		for fi := range t.Fields {
			flat = append(flat, Flatten(&t.Fields[fi].Type)...)
		}
		return flat
	case KindVariant:
		flat := []CoreType{CoreI32}
		var payload []CoreType
		for ci := range t.Cases {
			if t.Cases[ci].Payload == nil {
				continue
			}
			payload = joinFlat(payload, Flatten(t.Cases[ci].Payload))
		}
		return append(flat, payload...)
	}
	return nil
}

// joinFlat unifies the flat shapes of two variant payloads slot by
// slot, widening to i64 when the slots disagree.
func joinFlat(a, b []CoreType) []CoreType {
	if len(b) > len(a) {
		a, b = b, a
	}
	out := make([]CoreType, len(a))
	copy(out, a)
	for i := range b {
		out[i] = joinCore(out[i], b[i])
	}
	return out
}

func joinCore(a, b CoreType) CoreType {
	if a == b {
		return a
	}
	if (a == CoreI32 && b == CoreF32) || (a == CoreF32 && b == CoreI32) {
		return CoreI32
	}
	return CoreI64
}

// FlatSignature is the core-ABI shape a schema function presents to
// the guest: the flattened parameter list (including the trailing
// return-area pointer when results spill) and the direct core results.
type FlatSignature struct {
	Params     []CoreType
	Results    []CoreType
	RetOffsets []uint32
	RetSize    uint32
	RetAlign   uint32
	RetPtr     bool
}

// FlattenSignature lowers a schema signature to its core shape.
// Results that flatten to more than MaxFlatResults core values are
// returned indirectly: the host allocates a return area in guest
// memory and appends its address as a final i32 parameter.
func FlattenSignature(sig *Signature) (FlatSignature, error) {
	var fs FlatSignature

	for pi := range sig.Params {
		fs.Params = append(fs.Params, Flatten(&sig.Params[pi])...)
	}
	if len(fs.Params) > MaxFlatParams {
		return fs, errors.New(errors.PhaseValidate, errors.KindInvalidInput).
			Function(sig.Name).
			Detail("parameters flatten to %d core values, limit is %d", len(fs.Params), MaxFlatParams).
			Build()
	}

	var flatResults []CoreType
	for ri := range sig.Results {
		flatResults = append(flatResults, Flatten(&sig.Results[ri])...)
	}

	if len(flatResults) <= MaxFlatResults {
		fs.Results = flatResults
		return fs, nil
	}

	// Indirect results: lay the result tuple out like a record.
	fs.RetPtr = true
	fs.Params = append(fs.Params, CoreI32)
	fs.RetOffsets = make([]uint32, len(sig.Results))
	var off, maxAlign uint32 = 0, 1
	for ri := range sig.Results {
		rs, ra := SizeAlign(&sig.Results[ri])
		off = alignTo(off, ra)
		fs.RetOffsets[ri] = off
		off += rs
		if ra > maxAlign {
			maxAlign = ra
		}
	}
	fs.RetSize = alignTo(off, maxAlign)
	fs.RetAlign = maxAlign
	return fs, nil
}
