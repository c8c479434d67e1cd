package bridge

import (
	"math"
	"reflect"
	"unicode/utf8"

	componenthost "github.com/wasmlab/component-host"
	"github.com/wasmlab/component-host/errors"
	"github.com/wasmlab/component-host/schema"
)

// Encoder lowers host Go values into the flat core words and linear
// memory layout a guest export expects.
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// LowerArgs lowers args for one call. Flat parameter words come back in
// call order; when the signature spills its results to memory, a return
// area is allocated and its pointer is appended as the final word.
// Every region staged in guest memory is recorded in allocs so the
// caller can free it after the call.
func (e *Encoder) LowerArgs(
	sig *schema.Signature,
	flat *schema.FlatSignature,
	args []any,
	mem componenthost.Memory,
	alloc componenthost.Allocator,
	allocs *AllocationList,
) ([]uint64, uint32, error) {
	if len(args) != len(sig.Params) {
		return nil, 0, errors.New(errors.PhaseEncode, errors.KindInvalidInput).
			Function(sig.Name).
			Detail("expected %d arguments, got %d", len(sig.Params), len(args)).
			Build()
	}

	words := make([]uint64, 0, len(flat.Params))
	for i := range sig.Params {
		w, err := e.lowerFlat(&sig.Params[i], args[i], []string{sig.Params[i].Kind.String()}, mem, alloc, allocs)
		if err != nil {
			return nil, 0, err
		}
		words = append(words, w...)
	}

	var retPtr uint32
	if flat.RetPtr {
		ptr, err := alloc.Alloc(flat.RetSize, flat.RetAlign)
		if err != nil {
			return nil, 0, errors.AllocationFailed(flat.RetSize, flat.RetAlign, err)
		}
		allocs.Add(ptr, flat.RetSize, flat.RetAlign)
		retPtr = ptr
		words = append(words, uint64(ptr))
	}
	return words, retPtr, nil
}

// lowerFlat produces the core words for one value, matching the shape
// schema.Flatten reports for its type.
func (e *Encoder) lowerFlat(
	t *schema.TypeDesc,
	v any,
	path []string,
	mem componenthost.Memory,
	alloc componenthost.Allocator,
	allocs *AllocationList,
) ([]uint64, error) {
	switch t.Kind {
	case schema.KindBool, schema.KindS32, schema.KindS64,
		schema.KindU32, schema.KindU64, schema.KindF32, schema.KindF64:
		bits, err := scalarBits(t.Kind, v, path)
		if err != nil {
			return nil, err
		}
		return []uint64{bits}, nil

	case schema.KindString:
		s, ok := v.(string)
		if !ok {
			return nil, typeError(path, "string", v)
		}
		if !utf8.ValidString(s) {
			return nil, errors.InvalidUTF8(errors.PhaseEncode, path, []byte(s))
		}
		ptr, err := e.writeBlob([]byte(s), mem, alloc, allocs)
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(ptr), uint64(len(s))}, nil

	case schema.KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, typeError(path, "[]byte", v)
		}
		ptr, err := e.writeBlob(b, mem, alloc, allocs)
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(ptr), uint64(len(b))}, nil

	case schema.KindList:
		ptr, count, err := e.lowerList(t, v, path, mem, alloc, allocs)
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(ptr), uint64(count)}, nil

	case schema.KindRecord:
		fields, ok := v.(map[string]any)
		if !ok {
			return nil, typeError(path, "map[string]any", v)
		}
		words := make([]uint64, 0, len(t.Fields))
		for i := range t.Fields {
			f := &t.Fields[i]
			fv, present := fields[f.Name]
			if !present {
				return nil, errors.New(errors.PhaseEncode, errors.KindEncoding).
					Path(append(path, f.Name)...).
					Detail("missing record field").
					Build()
			}
			w, err := e.lowerFlat(&f.Type, fv, append(path, f.Name), mem, alloc, allocs)
			if err != nil {
				return nil, err
			}
			words = append(words, w...)
		}
		return words, nil

	case schema.KindVariant:
		vv, ok := v.(schema.Variant)
		if !ok {
			return nil, typeError(path, "schema.Variant", v)
		}
		idx := variantCase(t, vv.Case)
		if idx < 0 {
			return nil, errors.New(errors.PhaseEncode, errors.KindEncoding).
				Path(path...).
				Detail("unknown variant case %q", vv.Case).
				Value(vv.Case).
				Build()
		}
		shape := schema.Flatten(t)
		words := make([]uint64, 1, len(shape))
		words[0] = uint64(idx)
		if payload := t.Cases[idx].Payload; payload != nil {
			pw, err := e.lowerFlat(payload, vv.Payload, append(path, vv.Case), mem, alloc, allocs)
			if err != nil {
				return nil, err
			}
			words = append(words, pw...)
		}
		// Pad to the joined slot count so every case produces the
		// same flat shape.
		for len(words) < len(shape) {
			words = append(words, 0)
		}
		return words, nil
	}
	return nil, errors.New(errors.PhaseEncode, errors.KindEncoding).
		Path(path...).
		Detail("unsupported kind %s", t.Kind).
		Build()
}

// writeBlob stages raw bytes in guest memory. Empty payloads stage
// nothing and lower to a null pointer.
func (e *Encoder) writeBlob(
	data []byte,
	mem componenthost.Memory,
	alloc componenthost.Allocator,
	allocs *AllocationList,
) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	size := uint32(len(data))
	ptr, err := alloc.Alloc(size, 1)
	if err != nil {
		return 0, errors.AllocationFailed(size, 1, err)
	}
	allocs.Add(ptr, size, 1)
	if err := mem.Write(ptr, data); err != nil {
		return 0, err
	}
	return ptr, nil
}

func (e *Encoder) lowerList(
	t *schema.TypeDesc,
	v any,
	path []string,
	mem componenthost.Memory,
	alloc componenthost.Allocator,
	allocs *AllocationList,
) (uint32, uint32, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return 0, 0, typeError(path, "slice", v)
	}
	count := rv.Len()
	if count == 0 {
		return 0, 0, nil
	}
	elemSize, elemAlign := schema.SizeAlign(t.Elem)
	total := uint64(elemSize) * uint64(count)
	if total > math.MaxUint32 {
		return 0, 0, errors.New(errors.PhaseEncode, errors.KindEncoding).
			Path(path...).
			Detail("list of %d elements exceeds addressable memory", count).
			Build()
	}
	ptr, err := alloc.Alloc(uint32(total), elemAlign)
	if err != nil {
		return 0, 0, errors.AllocationFailed(uint32(total), elemAlign, err)
	}
	allocs.Add(ptr, uint32(total), elemAlign)
	for i := 0; i < count; i++ {
		off := ptr + uint32(i)*elemSize
		if err := e.storeValue(t.Elem, rv.Index(i).Interface(), off, append(path, t.Elem.Kind.String()), mem, alloc, allocs); err != nil {
			return 0, 0, err
		}
	}
	return ptr, uint32(count), nil
}

// storeValue writes one value at its in-memory layout offset.
func (e *Encoder) storeValue(
	t *schema.TypeDesc,
	v any,
	offset uint32,
	path []string,
	mem componenthost.Memory,
	alloc componenthost.Allocator,
	allocs *AllocationList,
) error {
	switch t.Kind {
	case schema.KindBool:
		bits, err := scalarBits(t.Kind, v, path)
		if err != nil {
			return err
		}
		return mem.WriteU8(offset, uint8(bits))

	case schema.KindS32, schema.KindU32, schema.KindF32:
		bits, err := scalarBits(t.Kind, v, path)
		if err != nil {
			return err
		}
		return mem.WriteU32(offset, uint32(bits))

	case schema.KindS64, schema.KindU64, schema.KindF64:
		bits, err := scalarBits(t.Kind, v, path)
		if err != nil {
			return err
		}
		return mem.WriteU64(offset, bits)

	case schema.KindString:
		s, ok := v.(string)
		if !ok {
			return typeError(path, "string", v)
		}
		if !utf8.ValidString(s) {
			return errors.InvalidUTF8(errors.PhaseEncode, path, []byte(s))
		}
		ptr, err := e.writeBlob([]byte(s), mem, alloc, allocs)
		if err != nil {
			return err
		}
		if err := mem.WriteU32(offset, ptr); err != nil {
			return err
		}
		return mem.WriteU32(offset+4, uint32(len(s)))

	case schema.KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return typeError(path, "[]byte", v)
		}
		ptr, err := e.writeBlob(b, mem, alloc, allocs)
		if err != nil {
			return err
		}
		if err := mem.WriteU32(offset, ptr); err != nil {
			return err
		}
		return mem.WriteU32(offset+4, uint32(len(b)))

	case schema.KindList:
		ptr, count, err := e.lowerList(t, v, path, mem, alloc, allocs)
		if err != nil {
			return err
		}
		if err := mem.WriteU32(offset, ptr); err != nil {
			return err
		}
		return mem.WriteU32(offset+4, count)

	case schema.KindRecord:
		fields, ok := v.(map[string]any)
		if !ok {
			return typeError(path, "map[string]any", v)
		}
		offsets := schema.FieldOffsets(t)
		for i := range t.Fields {
			f := &t.Fields[i]
			fv, present := fields[f.Name]
			if !present {
				return errors.New(errors.PhaseEncode, errors.KindEncoding).
					Path(append(path, f.Name)...).
					Detail("missing record field").
					Build()
			}
			if err := e.storeValue(&f.Type, fv, offset+offsets[i], append(path, f.Name), mem, alloc, allocs); err != nil {
				return err
			}
		}
		return nil

	case schema.KindVariant:
		vv, ok := v.(schema.Variant)
		if !ok {
			return typeError(path, "schema.Variant", v)
		}
		idx := variantCase(t, vv.Case)
		if idx < 0 {
			return errors.New(errors.PhaseEncode, errors.KindEncoding).
				Path(path...).
				Detail("unknown variant case %q", vv.Case).
				Value(vv.Case).
				Build()
		}
		if err := mem.WriteU32(offset, uint32(idx)); err != nil {
			return err
		}
		if payload := t.Cases[idx].Payload; payload != nil {
			return e.storeValue(payload, vv.Payload, offset+schema.PayloadOffset(t), append(path, vv.Case), mem, alloc, allocs)
		}
		return nil
	}
	return errors.New(errors.PhaseEncode, errors.KindEncoding).
		Path(path...).
		Detail("unsupported kind %s", t.Kind).
		Build()
}

func variantCase(t *schema.TypeDesc, name string) int {
	for i := range t.Cases {
		if t.Cases[i].Name == name {
			return i
		}
	}
	return -1
}

// scalarBits coerces a host value to the raw bit pattern of one core
// word, range-checking widening Go types along the way.
func scalarBits(k schema.Kind, v any, path []string) (uint64, error) {
	switch k {
	case schema.KindBool:
		b, ok := v.(bool)
		if !ok {
			return 0, typeError(path, "bool", v)
		}
		if b {
			return 1, nil
		}
		return 0, nil

	case schema.KindS32:
		switch n := v.(type) {
		case int32:
			return uint64(uint32(n)), nil
		case int:
			if n < math.MinInt32 || n > math.MaxInt32 {
				return 0, rangeError(path, "s32", v)
			}
			return uint64(uint32(int32(n))), nil
		}
		return 0, typeError(path, "int32", v)

	case schema.KindU32:
		switch n := v.(type) {
		case uint32:
			return uint64(n), nil
		case uint:
			if uint64(n) > math.MaxUint32 {
				return 0, rangeError(path, "u32", v)
			}
			return uint64(n), nil
		case int:
			if n < 0 || int64(n) > math.MaxUint32 {
				return 0, rangeError(path, "u32", v)
			}
			return uint64(n), nil
		}
		return 0, typeError(path, "uint32", v)

	case schema.KindS64:
		switch n := v.(type) {
		case int64:
			return uint64(n), nil
		case int:
			return uint64(int64(n)), nil
		}
		return 0, typeError(path, "int64", v)

	case schema.KindU64:
		switch n := v.(type) {
		case uint64:
			return n, nil
		case uint:
			return uint64(n), nil
		case int:
			if n < 0 {
				return 0, rangeError(path, "u64", v)
			}
			return uint64(n), nil
		}
		return 0, typeError(path, "uint64", v)

	case schema.KindF32:
		f, ok := v.(float32)
		if !ok {
			return 0, typeError(path, "float32", v)
		}
		return uint64(math.Float32bits(f)), nil

	case schema.KindF64:
		f, ok := v.(float64)
		if !ok {
			return 0, typeError(path, "float64", v)
		}
		return math.Float64bits(f), nil
	}
	return 0, typeError(path, k.String(), v)
}

func typeError(path []string, want string, got any) error {
	return errors.New(errors.PhaseEncode, errors.KindEncoding).
		Path(path...).
		Detail("expected %s, got %T", want, got).
		Value(got).
		Build()
}

func rangeError(path []string, want string, got any) error {
	return errors.New(errors.PhaseEncode, errors.KindEncoding).
		Path(path...).
		Detail("value %v out of range for %s", got, want).
		Value(got).
		Build()
}
