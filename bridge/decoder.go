package bridge

import (
	"math"
	"unicode/utf8"

	componenthost "github.com/wasmlab/component-host"
	"github.com/wasmlab/component-host/errors"
	"github.com/wasmlab/component-host/schema"
)

// Decoder lifts guest results out of flat core words and linear memory
// back into host Go values.
type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// LiftResults lifts the results of one call. words carries the direct
// core results; retPtr addresses the return area when the signature
// spills. All content is copied out of guest memory before returning,
// so lifted values stay valid after the instance moves on.
//
// Buffers the guest allocated for its results are recorded in
// guestAllocs so the caller can hand them back through the guest's free
// export. Pointers already tracked in hostAllocs are buffers the guest
// echoed back and are skipped.
func (d *Decoder) LiftResults(
	sig *schema.Signature,
	flat *schema.FlatSignature,
	words []uint64,
	retPtr uint32,
	mem componenthost.Memory,
	hostAllocs *AllocationList,
	guestAllocs *AllocationList,
) (any, error) {
	if len(sig.Results) == 0 {
		return nil, nil
	}

	if !flat.RetPtr {
		if len(words) != len(flat.Results) {
			return nil, errors.New(errors.PhaseDecode, errors.KindEncoding).
				Function(sig.Name).
				Detail("expected %d result words, got %d", len(flat.Results), len(words)).
				Build()
		}
		return liftWord(&sig.Results[0], words[0]), nil
	}

	results := make([]any, len(sig.Results))
	for i := range sig.Results {
		v, err := d.loadValue(&sig.Results[i], retPtr+flat.RetOffsets[i], []string{sig.Results[i].Kind.String()}, mem, hostAllocs, guestAllocs)
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	if len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}

// liftWord recovers a scalar from one core word. Only scalars return
// directly; anything wider spills to the return area.
func liftWord(t *schema.TypeDesc, w uint64) any {
	switch t.Kind {
	case schema.KindBool:
		return w != 0
	case schema.KindS32:
		return int32(uint32(w))
	case schema.KindU32:
		return uint32(w)
	case schema.KindS64:
		return int64(w)
	case schema.KindU64:
		return w
	case schema.KindF32:
		return math.Float32frombits(uint32(w))
	case schema.KindF64:
		return math.Float64frombits(w)
	}
	return nil
}

// loadValue reads one value at its in-memory layout offset. Every
// guest-provided pointer-length pair is checked against the current
// memory size before it is dereferenced.
func (d *Decoder) loadValue(
	t *schema.TypeDesc,
	offset uint32,
	path []string,
	mem componenthost.Memory,
	hostAllocs *AllocationList,
	guestAllocs *AllocationList,
) (any, error) {
	switch t.Kind {
	case schema.KindBool:
		b, err := mem.ReadU8(offset)
		if err != nil {
			return nil, err
		}
		return b != 0, nil

	case schema.KindS32:
		v, err := mem.ReadU32(offset)
		if err != nil {
			return nil, err
		}
		return int32(v), nil

	case schema.KindU32:
		v, err := mem.ReadU32(offset)
		if err != nil {
			return nil, err
		}
		return v, nil

	case schema.KindF32:
		v, err := mem.ReadU32(offset)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(v), nil

	case schema.KindS64:
		v, err := mem.ReadU64(offset)
		if err != nil {
			return nil, err
		}
		return int64(v), nil

	case schema.KindU64:
		return mem.ReadU64(offset)

	case schema.KindF64:
		v, err := mem.ReadU64(offset)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(v), nil

	case schema.KindString:
		data, err := d.loadBlob(offset, 1, path, mem, hostAllocs, guestAllocs)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(data) {
			return nil, errors.InvalidUTF8(errors.PhaseDecode, path, data)
		}
		return string(data), nil

	case schema.KindBytes:
		data, err := d.loadBlob(offset, 1, path, mem, hostAllocs, guestAllocs)
		if err != nil {
			return nil, err
		}
		return data, nil

	case schema.KindList:
		return d.loadList(t, offset, path, mem, hostAllocs, guestAllocs)

	case schema.KindRecord:
		fields := make(map[string]any, len(t.Fields))
		offsets := schema.FieldOffsets(t)
		for i := range t.Fields {
			f := &t.Fields[i]
			v, err := d.loadValue(&f.Type, offset+offsets[i], append(path, f.Name), mem, hostAllocs, guestAllocs)
			if err != nil {
				return nil, err
			}
			fields[f.Name] = v
		}
		return fields, nil

	case schema.KindVariant:
		disc, err := mem.ReadU32(offset)
		if err != nil {
			return nil, err
		}
		if disc >= uint32(len(t.Cases)) {
			return nil, errors.New(errors.PhaseDecode, errors.KindEncoding).
				Path(path...).
				Detail("discriminant %d out of range for %d cases", disc, len(t.Cases)).
				Value(disc).
				Build()
		}
		c := &t.Cases[disc]
		out := schema.Variant{Case: c.Name}
		if c.Payload != nil {
			v, err := d.loadValue(c.Payload, offset+schema.PayloadOffset(t), append(path, c.Name), mem, hostAllocs, guestAllocs)
			if err != nil {
				return nil, err
			}
			out.Payload = v
		}
		return out, nil
	}
	return nil, errors.New(errors.PhaseDecode, errors.KindEncoding).
		Path(path...).
		Detail("unsupported kind %s", t.Kind).
		Build()
}

// loadBlob copies a guest pointer-length region out of linear memory.
func (d *Decoder) loadBlob(
	offset, align uint32,
	path []string,
	mem componenthost.Memory,
	hostAllocs *AllocationList,
	guestAllocs *AllocationList,
) ([]byte, error) {
	ptr, err := mem.ReadU32(offset)
	if err != nil {
		return nil, err
	}
	length, err := mem.ReadU32(offset + 4)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	if err := checkBounds(mem, ptr, length); err != nil {
		return nil, err
	}
	data, err := mem.Read(ptr, length)
	if err != nil {
		return nil, err
	}
	trackGuestRegion(ptr, length, align, hostAllocs, guestAllocs)
	return data, nil
}

func (d *Decoder) loadList(
	t *schema.TypeDesc,
	offset uint32,
	path []string,
	mem componenthost.Memory,
	hostAllocs *AllocationList,
	guestAllocs *AllocationList,
) (any, error) {
	ptr, err := mem.ReadU32(offset)
	if err != nil {
		return nil, err
	}
	count, err := mem.ReadU32(offset + 4)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return []any{}, nil
	}
	elemSize, elemAlign := schema.SizeAlign(t.Elem)
	total := uint64(elemSize) * uint64(count)
	if total > math.MaxUint32 {
		return nil, errors.Bounds(errors.PhaseDecode, ptr, math.MaxUint32, mem.Size())
	}
	if err := checkBounds(mem, ptr, uint32(total)); err != nil {
		return nil, err
	}

	items := make([]any, count)
	for i := uint32(0); i < count; i++ {
		v, err := d.loadValue(t.Elem, ptr+i*elemSize, append(path, t.Elem.Kind.String()), mem, hostAllocs, guestAllocs)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	trackGuestRegion(ptr, uint32(total), elemAlign, hostAllocs, guestAllocs)
	return items, nil
}

// trackGuestRegion records a region for the post-call free pass unless
// it is one the host staged itself.
func trackGuestRegion(ptr, size, align uint32, hostAllocs, guestAllocs *AllocationList) {
	if ptr == 0 || guestAllocs == nil {
		return
	}
	if hostAllocs != nil && hostAllocs.Contains(ptr) {
		return
	}
	if guestAllocs.Contains(ptr) {
		return
	}
	guestAllocs.Add(ptr, size, align)
}

func checkBounds(mem componenthost.Memory, ptr, length uint32) error {
	if uint64(ptr)+uint64(length) > uint64(mem.Size()) {
		return errors.Bounds(errors.PhaseDecode, ptr, length, mem.Size())
	}
	return nil
}
