package schema

import (
	"strings"

	"github.com/wasmlab/component-host/errors"
)

// Kind tags a TypeDesc variant.
type Kind uint8

const (
	KindBool Kind = iota
	KindS32
	KindS64
	KindU32
	KindU64
	KindF32
	KindF64
	KindString
	KindBytes
	KindList
	KindRecord
	KindVariant
)

var kindNames = [...]string{
	KindBool:    "bool",
	KindS32:     "s32",
	KindS64:     "s64",
	KindU32:     "u32",
	KindU64:     "u64",
	KindF32:     "f32",
	KindF64:     "f64",
	KindString:  "string",
	KindBytes:   "bytes",
	KindList:    "list",
	KindRecord:  "record",
	KindVariant: "variant",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// TypeDesc describes one portable value type. It is a tagged variant:
// Elem is set for lists, Fields for records, Cases for variants; all
// three are nil for scalars, strings and byte sequences.
type TypeDesc struct {
	Elem   *TypeDesc
	Fields []Field
	Cases  []Case
	Kind   Kind
}

// Field is one record field. Field order is the declared encoding order.
type Field struct {
	Name string
	Type TypeDesc
}

// Case is one variant case. A nil Payload means the case carries no value.
type Case struct {
	Name    string
	Payload *TypeDesc
}

// Signature describes one exported function: ordered parameter and
// result types under a schema-unique name.
type Signature struct {
	Name    string
	Params  []TypeDesc
	Results []TypeDesc
}

// Interface is an immutable contract listing the functions a guest
// module must export. Produced externally, consumed as data.
type Interface struct {
	Funcs []Signature
}

// maxTypeDepth bounds type nesting. Descriptors are value trees, but a
// caller can still alias a *TypeDesc into itself; the depth cap keeps
// every type representable as a finite byte layout.
const maxTypeDepth = 32

// Validate checks the schema's own invariants: unique non-empty
// function names, well-formed type descriptors, bounded nesting, and
// parameter lists that flatten within the core ABI limit.
func (i *Interface) Validate() error {
	if len(i.Funcs) == 0 {
		return errors.InvalidInput(errors.PhaseValidate, "schema declares no functions")
	}

	seen := make(map[string]bool, len(i.Funcs))
	for fi := range i.Funcs {
		sig := &i.Funcs[fi]
		if sig.Name == "" {
			return errors.InvalidInput(errors.PhaseValidate, "function name cannot be empty")
		}
		if seen[sig.Name] {
			return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
				Function(sig.Name).
				Detail("duplicate function name").
				Build()
		}
		seen[sig.Name] = true

		for pi := range sig.Params {
			if err := checkType(&sig.Params[pi], sig.Name, 0); err != nil {
				return err
			}
		}
		for ri := range sig.Results {
			if err := checkType(&sig.Results[ri], sig.Name, 0); err != nil {
				return err
			}
		}

		if _, err := FlattenSignature(sig); err != nil {
			return err
		}
	}
	return nil
}

func checkType(t *TypeDesc, function string, depth int) error {
	if depth > maxTypeDepth {
		return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
			Function(function).
			Detail("type nesting exceeds depth %d; layouts must be finite", maxTypeDepth).
			Build()
	}

	switch t.Kind {
	case KindBool, KindS32, KindS64, KindU32, KindU64, KindF32, KindF64, KindString, KindBytes:
		return nil
	case KindList:
		if t.Elem == nil {
			return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
				Function(function).
				Detail("list type has no element type").
				Build()
		}
		return checkType(t.Elem, function, depth+1)
	case KindRecord:
		names := make(map[string]bool, len(t.Fields))
		for fi := range t.Fields {
			f := &t.Fields[fi]
			if f.Name == "" || names[f.Name] {
				return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
					Function(function).
					Detail("record field names must be unique and non-empty").
					Build()
			}
			names[f.Name] = true
			if err := checkType(&f.Type, function, depth+1); err != nil {
				return err
			}
		}
		return nil
	case KindVariant:
		if len(t.Cases) == 0 {
			return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
				Function(function).
				Detail("variant type has no cases").
				Build()
		}
		names := make(map[string]bool, len(t.Cases))
		for ci := range t.Cases {
			c := &t.Cases[ci]
			if c.Name == "" || names[c.Name] {
				return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
					Function(function).
					Detail("variant case names must be unique and non-empty").
					Build()
			}
			names[c.Name] = true
			if c.Payload != nil {
				if err := checkType(c.Payload, function, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return errors.New(errors.PhaseValidate, errors.KindInvalidInput).
			Function(function).
			Detail("unknown type kind %d", t.Kind).
			Build()
	}
}

// Function returns the signature with the given name.
func (i *Interface) Function(name string) (*Signature, bool) {
	for fi := range i.Funcs {
		if i.Funcs[fi].Name == name {
			return &i.Funcs[fi], true
		}
	}
	return nil, false
}

// Fingerprint returns a stable canonical rendering of the schema.
// Identical schemas produce identical fingerprints, which keys the
// validated-module cache together with the module content hash.
func (i *Interface) Fingerprint() string {
	var b strings.Builder
	for fi := range i.Funcs {
		sig := &i.Funcs[fi]
		b.WriteString(sig.Name)
		b.WriteByte('(')
		for pi := range sig.Params {
			if pi > 0 {
				b.WriteByte(',')
			}
			writeTypeString(&b, &sig.Params[pi])
		}
		b.WriteString(")->(")
		for ri := range sig.Results {
			if ri > 0 {
				b.WriteByte(',')
			}
			writeTypeString(&b, &sig.Results[ri])
		}
		b.WriteString(");")
	}
	return b.String()
}

func writeTypeString(b *strings.Builder, t *TypeDesc) {
	switch t.Kind {
	case KindList:
		b.WriteString("list<")
		writeTypeString(b, t.Elem)
		b.WriteByte('>')
	case KindRecord:
		b.WriteString("record{")
		for fi := range t.Fields {
			if fi > 0 {
				b.WriteByte(',')
			}
			b.WriteString(t.Fields[fi].Name)
			b.WriteByte(':')
			writeTypeString(b, &t.Fields[fi].Type)
		}
		b.WriteByte('}')
	case KindVariant:
		b.WriteString("variant{")
		for ci := range t.Cases {
			if ci > 0 {
				b.WriteByte(',')
			}
			b.WriteString(t.Cases[ci].Name)
			if t.Cases[ci].Payload != nil {
				b.WriteByte('(')
				writeTypeString(b, t.Cases[ci].Payload)
				b.WriteByte(')')
			}
		}
		b.WriteByte('}')
	default:
		b.WriteString(t.Kind.String())
	}
}

// TypeString returns the canonical textual form of a type descriptor.
func TypeString(t *TypeDesc) string {
	var b strings.Builder
	writeTypeString(&b, t)
	return b.String()
}

// Variant is the host-side value for a variant type: a case name and
// its payload (nil for payload-less cases).
type Variant struct {
	Payload any
	Case    string
}

// Convenience descriptor constructors.

func Bool() TypeDesc    { return TypeDesc{Kind: KindBool} }
func S32() TypeDesc     { return TypeDesc{Kind: KindS32} }
func S64() TypeDesc     { return TypeDesc{Kind: KindS64} }
func U32() TypeDesc     { return TypeDesc{Kind: KindU32} }
func U64() TypeDesc     { return TypeDesc{Kind: KindU64} }
func F32() TypeDesc     { return TypeDesc{Kind: KindF32} }
func F64() TypeDesc     { return TypeDesc{Kind: KindF64} }
func String() TypeDesc  { return TypeDesc{Kind: KindString} }
func Bytes() TypeDesc   { return TypeDesc{Kind: KindBytes} }
func List(elem TypeDesc) TypeDesc {
	return TypeDesc{Kind: KindList, Elem: &elem}
}
func Record(fields ...Field) TypeDesc {
	return TypeDesc{Kind: KindRecord, Fields: fields}
}
func VariantOf(cases ...Case) TypeDesc {
	return TypeDesc{Kind: KindVariant, Cases: cases}
}
