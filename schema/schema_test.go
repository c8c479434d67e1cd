package schema

import (
	stderrors "errors"
	"testing"

	hosterrors "github.com/wasmlab/component-host/errors"
)

func TestInterface_Validate(t *testing.T) {
	iface := &Interface{Funcs: []Signature{
		{Name: "add", Params: []TypeDesc{U32(), U32()}, Results: []TypeDesc{U32()}},
		{Name: "ident", Params: []TypeDesc{Bytes()}, Results: []TypeDesc{Bytes()}},
	}}

	if err := iface.Validate(); err != nil {
		t.Fatalf("valid schema rejected: %v", err)
	}
}

func TestInterface_Validate_DuplicateName(t *testing.T) {
	iface := &Interface{Funcs: []Signature{
		{Name: "f"},
		{Name: "f"},
	}}

	if err := iface.Validate(); err == nil {
		t.Fatal("duplicate function name accepted")
	}
}

func TestInterface_Validate_Empty(t *testing.T) {
	if err := (&Interface{}).Validate(); err == nil {
		t.Fatal("empty schema accepted")
	}
}

func TestInterface_Validate_ListWithoutElem(t *testing.T) {
	iface := &Interface{Funcs: []Signature{
		{Name: "f", Params: []TypeDesc{{Kind: KindList}}},
	}}

	if err := iface.Validate(); err == nil {
		t.Fatal("list without element type accepted")
	}
}

func TestInterface_Validate_CyclicType(t *testing.T) {
	// A self-referential descriptor has no finite byte layout; the
	// depth cap must reject it rather than recurse forever.
	self := &TypeDesc{Kind: KindList}
	self.Elem = self
	iface := &Interface{Funcs: []Signature{
		{Name: "f", Params: []TypeDesc{*self}},
	}}

	err := iface.Validate()
	if err == nil {
		t.Fatal("cyclic type accepted")
	}
	if !stderrors.Is(err, &hosterrors.Error{Kind: hosterrors.KindInvalidInput}) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInterface_Validate_TooManyFlatParams(t *testing.T) {
	params := make([]TypeDesc, 0, 9)
	for i := 0; i < 9; i++ {
		params = append(params, String()) // 2 core values each
	}
	iface := &Interface{Funcs: []Signature{{Name: "wide", Params: params}}}

	if err := iface.Validate(); err == nil {
		t.Fatal("18 flattened params accepted, limit is 16")
	}
}

func TestInterface_Function(t *testing.T) {
	iface := &Interface{Funcs: []Signature{{Name: "a"}, {Name: "b"}}}

	if _, ok := iface.Function("b"); !ok {
		t.Error("declared function not found")
	}
	if _, ok := iface.Function("c"); ok {
		t.Error("undeclared function found")
	}
}

func TestInterface_Fingerprint_Stable(t *testing.T) {
	mk := func() *Interface {
		return &Interface{Funcs: []Signature{
			{
				Name:    "f",
				Params:  []TypeDesc{List(U32()), Record(Field{Name: "x", Type: S64()})},
				Results: []TypeDesc{VariantOf(Case{Name: "ok", Payload: ptr(String())}, Case{Name: "none"})},
			},
		}}
	}

	a, b := mk().Fingerprint(), mk().Fingerprint()
	if a != b {
		t.Errorf("fingerprints differ: %q vs %q", a, b)
	}

	other := &Interface{Funcs: []Signature{{Name: "f", Params: []TypeDesc{List(U64())}}}}
	if a == other.Fingerprint() {
		t.Error("different schemas share a fingerprint")
	}
}

func TestTypeString(t *testing.T) {
	tests := []struct {
		desc TypeDesc
		want string
	}{
		{U32(), "u32"},
		{Bytes(), "bytes"},
		{List(String()), "list<string>"},
		{Record(Field{Name: "a", Type: Bool()}), "record{a:bool}"},
		{VariantOf(Case{Name: "none"}, Case{Name: "some", Payload: ptr(F64())}), "variant{none,some(f64)}"},
	}

	for _, tt := range tests {
		if got := TypeString(&tt.desc); got != tt.want {
			t.Errorf("TypeString = %q, want %q", got, tt.want)
		}
	}
}

func ptr(t TypeDesc) *TypeDesc { return &t }
