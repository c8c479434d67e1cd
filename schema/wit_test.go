package schema

import (
	"reflect"
	"testing"
)

func TestParseWIT_Basic(t *testing.T) {
	iface, err := ParseWIT(`
		add: func(a: u32, b: u32) -> u32;
		greet: func(name: string) -> string;
		spin: func();
	`)
	if err != nil {
		t.Fatalf("ParseWIT: %v", err)
	}
	if len(iface.Funcs) != 3 {
		t.Fatalf("parsed %d functions, want 3", len(iface.Funcs))
	}

	add, ok := iface.Function("add")
	if !ok {
		t.Fatal("add not parsed")
	}
	if !reflect.DeepEqual(add.Params, []TypeDesc{U32(), U32()}) {
		t.Errorf("add params = %v", add.Params)
	}
	if !reflect.DeepEqual(add.Results, []TypeDesc{U32()}) {
		t.Errorf("add results = %v", add.Results)
	}

	spin, _ := iface.Function("spin")
	if len(spin.Params) != 0 || len(spin.Results) != 0 {
		t.Errorf("spin should have no params or results")
	}
}

func TestParseWIT_ExportPrefix(t *testing.T) {
	iface, err := ParseWIT(`export compute-hash: func(data: list<u8>) -> string;`)
	if err != nil {
		t.Fatalf("ParseWIT: %v", err)
	}

	sig, ok := iface.Function("compute-hash")
	if !ok {
		t.Fatal("compute-hash not parsed")
	}
	if sig.Params[0].Kind != KindBytes {
		t.Errorf("list<u8> should map to bytes, got %s", sig.Params[0].Kind)
	}
	if sig.Results[0].Kind != KindString {
		t.Errorf("result = %s, want string", sig.Results[0].Kind)
	}
}

func TestParseWIT_NestedList(t *testing.T) {
	iface, err := ParseWIT(`f: func(m: list<list<u32>>);`)
	if err != nil {
		t.Fatalf("ParseWIT: %v", err)
	}

	p := iface.Funcs[0].Params[0]
	if p.Kind != KindList || p.Elem.Kind != KindList || p.Elem.Elem.Kind != KindU32 {
		t.Errorf("unexpected type: %s", TypeString(&p))
	}
}

func TestParseWIT_MultiResult(t *testing.T) {
	iface, err := ParseWIT(`stats: func() -> (u64, f64);`)
	if err != nil {
		t.Fatalf("ParseWIT: %v", err)
	}

	sig := iface.Funcs[0]
	if len(sig.Results) != 2 {
		t.Fatalf("parsed %d results, want 2", len(sig.Results))
	}
	if sig.Results[0].Kind != KindU64 || sig.Results[1].Kind != KindF64 {
		t.Errorf("results = %v", sig.Results)
	}
}

func TestParseWIT_SmallIntsWiden(t *testing.T) {
	iface, err := ParseWIT(`f: func(a: u8, b: u16, c: s8) -> bool;`)
	if err != nil {
		t.Fatalf("ParseWIT: %v", err)
	}

	sig := iface.Funcs[0]
	want := []TypeDesc{U32(), U32(), S32()}
	if !reflect.DeepEqual(sig.Params, want) {
		t.Errorf("params = %v, want %v", sig.Params, want)
	}
}

func TestParseWIT_Empty(t *testing.T) {
	if _, err := ParseWIT("no functions here"); err == nil {
		t.Fatal("expected error for text without functions")
	}
}
