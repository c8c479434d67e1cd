package schema

import (
	"fmt"
	"strings"

	"github.com/wasmlab/component-host/errors"
)

// CoreExport describes one function export of a guest module as the
// engine reports it: its name and core value types.
type CoreExport struct {
	Name    string
	Params  []CoreType
	Results []CoreType
}

// Binding ties one schema function to a compatible guest export.
type Binding struct {
	Signature *Signature
	Flat      FlatSignature
	Export    string
}

// BindingTable is the result of a successful validation: one binding
// per schema function, built once per (schema, module) pair and shared
// read-only by every instance afterwards.
type BindingTable struct {
	byName map[string]*Binding
}

// Lookup returns the binding for a schema function name.
func (bt *BindingTable) Lookup(name string) (*Binding, bool) {
	b, ok := bt.byName[name]
	return b, ok
}

// Len returns the number of bound functions.
func (bt *BindingTable) Len() int {
	return len(bt.byName)
}

// Validate checks every schema function against the guest's declared
// exports and returns the complete binding table, or a schema_mismatch
// fault naming the first incompatible function in declaration order.
// The check is pure; run it once per (schema, module) pair.
func Validate(iface *Interface, exports []CoreExport) (*BindingTable, error) {
	if err := iface.Validate(); err != nil {
		return nil, err
	}

	byName := make(map[string]*CoreExport, len(exports))
	for ei := range exports {
		byName[exports[ei].Name] = &exports[ei]
	}

	table := &BindingTable{byName: make(map[string]*Binding, len(iface.Funcs))}
	for fi := range iface.Funcs {
		sig := &iface.Funcs[fi]

		exp, ok := byName[sig.Name]
		if !ok {
			return nil, errors.SchemaMismatch(sig.Name, "no matching export")
		}

		flat, err := FlattenSignature(sig)
		if err != nil {
			return nil, err
		}

		if !coreTypesEqual(flat.Params, exp.Params) || !coreTypesEqual(flat.Results, exp.Results) {
			return nil, errors.SchemaMismatch(sig.Name, fmt.Sprintf(
				"incompatible layout: schema lowers to (%s) -> (%s), export is (%s) -> (%s)",
				coreTypesString(flat.Params), coreTypesString(flat.Results),
				coreTypesString(exp.Params), coreTypesString(exp.Results)))
		}

		table.byName[sig.Name] = &Binding{
			Signature: sig,
			Flat:      flat,
			Export:    exp.Name,
		}
	}

	return table, nil
}

func coreTypesEqual(a, b []CoreType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func coreTypesString(ts []CoreType) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}
