// Package wasmgen assembles small core wasm modules in memory, so
// tests can exercise real guest execution without checked-in binary
// artifacts or an external toolchain.
package wasmgen

// ValType is a core wasm value type byte.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
	F32 ValType = 0x7D
	F64 ValType = 0x7C
)

// Opcodes used by the generated bodies. Bodies are raw instruction
// bytes and must end with OpEnd.
const (
	OpUnreachable = 0x00
	OpBlock       = 0x02
	OpLoop        = 0x03
	OpEnd         = 0x0B
	OpBr          = 0x0C
	OpBrIf        = 0x0D
	OpCall        = 0x10
	OpLocalGet    = 0x20
	OpLocalSet    = 0x21
	OpGlobalGet   = 0x23
	OpGlobalSet   = 0x24
	OpI32Load8U   = 0x2D
	OpI32Store    = 0x36
	OpI32Store8   = 0x3A
	OpI32Const    = 0x41
	OpI32GeU      = 0x4F
	OpI32GtU      = 0x4B
	OpI32Add      = 0x6A
	OpI32Mul      = 0x6C
	OpI32And      = 0x71
	OpI32Shl      = 0x74
	OpI32ShrU     = 0x76
	OpI64Mul      = 0x7E

	// BlockVoid is the empty block type for loop/block headers.
	BlockVoid = 0x40
)

// I32Const encodes an i32.const instruction with its SLEB immediate.
func I32Const(v int32) []byte {
	return appendSLEB([]byte{OpI32Const}, int64(v))
}

type funcType struct {
	params  []ValType
	results []ValType
}

type funcEntry struct {
	typeIdx uint32
	locals  []ValType
	body    []byte
}

type globalEntry struct {
	init    int32
	mutable bool
}

type exportEntry struct {
	name string
	kind byte // 0 = func, 2 = memory
	idx  uint32
}

// Module accumulates sections and serializes a core wasm binary.
type Module struct {
	types     []funcType
	funcs     []funcEntry
	globals   []globalEntry
	exports   []exportEntry
	memoryMin uint32
	hasMemory bool
}

func NewModule() *Module {
	return &Module{}
}

func (m *Module) addType(params, results []ValType) uint32 {
	for i, t := range m.types {
		if typesEqual(t.params, params) && typesEqual(t.results, results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

func typesEqual(a, b []ValType) bool {
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

// AddFunc declares a function with the given signature and raw body
// and returns its index.
func (m *Module) AddFunc(params, results []ValType, body []byte) uint32 {
	return m.AddFuncWithLocals(params, results, nil, body)
}

// AddFuncWithLocals declares a function that uses scratch locals,
// indexed after the parameters. Locals start zeroed.
func (m *Module) AddFuncWithLocals(params, results, locals []ValType, body []byte) uint32 {
	m.funcs = append(m.funcs, funcEntry{
		typeIdx: m.addType(params, results),
		locals:  locals,
		body:    body,
	})
	return uint32(len(m.funcs) - 1)
}

// AddGlobalI32 declares an i32 global and returns its index.
func (m *Module) AddGlobalI32(init int32, mutable bool) uint32 {
	m.globals = append(m.globals, globalEntry{init: init, mutable: mutable})
	return uint32(len(m.globals) - 1)
}

// SetMemory declares a memory with the given minimum page count.
func (m *Module) SetMemory(minPages uint32) {
	m.memoryMin = minPages
	m.hasMemory = true
}

func (m *Module) ExportFunc(name string, idx uint32) {
	m.exports = append(m.exports, exportEntry{name: name, kind: 0, idx: idx})
}

func (m *Module) ExportMemory(name string) {
	m.exports = append(m.exports, exportEntry{name: name, kind: 2, idx: 0})
}

// Build serializes the module to the wasm binary format.
func (m *Module) Build() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00} // magic + version

	// Type section
	if len(m.types) > 0 {
		var sec []byte
		sec = appendULEB(sec, uint64(len(m.types)))
		for _, t := range m.types {
			sec = append(sec, 0x60)
			sec = appendULEB(sec, uint64(len(t.params)))
			for _, p := range t.params {
				sec = append(sec, byte(p))
			}
			sec = appendULEB(sec, uint64(len(t.results)))
			for _, r := range t.results {
				sec = append(sec, byte(r))
			}
		}
		out = appendSection(out, 1, sec)
	}

	// Function section
	if len(m.funcs) > 0 {
		var sec []byte
		sec = appendULEB(sec, uint64(len(m.funcs)))
		for _, f := range m.funcs {
			sec = appendULEB(sec, uint64(f.typeIdx))
		}
		out = appendSection(out, 3, sec)
	}

	// Memory section
	if m.hasMemory {
		var sec []byte
		sec = appendULEB(sec, 1)
		sec = append(sec, 0x00) // limits: min only
		sec = appendULEB(sec, uint64(m.memoryMin))
		out = appendSection(out, 5, sec)
	}

	// Global section
	if len(m.globals) > 0 {
		var sec []byte
		sec = appendULEB(sec, uint64(len(m.globals)))
		for _, g := range m.globals {
			sec = append(sec, byte(I32))
			if g.mutable {
				sec = append(sec, 0x01)
			} else {
				sec = append(sec, 0x00)
			}
			sec = append(sec, 0x41) // i32.const
			sec = appendSLEB(sec, int64(g.init))
			sec = append(sec, OpEnd)
		}
		out = appendSection(out, 6, sec)
	}

	// Export section
	if len(m.exports) > 0 {
		var sec []byte
		sec = appendULEB(sec, uint64(len(m.exports)))
		for _, e := range m.exports {
			sec = appendULEB(sec, uint64(len(e.name)))
			sec = append(sec, e.name...)
			sec = append(sec, e.kind)
			sec = appendULEB(sec, uint64(e.idx))
		}
		out = appendSection(out, 7, sec)
	}

	// Code section
	if len(m.funcs) > 0 {
		var sec []byte
		sec = appendULEB(sec, uint64(len(m.funcs)))
		for _, f := range m.funcs {
			var body []byte
			body = appendULEB(body, uint64(len(f.locals)))
			for _, l := range f.locals {
				body = appendULEB(body, 1)
				body = append(body, byte(l))
			}
			body = append(body, f.body...)
			sec = appendULEB(sec, uint64(len(body)))
			sec = append(sec, body...)
		}
		out = appendSection(out, 10, sec)
	}

	return out
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = appendULEB(out, uint64(len(content)))
	return append(out, content...)
}

func appendULEB(out []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func appendSLEB(out []byte, v int64) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
