package wasmgen

// TestGuest assembles the guest module the runtime tests execute.
//
// It exports one page of memory, a bump allocator under the "alloc"
// and "free" convention, and a small set of functions:
//
//	nop()                        no-op, a meter checkpoint per call
//	add(a: s32, b: s32) -> s32   plain arithmetic
//	mul64(a: u64, b: u64) -> u64 64-bit path
//	spin()                       infinite loop calling nop each turn
//	echo(ptr, len, ret)          writes (ptr, len) to the return area
//	digest(ptr, len, ret)        64-char hex digest of the input bytes
//	crash()                      executes unreachable
//
// echo has the core shape of any schema function whose results spill
// to a return area, e.g. echo: func(s: string) -> string; it returns
// the caller's own buffer, so the host sees a guest echoing memory the
// host staged. digest has the same core shape but produces a
// guest-owned result buffer, the string form of digest: func(data:
// list<u8>) -> string. spin never returns on its own and only stops
// when the step budget or deadline closes the instance.
func TestGuest() []byte {
	m := NewModule()
	m.SetMemory(1)

	// Bump allocator heap pointer, starting above the staging area.
	heap := m.AddGlobalI32(4096, true)

	nop := m.AddFunc(nil, nil, []byte{OpEnd})

	add := m.AddFunc([]ValType{I32, I32}, []ValType{I32}, []byte{
		OpLocalGet, 0,
		OpLocalGet, 1,
		OpI32Add,
		OpEnd,
	})

	mul64 := m.AddFunc([]ValType{I64, I64}, []ValType{I64}, []byte{
		OpLocalGet, 0,
		OpLocalGet, 1,
		OpI64Mul,
		OpEnd,
	})

	spin := m.AddFunc(nil, nil, []byte{
		OpLoop, BlockVoid,
		OpCall, byte(nop),
		OpBr, 0x00,
		OpEnd,
		OpEnd,
	})

	// alloc(size) -> ptr: returns the current heap pointer and bumps
	// it. Alignment is ignored; the discovery path treats a one-param
	// allocator as the simple convention.
	alloc := m.AddFunc([]ValType{I32}, []ValType{I32}, []byte{
		OpGlobalGet, byte(heap),
		OpGlobalGet, byte(heap),
		OpLocalGet, 0,
		OpI32Add,
		OpGlobalSet, byte(heap),
		OpEnd,
	})

	free := m.AddFunc([]ValType{I32, I32, I32}, nil, []byte{OpEnd})

	echo := m.AddFunc([]ValType{I32, I32, I32}, nil, []byte{
		OpLocalGet, 2,
		OpLocalGet, 0,
		OpI32Store, 0x02, 0x00,
		OpLocalGet, 2,
		OpLocalGet, 1,
		OpI32Store, 0x02, 0x04,
		OpEnd,
	})

	digest := m.AddFuncWithLocals([]ValType{I32, I32, I32}, nil,
		[]ValType{I32, I32, I32}, digestBody())

	crash := m.AddFunc(nil, nil, []byte{OpUnreachable, OpEnd})

	m.ExportMemory("memory")
	m.ExportFunc("nop", nop)
	m.ExportFunc("add", add)
	m.ExportFunc("mul64", mul64)
	m.ExportFunc("spin", spin)
	m.ExportFunc("alloc", alloc)
	m.ExportFunc("free", free)
	m.ExportFunc("echo", echo)
	m.ExportFunc("digest", digest)
	m.ExportFunc("crash", crash)
	return m.Build()
}

// digestBody assembles digest(ptr, len, ret): fold the input bytes
// into a 32-bit accumulator, render it as 64 lowercase hex characters
// at a fixed offset below the heap, and write (ptr, len) of that
// string to the return area. Empty input is valid and hashes the seed
// alone. Locals: 3 = accumulator, 4 = loop counter, 5 = nibble.
func digestBody() []byte {
	const out = 2048

	var b []byte
	b = append(b, I32Const(17)...)
	b = append(b, OpLocalSet, 3)

	// acc = acc*31 + input[i]
	b = append(b, OpBlock, BlockVoid, OpLoop, BlockVoid)
	b = append(b, OpLocalGet, 4, OpLocalGet, 1, OpI32GeU, OpBrIf, 1)
	b = append(b, OpLocalGet, 3)
	b = append(b, I32Const(31)...)
	b = append(b, OpI32Mul)
	b = append(b, OpLocalGet, 0, OpLocalGet, 4, OpI32Add)
	b = append(b, OpI32Load8U, 0x00, 0x00)
	b = append(b, OpI32Add, OpLocalSet, 3)
	b = append(b, OpLocalGet, 4)
	b = append(b, I32Const(1)...)
	b = append(b, OpI32Add, OpLocalSet, 4)
	b = append(b, OpBr, 0x00, OpEnd, OpEnd)

	// out[i] = hex(nibble i&7 of acc), for i in 0..63
	b = append(b, I32Const(0)...)
	b = append(b, OpLocalSet, 4)
	b = append(b, OpBlock, BlockVoid, OpLoop, BlockVoid)
	b = append(b, OpLocalGet, 4)
	b = append(b, I32Const(64)...)
	b = append(b, OpI32GeU, OpBrIf, 1)
	b = append(b, OpLocalGet, 3)
	b = append(b, OpLocalGet, 4)
	b = append(b, I32Const(7)...)
	b = append(b, OpI32And)
	b = append(b, I32Const(2)...)
	b = append(b, OpI32Shl, OpI32ShrU)
	b = append(b, I32Const(15)...)
	b = append(b, OpI32And, OpLocalSet, 5)
	b = append(b, I32Const(out)...)
	b = append(b, OpLocalGet, 4, OpI32Add)
	// '0' + nibble, shifted into 'a'..'f' when above 9
	b = append(b, OpLocalGet, 5)
	b = append(b, I32Const(48)...)
	b = append(b, OpI32Add)
	b = append(b, OpLocalGet, 5)
	b = append(b, I32Const(9)...)
	b = append(b, OpI32GtU)
	b = append(b, I32Const(39)...)
	b = append(b, OpI32Mul, OpI32Add)
	b = append(b, OpI32Store8, 0x00, 0x00)
	b = append(b, OpLocalGet, 4)
	b = append(b, I32Const(1)...)
	b = append(b, OpI32Add, OpLocalSet, 4)
	b = append(b, OpBr, 0x00, OpEnd, OpEnd)

	b = append(b, OpLocalGet, 2)
	b = append(b, I32Const(out)...)
	b = append(b, OpI32Store, 0x02, 0x00)
	b = append(b, OpLocalGet, 2)
	b = append(b, I32Const(64)...)
	b = append(b, OpI32Store, 0x02, 0x04)
	b = append(b, OpEnd)
	return b
}
