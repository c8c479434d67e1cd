package componenthost

// Memory is the host's view of a guest's linear memory. Offsets and
// lengths are guest addresses; every access is bounds-checked against
// the current memory size.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error

	// Size returns the current linear memory size in bytes.
	Size() uint32
}

// Allocator allocates and releases regions inside guest linear memory.
// Implementations delegate to the guest's declared allocation exports,
// so the guest's own allocator stays authoritative over its heap.
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
	Free(ptr, size, align uint32)
}
