package shm

import (
	"sync/atomic"
	"unsafe"
)

// LoadUint32 atomically loads the uint32 at the start of b. b must be 4-byte aligned.
func LoadUint32(b []byte) uint32 {
	_ = b[3]
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&b[0])))
}

// StoreUint32 atomically stores v at the start of b. b must be 4-byte aligned.
func StoreUint32(b []byte, v uint32) {
	_ = b[3]
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&b[0])), v)
}
