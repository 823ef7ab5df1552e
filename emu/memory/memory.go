/*
 * S390 - Main storage.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package memory holds the main storage image shared by all CPUs and the
// storage key array that goes with it.  Addresses here are absolute;
// translation, prefixing and protection are done by the CPU.
package memory

import (
	"encoding/binary"
	"errors"
	"math/bits"
	"sync/atomic"
	"unsafe"
)

const (
	PageSize  uint64 = 0x800 // Size of one storage key block
	PageShift        = 11    // Shift to key index
	PageMask  uint64 = PageSize - 1

	KeyACC    uint8 = 0xf0 // Access control bits
	KeyFetch  uint8 = 0x08 // Fetch protection
	KeyRef    uint8 = 0x04 // Reference bit
	KeyChange uint8 = 0x02 // Change bit

	MinSize uint64 = 64 * 1024
	MaxSize uint64 = 16 * 1024 * 1024 * 1024
)

var ErrSize = errors.New("invalid storage size")

var nativeLittle = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// Storage is a main storage image plus one key per 2K block.
type Storage struct {
	words      []uint64 // Backing store, kept 8 byte aligned
	mem        []byte   // Byte view of words
	keys       []uint32 // Storage keys, updated atomically
	size       uint64
	concurrent atomic.Bool // More than one CPU running
}

// New allocates size bytes of storage.  Size is rounded up to a multiple
// of 4K.
func New(size uint64) (*Storage, error) {
	if size < MinSize || size > MaxSize {
		return nil, ErrSize
	}
	size = (size + 0xfff) &^ 0xfff
	s := &Storage{size: size}
	s.words = make([]uint64, size/8)
	s.mem = unsafe.Slice((*byte)(unsafe.Pointer(&s.words[0])), size)
	s.keys = make([]uint32, size>>PageShift)
	return s, nil
}

// Size returns size of storage in bytes.
func (s *Storage) Size() uint64 {
	return s.size
}

// CheckAddr reports whether addr is inside configured storage.
func (s *Storage) CheckAddr(addr uint64) bool {
	return addr < s.size
}

// SetConcurrent selects atomic doubleword access.  Called when the
// number of started CPUs changes.
func (s *Storage) SetConcurrent(on bool) {
	s.concurrent.Store(on)
}

// Bytes returns a view of n bytes at addr.  The caller must have
// checked the range.
func (s *Storage) Bytes(addr, n uint64) []byte {
	return s.mem[addr : addr+n : addr+n]
}

// Clear zeros storage and keys.
func (s *Storage) Clear() {
	clear(s.words)
	for i := range s.keys {
		atomic.StoreUint32(&s.keys[i], 0)
	}
}

// Load copies an image into storage at addr.
func (s *Storage) Load(addr uint64, data []byte) error {
	if addr >= s.size || uint64(len(data)) > s.size-addr {
		return ErrSize
	}
	copy(s.mem[addr:], data)
	return nil
}

// GetKey returns the storage key for a block.
func (s *Storage) GetKey(addr uint64) uint8 {
	if addr >= s.size {
		return 0
	}
	return uint8(atomic.LoadUint32(&s.keys[addr>>PageShift]))
}

// PutKey sets the storage key for a block.
func (s *Storage) PutKey(addr uint64, key uint8) {
	if addr < s.size {
		atomic.StoreUint32(&s.keys[addr>>PageShift], uint32(key&0xfe))
	}
}

// SetRef sets the reference bit of a block.
func (s *Storage) SetRef(addr uint64) {
	atomic.OrUint32(&s.keys[addr>>PageShift], uint32(KeyRef))
}

// SetRefChange sets reference and change bits of a block.
func (s *Storage) SetRefChange(addr uint64) {
	atomic.OrUint32(&s.keys[addr>>PageShift], uint32(KeyRef|KeyChange))
}

// ResetRef clears the reference bit and returns the old key.
func (s *Storage) ResetRef(addr uint64) uint8 {
	return uint8(atomic.AndUint32(&s.keys[addr>>PageShift], ^uint32(KeyRef)))
}

// GetByte returns one byte, setting the reference bit.
func (s *Storage) GetByte(addr uint64) (uint8, bool) {
	if addr >= s.size {
		return 0, true
	}
	s.SetRef(addr)
	return s.mem[addr], false
}

// PutByte stores one byte, setting reference and change.
func (s *Storage) PutByte(addr uint64, data uint8) bool {
	if addr >= s.size {
		return true
	}
	s.SetRefChange(addr)
	s.mem[addr] = data
	return false
}

// GetHalf returns a halfword that does not cross a block.
func (s *Storage) GetHalf(addr uint64) (uint16, bool) {
	if addr+2 > s.size {
		return 0, true
	}
	s.SetRef(addr)
	return binary.BigEndian.Uint16(s.mem[addr:]), false
}

// PutHalf stores a halfword that does not cross a block.
func (s *Storage) PutHalf(addr uint64, data uint16) bool {
	if addr+2 > s.size {
		return true
	}
	s.SetRefChange(addr)
	binary.BigEndian.PutUint16(s.mem[addr:], data)
	return false
}

// GetWord returns a fullword that does not cross a block.
func (s *Storage) GetWord(addr uint64) (uint32, bool) {
	if addr+4 > s.size {
		return 0, true
	}
	s.SetRef(addr)
	return s.LoadWord(addr), false
}

// PutWord stores a fullword that does not cross a block.
func (s *Storage) PutWord(addr uint64, data uint32) bool {
	if addr+4 > s.size {
		return true
	}
	s.SetRefChange(addr)
	s.StoreWord(addr, data)
	return false
}

// PutWordMask updates the bits of a fullword selected by mask.
func (s *Storage) PutWordMask(addr uint64, data, mask uint32) bool {
	if addr+4 > s.size {
		return true
	}
	s.SetRefChange(addr)
	if addr&3 == 0 && s.concurrent.Load() {
		p := s.wordPtr(addr)
		for {
			o := atomic.LoadUint32(p)
			w := toBig32((toBig32(o) &^ mask) | (data & mask))
			if atomic.CompareAndSwapUint32(p, o, w) {
				return false
			}
		}
	}
	w := binary.BigEndian.Uint32(s.mem[addr:])
	w = (w &^ mask) | (data & mask)
	binary.BigEndian.PutUint32(s.mem[addr:], w)
	return false
}

// GetDouble returns a doubleword that does not cross a block.  An
// aligned doubleword is fetched as one unit.
func (s *Storage) GetDouble(addr uint64) (uint64, bool) {
	if addr+8 > s.size {
		return 0, true
	}
	s.SetRef(addr)
	return s.LoadDouble(addr), false
}

// PutDouble stores a doubleword that does not cross a block.
func (s *Storage) PutDouble(addr uint64, data uint64) bool {
	if addr+8 > s.size {
		return true
	}
	s.SetRefChange(addr)
	s.StoreDouble(addr, data)
	return false
}

// LoadWord reads a fullword with no key update.  When more than one
// CPU is running an aligned access is done atomically.
func (s *Storage) LoadWord(addr uint64) uint32 {
	if addr&3 == 0 && s.concurrent.Load() {
		return toBig32(atomic.LoadUint32(s.wordPtr(addr)))
	}
	return binary.BigEndian.Uint32(s.mem[addr:])
}

// StoreWord writes a fullword with no key update.
func (s *Storage) StoreWord(addr uint64, data uint32) {
	if addr&3 == 0 && s.concurrent.Load() {
		atomic.StoreUint32(s.wordPtr(addr), toBig32(data))
		return
	}
	binary.BigEndian.PutUint32(s.mem[addr:], data)
}

// LoadDouble reads a doubleword with no key update.  When more than one
// CPU is running an aligned access is done atomically.
func (s *Storage) LoadDouble(addr uint64) uint64 {
	if addr&7 == 0 && s.concurrent.Load() {
		return toBig(atomic.LoadUint64(&s.words[addr>>3]))
	}
	return binary.BigEndian.Uint64(s.mem[addr:])
}

// StoreDouble writes a doubleword with no key update.
func (s *Storage) StoreDouble(addr uint64, data uint64) {
	if addr&7 == 0 && s.concurrent.Load() {
		atomic.StoreUint64(&s.words[addr>>3], toBig(data))
		return
	}
	binary.BigEndian.PutUint64(s.mem[addr:], data)
}

// CompareAndSwapWord does an interlocked update of an aligned fullword.
func (s *Storage) CompareAndSwapWord(addr uint64, old, data uint32) (uint32, bool) {
	p := s.wordPtr(addr)
	if atomic.CompareAndSwapUint32(p, toBig32(old), toBig32(data)) {
		s.SetRefChange(addr)
		return old, true
	}
	s.SetRef(addr)
	return toBig32(atomic.LoadUint32(p)), false
}

// Aligned fullword in the backing store.
func (s *Storage) wordPtr(addr uint64) *uint32 {
	return (*uint32)(unsafe.Pointer(&s.mem[addr]))
}

// CompareAndSwapDouble does an interlocked update of an aligned doubleword.
func (s *Storage) CompareAndSwapDouble(addr uint64, old, data uint64) (uint64, bool) {
	if atomic.CompareAndSwapUint64(&s.words[addr>>3], toBig(old), toBig(data)) {
		s.SetRefChange(addr)
		return old, true
	}
	s.SetRef(addr)
	return toBig(atomic.LoadUint64(&s.words[addr>>3])), false
}

// Convert between storage order and host order.
func toBig(v uint64) uint64 {
	if nativeLittle {
		return bits.ReverseBytes64(v)
	}
	return v
}

func toBig32(v uint32) uint32 {
	if nativeLittle {
		return bits.ReverseBytes32(v)
	}
	return v
}
