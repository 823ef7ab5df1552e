/*
 * S390 - Main storage tests.
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

package memory

import (
	"sync"
	"testing"
)

func setup(t *testing.T) *Storage {
	t.Helper()
	s, err := New(64 * 1024)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

// Check size rounding and limits.
func TestNew(t *testing.T) {
	s, err := New(64*1024 + 1)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.Size() != 68*1024 {
		t.Errorf("Memory size not correct got: %d expected: %d", s.Size(), 68*1024)
	}
	if len(s.keys) != (68*1024)/2048 {
		t.Errorf("Key array size not correct got: %d expected: %d", len(s.keys), 34)
	}
	_, err = New(1024)
	if err != ErrSize {
		t.Errorf("New small size did not fail")
	}
	if s.CheckAddr(s.Size()) {
		t.Errorf("CheckAddr end of memory not invalid")
	}
	if !s.CheckAddr(s.Size() - 1) {
		t.Errorf("CheckAddr last byte invalid")
	}
}

// Check get and put word with key updates.
func TestWord(t *testing.T) {
	s := setup(t)
	s.PutKey(0, 0xf0)
	s.PutKey(2048, 0xe0)
	for i := range uint64(256) {
		if s.PutWord(i*4, uint32(i)) {
			t.Errorf("PutWord failed at %x", i*4)
		}
	}
	k := s.GetKey(0)
	if k != 0xf6 {
		t.Errorf("PutWord Key 0 not updated got: %02x expected: %02x", k, 0xf6)
	}
	k = s.GetKey(2048)
	if k != 0xe0 {
		t.Errorf("PutWord Key 1 updated got: %02x expected: %02x", k, 0xe0)
	}
	for i := range uint64(256) {
		v, err := s.GetWord(i * 4)
		if err || v != uint32(i) {
			t.Errorf("GetWord not correct got: %d expected: %d", v, i)
		}
	}
	b := s.Bytes(4, 4)
	if b[3] != 1 || b[0] != 0 {
		t.Errorf("Storage not big endian got: %v", b)
	}
	_, err := s.GetWord(s.Size())
	if !err {
		t.Errorf("GetWord over memory size did not fail")
	}
	if !s.PutWord(s.Size()-2, 0) {
		t.Errorf("PutWord over memory size did not fail")
	}
}

// Check masked word update.
func TestPutWordMask(t *testing.T) {
	s := setup(t)
	s.PutWord(0x100, 0x12345678)
	s.PutWordMask(0x100, 0xaabbccdd, 0x0000ffff)
	v, _ := s.GetWord(0x100)
	if v != 0x1234ccdd {
		t.Errorf("PutWordMask not correct got: %08x expected: %08x", v, 0x1234ccdd)
	}
}

// Check half and byte accessors.
func TestHalfByte(t *testing.T) {
	s := setup(t)
	s.PutHalf(0x200, 0xbeef)
	s.PutByte(0x202, 0x55)
	h, _ := s.GetHalf(0x200)
	if h != 0xbeef {
		t.Errorf("GetHalf not correct got: %04x expected: %04x", h, 0xbeef)
	}
	b, _ := s.GetByte(0x202)
	if b != 0x55 {
		t.Errorf("GetByte not correct got: %02x expected: %02x", b, 0x55)
	}
	w, _ := s.GetWord(0x200)
	if w != 0xbeef5500 {
		t.Errorf("GetWord not correct got: %08x expected: %08x", w, 0xbeef5500)
	}
}

// Doubleword access must give the same result with and without atomics.
func TestDouble(t *testing.T) {
	s := setup(t)
	for _, conc := range []bool{false, true} {
		s.SetConcurrent(conc)
		s.PutDouble(0x400, 0x0123456789abcdef)
		v, _ := s.GetDouble(0x400)
		if v != 0x0123456789abcdef {
			t.Errorf("GetDouble not correct got: %016x expected: %016x", v, uint64(0x0123456789abcdef))
		}
		w, _ := s.GetWord(0x404)
		if w != 0x89abcdef {
			t.Errorf("Double not stored big endian got: %08x", w)
		}
		// Unaligned.
		s.PutDouble(0x503, 0x1122334455667788)
		v, _ = s.GetDouble(0x503)
		if v != 0x1122334455667788 {
			t.Errorf("Unaligned double not correct got: %016x", v)
		}
	}
}

// Concurrent doubleword updates must never tear.
func TestDoubleConcurrent(t *testing.T) {
	s := setup(t)
	s.SetConcurrent(true)
	patterns := []uint64{0x0000000000000000, 0xffffffffffffffff, 0x5555555555555555}
	var wg sync.WaitGroup
	for _, p := range patterns {
		wg.Add(1)
		go func(p uint64) {
			defer wg.Done()
			for range 10000 {
				s.StoreDouble(0x800, p)
			}
		}(p)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		v := s.LoadDouble(0x800)
		if v != patterns[0] && v != patterns[1] && v != patterns[2] {
			t.Fatalf("Torn doubleword read: %016x", v)
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

// Fullword loads never see a partial interlocked update.
func TestWordConcurrent(t *testing.T) {
	s := setup(t)
	s.SetConcurrent(true)
	s.PutWord(0x804, 0)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		old := uint32(0)
		for i := range 10000 {
			v := uint32(i&0xff) * 0x01010101
			if _, ok := s.CompareAndSwapWord(0x804, old, v); !ok {
				t.Errorf("CompareAndSwapWord lost update at %d", i)
				return
			}
			old = v
		}
	}()
	go func() {
		defer wg.Done()
		for range 10000 {
			s.PutWordMask(0x808, 0xffff0000, 0xffff0000)
			s.PutWordMask(0x808, 0, 0xffff0000)
		}
	}()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		v, _ := s.GetWord(0x804)
		if v != (v&0xff)*0x01010101 {
			t.Fatalf("Torn fullword read: %08x", v)
		}
		select {
		case <-done:
			if v, _ := s.GetWord(0x804); v != (9999&0xff)*0x01010101 {
				t.Errorf("Final fullword got: %08x", v)
			}
			return
		default:
		}
	}
}

// Aligned word access agrees with the byte view in both modes.
func TestWordAtomicOrder(t *testing.T) {
	s := setup(t)
	for _, on := range []bool{false, true} {
		s.SetConcurrent(on)
		s.PutWord(0x700, 0x11223344)
		b := s.Bytes(0x700, 4)
		if b[0] != 0x11 || b[3] != 0x44 {
			t.Errorf("Word byte order concurrent %v got: % x", on, b)
		}
		s.PutWordMask(0x700, 0xaabbccdd, 0x00ff00ff)
		if v, _ := s.GetWord(0x700); v != 0x11bb33dd {
			t.Errorf("PutWordMask concurrent %v got: %08x", on, v)
		}
	}
}

// Check interlocked update.
func TestCompareAndSwap(t *testing.T) {
	s := setup(t)
	s.PutWord(0x600, 10)
	old, ok := s.CompareAndSwapWord(0x600, 10, 20)
	if !ok || old != 10 {
		t.Errorf("CompareAndSwapWord failed got: %d %v", old, ok)
	}
	old, ok = s.CompareAndSwapWord(0x600, 10, 30)
	if ok || old != 20 {
		t.Errorf("CompareAndSwapWord should fail got: %d %v", old, ok)
	}
	s.PutDouble(0x608, 5)
	_, ok = s.CompareAndSwapDouble(0x608, 5, 0x100000005)
	if !ok {
		t.Errorf("CompareAndSwapDouble failed")
	}
	v, _ := s.GetDouble(0x608)
	if v != 0x100000005 {
		t.Errorf("CompareAndSwapDouble value got: %x", v)
	}
}

// Check reference bit reset and clear.
func TestKeys(t *testing.T) {
	s := setup(t)
	s.PutKey(0x1000, 0x31)
	if s.GetKey(0x1000) != 0x30 {
		t.Errorf("PutKey low bit not dropped got: %02x", s.GetKey(0x1000))
	}
	s.SetRefChange(0x1000)
	old := s.ResetRef(0x1000)
	if old != 0x36 {
		t.Errorf("ResetRef old key got: %02x expected: %02x", old, 0x36)
	}
	if s.GetKey(0x1000) != 0x32 {
		t.Errorf("ResetRef key got: %02x expected: %02x", s.GetKey(0x1000), 0x32)
	}
	s.Clear()
	if s.GetKey(0x1000) != 0 {
		t.Errorf("Clear did not reset key")
	}
	if err := s.Load(s.Size()-2, []byte{1, 2, 3}); err == nil {
		t.Errorf("Load past end did not fail")
	}
}
