/*
 * S390 - Virtual storage access.
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

package cpu

import (
	"encoding/binary"

	"github.com/rcornwell/S390/emu/memory"
)

// Operand resolved to absolute pieces, one per 2K block touched.  Three
// pieces cover the longest operand of 4096 bytes.
type span struct {
	abs [3]uint64
	ln  [3]int
	cnt int
}

// Absolute address of byte i and bytes left in its piece.
func (s *span) run(i int) (uint64, int) {
	for k := range s.cnt {
		if i < s.ln[k] {
			return s.abs[k] + uint64(i), s.ln[k] - i
		}
		i -= s.ln[k]
	}
	return 0, 0
}

// Set reference, and change if stored, on every piece.
func (s *span) mark(mem *memory.Storage, change bool) {
	for k := range s.cnt {
		if change {
			mem.SetRefChange(s.abs[k])
		} else {
			mem.SetRef(s.abs[k])
		}
	}
}

// Check if any piece of s shares storage with any piece of o.
func (s *span) overlaps(o *span) bool {
	for i := range s.cnt {
		for j := range o.cnt {
			if s.abs[i] < o.abs[j]+uint64(o.ln[j]) && o.abs[j] < s.abs[i]+uint64(s.ln[i]) {
				return true
			}
		}
	}
	return false
}

// Translate an address or take the program interruption.
func (cpu *CPU) translate(addr uint64, arn int, acc Access, key uint8) uint64 {
	abs, code := cpu.sys.xlate.Translate(cpu, addr, arn, acc, key)
	if code != 0 {
		cpu.programInterrupt(code)
	}
	return abs
}

// Translate every block of an operand before any data moves.
func (cpu *CPU) resolve(addr uint64, n int, arn int, acc Access, key uint8) span {
	var s span
	mask := cpu.PSW.Mask()
	for n > 0 {
		addr &= mask
		l := min(int(pageSize-(addr&pageMask)), n)
		s.abs[s.cnt] = cpu.translate(addr, arn, acc, key)
		s.ln[s.cnt] = l
		s.cnt++
		addr += uint64(l)
		n -= l
	}
	return s
}

// Check that an operand could be accessed, without touching it.
func (cpu *CPU) validateOperand(addr uint64, arn int, length int, acc Access) {
	mask := cpu.PSW.Mask()
	for length > 0 {
		addr &= mask
		l := min(int(pageSize-(addr&pageMask)), length)
		cpu.translate(addr, arn, acc, cpu.PSW.Key)
		addr += uint64(l)
		length -= l
	}
}

// Record a PER storage alteration event.
func (cpu *CPU) perStore(addr uint64, n int) {
	if !cpu.perEnabled(cr9Store) {
		return
	}
	end := (addr + uint64(n) - 1) & cpu.arch.AddrMask
	start := cpu.cregs[10] & cpu.arch.AddrMask
	if cpu.perRange(addr) || cpu.perRange(end) || (start >= addr && start <= end) {
		cpu.perEvent |= perStore
		cpu.perAddr = cpu.PSW.IA
	}
}

// Store 1 to 256 bytes.
func (cpu *CPU) vstoreBytes(buf []byte, addr uint64, arn int) {
	cpu.vstoreBytesKey(buf, addr, arn, cpu.PSW.Key)
}

func (cpu *CPU) vstoreBytesKey(buf []byte, addr uint64, arn int, key uint8) {
	mem := cpu.sys.mem
	s := cpu.resolve(addr, len(buf), arn, AccStore, key)
	off := 0
	for k := range s.cnt {
		copy(mem.Bytes(s.abs[k], uint64(s.ln[k])), buf[off:off+s.ln[k]])
		off += s.ln[k]
	}
	s.mark(mem, true)
	cpu.perStore(addr, len(buf))
}

// Fetch 1 to 256 bytes.
func (cpu *CPU) vfetchBytes(dst []byte, addr uint64, arn int) {
	cpu.vfetchBytesKey(dst, addr, arn, cpu.PSW.Key)
}

func (cpu *CPU) vfetchBytesKey(dst []byte, addr uint64, arn int, key uint8) {
	mem := cpu.sys.mem
	s := cpu.resolve(addr, len(dst), arn, AccFetch, key)
	off := 0
	for k := range s.cnt {
		copy(dst[off:off+s.ln[k]], mem.Bytes(s.abs[k], uint64(s.ln[k])))
		off += s.ln[k]
	}
	s.mark(mem, false)
}

// Check if n bytes at addr stay in one block.
func inBlock(addr uint64, n uint64) bool {
	return (addr & pageMask) <= pageSize-n
}

func (cpu *CPU) vfetchByte(addr uint64, arn int) uint8 {
	abs := cpu.translate(addr&cpu.PSW.Mask(), arn, AccFetch, cpu.PSW.Key)
	v, _ := cpu.sys.mem.GetByte(abs)
	return v
}

func (cpu *CPU) vstoreByte(v uint8, addr uint64, arn int) {
	addr &= cpu.PSW.Mask()
	abs := cpu.translate(addr, arn, AccStore, cpu.PSW.Key)
	cpu.sys.mem.PutByte(abs, v)
	cpu.perStore(addr, 1)
}

func (cpu *CPU) vfetchHalf(addr uint64, arn int) uint16 {
	addr &= cpu.PSW.Mask()
	if inBlock(addr, 2) {
		abs := cpu.translate(addr, arn, AccFetch, cpu.PSW.Key)
		v, _ := cpu.sys.mem.GetHalf(abs)
		return v
	}
	var b [2]byte
	cpu.vfetchBytes(b[:], addr, arn)
	return binary.BigEndian.Uint16(b[:])
}

func (cpu *CPU) vstoreHalf(v uint16, addr uint64, arn int) {
	addr &= cpu.PSW.Mask()
	if inBlock(addr, 2) {
		abs := cpu.translate(addr, arn, AccStore, cpu.PSW.Key)
		cpu.sys.mem.PutHalf(abs, v)
		cpu.perStore(addr, 2)
		return
	}
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	cpu.vstoreBytes(b[:], addr, arn)
}

func (cpu *CPU) vfetchWord(addr uint64, arn int) uint32 {
	addr &= cpu.PSW.Mask()
	if inBlock(addr, 4) {
		abs := cpu.translate(addr, arn, AccFetch, cpu.PSW.Key)
		v, _ := cpu.sys.mem.GetWord(abs)
		return v
	}
	var b [4]byte
	cpu.vfetchBytes(b[:], addr, arn)
	return binary.BigEndian.Uint32(b[:])
}

func (cpu *CPU) vstoreWord(v uint32, addr uint64, arn int) {
	addr &= cpu.PSW.Mask()
	if inBlock(addr, 4) {
		abs := cpu.translate(addr, arn, AccStore, cpu.PSW.Key)
		cpu.sys.mem.PutWord(abs, v)
		cpu.perStore(addr, 4)
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	cpu.vstoreBytes(b[:], addr, arn)
}

// Aligned doublewords are fetched as one unit.
func (cpu *CPU) vfetchDouble(addr uint64, arn int) uint64 {
	addr &= cpu.PSW.Mask()
	if inBlock(addr, 8) {
		abs := cpu.translate(addr, arn, AccFetch, cpu.PSW.Key)
		v, _ := cpu.sys.mem.GetDouble(abs)
		return v
	}
	var b [8]byte
	cpu.vfetchBytes(b[:], addr, arn)
	return binary.BigEndian.Uint64(b[:])
}

func (cpu *CPU) vstoreDouble(v uint64, addr uint64, arn int) {
	addr &= cpu.PSW.Mask()
	if inBlock(addr, 8) {
		abs := cpu.translate(addr, arn, AccStore, cpu.PSW.Key)
		cpu.sys.mem.PutDouble(abs, v)
		cpu.perStore(addr, 8)
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	cpu.vstoreBytes(b[:], addr, arn)
}

// Move 1 to 256 bytes left to right.  When the operands overlap each
// byte is moved on its own so a destination one past the source
// propagates the first byte.
func (cpu *CPU) moveChars(dst uint64, dstArn int, dstKey uint8, src uint64, srcArn int, srcKey uint8, length int) {
	mem := cpu.sys.mem
	ss := cpu.resolve(src, length, srcArn, AccFetch, srcKey)
	ds := cpu.resolve(dst, length, dstArn, AccStore, dstKey)
	if ds.overlaps(&ss) {
		for i := range length {
			d, _ := ds.run(i)
			s, _ := ss.run(i)
			mem.Bytes(d, 1)[0] = mem.Bytes(s, 1)[0]
		}
	} else {
		copyRuns(mem, &ds, &ss, length)
	}
	ss.mark(mem, false)
	ds.mark(mem, true)
	cpu.perStore(dst, length)
}

// Move up to 4096 bytes.  All blocks of both operands are resolved
// first.  Results of a destructive overlap are unpredictable.
func (cpu *CPU) moveCharsExtended(dst uint64, dstArn int, dstKey uint8, src uint64, srcArn int, srcKey uint8, length int) {
	mem := cpu.sys.mem
	ss := cpu.resolve(src, length, srcArn, AccFetch, srcKey)
	ds := cpu.resolve(dst, length, dstArn, AccStore, dstKey)
	copyRuns(mem, &ds, &ss, length)
	ss.mark(mem, false)
	ds.mark(mem, true)
	cpu.perStore(dst, length)
}

// Copy in the largest runs that stay inside one piece of each operand.
func copyRuns(mem *memory.Storage, ds, ss *span, length int) {
	for i := 0; i < length; {
		d, dn := ds.run(i)
		s, sn := ss.run(i)
		n := min(dn, sn)
		copy(mem.Bytes(d, uint64(n)), mem.Bytes(s, uint64(n)))
		i += n
	}
}
