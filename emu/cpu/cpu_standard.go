/*
 * S390 - General instructions.
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
	"bytes"
	"encoding/binary"

	"github.com/rcornwell/S390/emu/arch"
)

// Second operand of an RR or RX instruction.
func (cpu *CPU) wordOperand(st *stepInfo) uint32 {
	if st.entry.form == formRX {
		return cpu.vfetchWord(st.address1, ArnPrimary)
	}
	return uint32(st.src2)
}

// Branch address of an RR or RX branch.  Zero means no branch for RR.
func (st *stepInfo) target() (uint64, bool) {
	if st.entry.form == formRR {
		return st.src2, st.R2 != 0
	}
	return st.address1, true
}

// Set the condition code based on value provided.
func (cpu *CPU) setCC(value uint32) {
	switch {
	case (value & MSIGN) != 0:
		cpu.PSW.CC = 1
	case value == 0:
		cpu.PSW.CC = 0
	default:
		cpu.PSW.CC = 2
	}
}

// Zero or not zero.
func (cpu *CPU) setCCZero(value bool) {
	if value {
		cpu.PSW.CC = 0
	} else {
		cpu.PSW.CC = 1
	}
}

// Set program mask.
func (cpu *CPU) opSPM(st *stepInfo) uint16 {
	cpu.PSW.ProgMask = uint8(st.src1>>24) & 0xf
	cpu.PSW.CC = uint8(st.src1>>28) & 0x3
	return 0
}

// Link information for BAL and BALR.
func (cpu *CPU) linkBAL() uint64 {
	ia := cpu.nextIA()
	switch cpu.PSW.AMode {
	case 64:
		return ia
	case 31:
		return 0x80000000 | ia
	}
	return (uint64(cpu.ilc>>1) << 30) | (uint64(cpu.PSW.CC) << 28) |
		(uint64(cpu.PSW.ProgMask) << 24) | ia
}

// Link information for BAS and BASR.
func (cpu *CPU) linkBAS() uint64 {
	ia := cpu.nextIA()
	if cpu.PSW.AMode == 31 {
		return 0x80000000 | ia
	}
	return ia
}

// Branch and link.
func (cpu *CPU) opBAL(st *stepInfo) uint16 {
	dest, ok := st.target()
	cpu.setRegAddr(st.R1, cpu.linkBAL())
	if ok {
		cpu.branch(dest)
	}
	return 0
}

func (cpu *CPU) opBALR(st *stepInfo) uint16 {
	return cpu.opBAL(st)
}

// Branch and save.
func (cpu *CPU) opBAS(st *stepInfo) uint16 {
	dest, ok := st.target()
	cpu.setRegAddr(st.R1, cpu.linkBAS())
	if ok {
		cpu.branch(dest)
	}
	return 0
}

func (cpu *CPU) opBASR(st *stepInfo) uint16 {
	return cpu.opBAS(st)
}

// Branch and count.
func (cpu *CPU) opBCT(st *stepInfo) uint16 {
	dest, ok := st.target()
	v := uint32(st.src1) - 1
	cpu.setReg32(st.R1, v)
	if v != 0 && ok {
		cpu.branch(dest)
	}
	return 0
}

func (cpu *CPU) opBCTR(st *stepInfo) uint16 {
	return cpu.opBCT(st)
}

// Branch conditional.
func (cpu *CPU) opBC(st *stepInfo) uint16 {
	dest, ok := st.target()
	if ok && ((0x8>>cpu.PSW.CC)&st.R1) != 0 {
		cpu.branch(dest)
	}
	return 0
}

func (cpu *CPU) opBCR(st *stepInfo) uint16 {
	return cpu.opBC(st)
}

// Supervisor call.
func (cpu *CPU) opSVC(st *stepInfo) uint16 {
	cpu.supervisorCall(st.reg)
	return 0
}

// Load and test register.
func (cpu *CPU) opLTR(st *stepInfo) uint16 {
	v := uint32(st.src2)
	cpu.setReg32(st.R1, v)
	cpu.setCC(v)
	return 0
}

// Load value into register, RR and RX.
func (cpu *CPU) opL(st *stepInfo) uint16 {
	cpu.setReg32(st.R1, cpu.wordOperand(st))
	return 0
}

// Load halfword, sign extended.
func (cpu *CPU) opLH(st *stepInfo) uint16 {
	v := int16(cpu.vfetchHalf(st.address1, ArnPrimary))
	cpu.setReg32(st.R1, uint32(int32(v)))
	return 0
}

// Load address.
func (cpu *CPU) opLA(st *stepInfo) uint16 {
	cpu.setRegAddr(st.R1, st.address1)
	return 0
}

// Insert character.
func (cpu *CPU) opIC(st *stepInfo) uint16 {
	b := cpu.vfetchByte(st.address1, ArnPrimary)
	cpu.setReg32(st.R1, (uint32(st.src1)&0xffffff00)|uint32(b))
	return 0
}

// Store register.
func (cpu *CPU) opST(st *stepInfo) uint16 {
	cpu.vstoreWord(uint32(st.src1), st.address1, ArnPrimary)
	return 0
}

// Store halfword.
func (cpu *CPU) opSTH(st *stepInfo) uint16 {
	cpu.vstoreHalf(uint16(st.src1), st.address1, ArnPrimary)
	return 0
}

// Store character.
func (cpu *CPU) opSTC(st *stepInfo) uint16 {
	cpu.vstoreByte(uint8(st.src1), st.address1, ArnPrimary)
	return 0
}

// Add, RR and RX.
func (cpu *CPU) opAdd(st *stepInfo) uint16 {
	a := uint32(st.src1)
	b := cpu.wordOperand(st)
	sum := a + b
	cpu.setReg32(st.R1, sum)
	// Overflow when both operands have the same sign and the result differs.
	if ((a ^ sum) & (b ^ sum) & MSIGN) != 0 {
		return cpu.fixedOverflow()
	}
	cpu.setCC(sum)
	return 0
}

// Subtract, RR and RX.
func (cpu *CPU) opSub(st *stepInfo) uint16 {
	a := uint32(st.src1)
	b := cpu.wordOperand(st)
	diff := a - b
	cpu.setReg32(st.R1, diff)
	if ((a ^ b) & (a ^ diff) & MSIGN) != 0 {
		return cpu.fixedOverflow()
	}
	cpu.setCC(diff)
	return 0
}

// Condition code 3, and an interruption if the mask allows it.
func (cpu *CPU) fixedOverflow() uint16 {
	cpu.PSW.CC = 3
	if (cpu.PSW.ProgMask & 0x8) != 0 {
		return arch.PgmFixOverflow
	}
	return 0
}

// Add logical.
func (cpu *CPU) opAddL(st *stepInfo) uint16 {
	a := uint32(st.src1)
	sum := a + cpu.wordOperand(st)
	cpu.setReg32(st.R1, sum)
	cc := uint8(0)
	if sum != 0 {
		cc = 1
	}
	if sum < a {
		cc |= 2
	}
	cpu.PSW.CC = cc
	return 0
}

// Subtract logical.
func (cpu *CPU) opSubL(st *stepInfo) uint16 {
	a := uint32(st.src1)
	b := cpu.wordOperand(st)
	diff := a - b
	cpu.setReg32(st.R1, diff)
	cc := uint8(0)
	if diff != 0 {
		cc = 1
	}
	if a >= b {
		cc |= 2
	}
	cpu.PSW.CC = cc
	return 0
}

// Compare.
func (cpu *CPU) opCmp(st *stepInfo) uint16 {
	a := int32(st.src1)
	b := int32(cpu.wordOperand(st))
	switch {
	case a == b:
		cpu.PSW.CC = 0
	case a < b:
		cpu.PSW.CC = 1
	default:
		cpu.PSW.CC = 2
	}
	return 0
}

// Compare logical.
func (cpu *CPU) opCmpL(st *stepInfo) uint16 {
	a := uint32(st.src1)
	b := cpu.wordOperand(st)
	switch {
	case a == b:
		cpu.PSW.CC = 0
	case a < b:
		cpu.PSW.CC = 1
	default:
		cpu.PSW.CC = 2
	}
	return 0
}

// And register.
func (cpu *CPU) opAnd(st *stepInfo) uint16 {
	v := uint32(st.src1) & cpu.wordOperand(st)
	cpu.setReg32(st.R1, v)
	cpu.setCCZero(v == 0)
	return 0
}

// Or register.
func (cpu *CPU) opOr(st *stepInfo) uint16 {
	v := uint32(st.src1) | cpu.wordOperand(st)
	cpu.setReg32(st.R1, v)
	cpu.setCCZero(v == 0)
	return 0
}

// Exclusive or register.
func (cpu *CPU) opXor(st *stepInfo) uint16 {
	v := uint32(st.src1) ^ cpu.wordOperand(st)
	cpu.setReg32(st.R1, v)
	cpu.setCCZero(v == 0)
	return 0
}

// Execute.  The target is fetched, modified by R1 and run in place of
// EX; the instruction address and length stay those of EX.
func (cpu *CPU) opEX(st *stepInfo) uint16 {
	target := cpu.fetchInstruction(true, st.address1)
	if target[0] == OP_EX {
		return arch.PgmExecute
	}
	var image [6]byte
	n := copy(image[:], target)
	if st.R1 != 0 {
		image[1] |= uint8(st.src1)
	}
	var xs stepInfo
	cpu.decode(&xs, image[:n])
	return cpu.execute(&xs)
}

// Update one byte in storage.
func (cpu *CPU) updateByte(addr uint64, fn func(uint8) uint8) uint8 {
	addr &= cpu.PSW.Mask()
	abs := cpu.translate(addr, ArnPrimary, AccStore, cpu.PSW.Key)
	mem := cpu.sys.mem
	v, _ := mem.GetByte(abs)
	v = fn(v)
	mem.PutByte(abs, v)
	cpu.perStore(addr, 1)
	return v
}

// And immediate.
func (cpu *CPU) opNI(st *stepInfo) uint16 {
	v := cpu.updateByte(st.address1, func(b uint8) uint8 { return b & st.reg })
	cpu.setCCZero(v == 0)
	return 0
}

// Or immediate.
func (cpu *CPU) opOI(st *stepInfo) uint16 {
	v := cpu.updateByte(st.address1, func(b uint8) uint8 { return b | st.reg })
	cpu.setCCZero(v == 0)
	return 0
}

// Exclusive or immediate.
func (cpu *CPU) opXI(st *stepInfo) uint16 {
	v := cpu.updateByte(st.address1, func(b uint8) uint8 { return b ^ st.reg })
	cpu.setCCZero(v == 0)
	return 0
}

// Compare logical immediate.
func (cpu *CPU) opCLI(st *stepInfo) uint16 {
	b := cpu.vfetchByte(st.address1, ArnPrimary)
	switch {
	case b == st.reg:
		cpu.PSW.CC = 0
	case b < st.reg:
		cpu.PSW.CC = 1
	default:
		cpu.PSW.CC = 2
	}
	return 0
}

// Move immediate.
func (cpu *CPU) opMVI(st *stepInfo) uint16 {
	cpu.vstoreByte(st.reg, st.address1, ArnPrimary)
	return 0
}

// Test under mask.
func (cpu *CPU) opTM(st *stepInfo) uint16 {
	b := cpu.vfetchByte(st.address1, ArnPrimary) & st.reg
	switch {
	case b == 0:
		cpu.PSW.CC = 0
	case b == st.reg:
		cpu.PSW.CC = 3
	default:
		cpu.PSW.CC = 1
	}
	return 0
}

// Number of registers from R1 to R3, wrapping at 15.
func regCount(r1, r3 uint8) int {
	return int((r3-r1)&0xf) + 1
}

// Store multiple.
func (cpu *CPU) opSTM(st *stepInfo) uint16 {
	n := regCount(st.R1, st.R2)
	var buf [64]byte
	for i := range n {
		r := (st.R1 + uint8(i)) & 0xf
		binary.BigEndian.PutUint32(buf[i*4:], uint32(cpu.regs[r]))
	}
	cpu.vstoreBytes(buf[:n*4], st.address1, ArnPrimary)
	return 0
}

// Load multiple.  All of storage is fetched before any register changes.
func (cpu *CPU) opLM(st *stepInfo) uint16 {
	n := regCount(st.R1, st.R2)
	var buf [64]byte
	cpu.vfetchBytes(buf[:n*4], st.address1, ArnPrimary)
	for i := range n {
		r := (st.R1 + uint8(i)) & 0xf
		cpu.setReg32(r, binary.BigEndian.Uint32(buf[i*4:]))
	}
	return 0
}

// Move characters.
func (cpu *CPU) opMVC(st *stepInfo) uint16 {
	key := cpu.PSW.Key
	cpu.moveChars(st.address1, ArnPrimary, key, st.address2, ArnPrimary, key, int(st.reg)+1)
	return 0
}

// NC, OC and XC.  Bytes are processed left to right so overlapping
// operands see earlier results.
func (cpu *CPU) opMem(st *stepInfo) uint16 {
	n := int(st.reg) + 1
	key := cpu.PSW.Key
	mem := cpu.sys.mem
	ss := cpu.resolve(st.address2, n, ArnPrimary, AccFetch, key)
	ds := cpu.resolve(st.address1, n, ArnPrimary, AccStore, key)
	zero := true
	for i := range n {
		d, _ := ds.run(i)
		s, _ := ss.run(i)
		db := mem.Bytes(d, 1)
		sb := mem.Bytes(s, 1)[0]
		switch st.opcode {
		case OP_NC:
			db[0] &= sb
		case OP_OC:
			db[0] |= sb
		case OP_XC:
			db[0] ^= sb
		}
		if db[0] != 0 {
			zero = false
		}
	}
	ss.mark(mem, false)
	ds.mark(mem, true)
	cpu.perStore(st.address1, n)
	cpu.setCCZero(zero)
	return 0
}

// Compare logical characters.
func (cpu *CPU) opCLC(st *stepInfo) uint16 {
	n := int(st.reg) + 1
	var a, b [256]byte
	cpu.vfetchBytes(a[:n], st.address1, ArnPrimary)
	cpu.vfetchBytes(b[:n], st.address2, ArnPrimary)
	switch bytes.Compare(a[:n], b[:n]) {
	case 0:
		cpu.PSW.CC = 0
	case -1:
		cpu.PSW.CC = 1
	default:
		cpu.PSW.CC = 2
	}
	return 0
}
