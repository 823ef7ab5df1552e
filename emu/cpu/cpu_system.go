/*
 * S390 - System instructions.
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

	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/psw"
)

// CR bits checked by system instructions.
const (
	cr0SSMSupp  uint64 = 0x40000000 // SSM suppression
	cr0ExtAuth  uint64 = 0x08000000 // Extraction authority
	sysMaskMBZ  uint8  = 0xb8       // Reserved system mask bits in EC mode
	diagNop     uint64 = 0x44       // Voluntary time slice end
	cpuModel370 uint64 = 0x3090
	cpuModelZ   uint64 = 0x2064
)

// Check if the key in the high nibble is allowed by the PSW key mask.
func (cpu *CPU) keyAllowed(key uint8) bool {
	if !cpu.PSW.Problem {
		return true
	}
	pkm := uint32(cpu.cregs[3] >> 16)
	return (pkm & (0x8000 >> (key >> 4))) != 0
}

// Check a system mask value against the reserved bits.
func (cpu *CPU) validSysMask(m uint8) bool {
	if cpu.arch.Kind == arch.S370 && !cpu.PSW.EC {
		return true
	}
	return (m & sysMaskMBZ) == 0
}

// Set system mask
func (cpu *CPU) opSSM(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (cpu.cregs[0] & cr0SSMSupp) != 0 {
		return arch.PgmSpecialOp
	}
	m := cpu.vfetchByte(st.address1, ArnPrimary)
	if !cpu.validSysMask(m) {
		return arch.PgmSpecification
	}
	cpu.PSW.SysMask = m
	cpu.aia.valid = false
	return 0
}

// Store then AND or OR system mask
func (cpu *CPU) opSTxSM(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	cpu.vstoreByte(cpu.PSW.SysMask, st.address1, ArnPrimary)
	m := cpu.PSW.SysMask
	if st.opcode == OP_STNSM {
		m &= st.reg
	} else {
		m |= st.reg
	}
	if !cpu.validSysMask(m) {
		return arch.PgmSpecification
	}
	cpu.PSW.SysMask = m
	cpu.aia.valid = false
	return 0
}

// Install a PSW loaded by LPSW or LPSWE.  A format error is an early
// exception, reported with the new PSW in place.
func (cpu *CPU) loadPSW(p psw.PSW, code uint16) uint16 {
	cpu.bea = cpu.PSW.IA
	cpu.setPSW(p)
	if code != 0 {
		cpu.zeroILC = true
		return code
	}
	return 0
}

// Load processor status word
func (cpu *CPU) opLPSW(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (st.address1 & 0x7) != 0 {
		return arch.PgmSpecification
	}
	var image [8]byte
	cpu.vfetchBytes(image[:], st.address1, ArnPrimary)
	if cpu.arch.Wide() {
		p, code := psw.DecodeShort(image[:])
		return cpu.loadPSW(p, code)
	}
	p, code := psw.Decode(cpu.arch, image[:])
	return cpu.loadPSW(p, code)
}

// Load processor status word extended
func (cpu *CPU) opLPSWE(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (st.address1 & 0x7) != 0 {
		return arch.PgmSpecification
	}
	var image [16]byte
	cpu.vfetchBytes(image[:], st.address1, ArnPrimary)
	p, code := psw.Decode(cpu.arch, image[:])
	return cpu.loadPSW(p, code)
}

// Diagnose
func (cpu *CPU) opDIAG(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if cpu.host != nil {
		cpu.interceptInst()
	}
	if (st.address1 & 0xffff) == diagNop {
		return 0
	}
	return arch.PgmSpecification
}

// Test and set
func (cpu *CPU) opTS(st *stepInfo) uint16 {
	addr := st.address1 & cpu.PSW.Mask()
	abs := cpu.translate(addr, ArnPrimary, AccStore, cpu.PSW.Key)
	s := cpu.sys
	id := cpu.lockID()
	s.obtainMainLock(id)
	b := s.mem.Bytes(abs, 1)
	old := b[0]
	b[0] = 0xff
	s.mem.SetRefChange(abs)
	s.releaseMainLock(id)
	cpu.PSW.CC = old >> 7
	cpu.perStore(addr, 1)
	return 0
}

// Compare and swap
func (cpu *CPU) opCS(st *stepInfo) uint16 {
	if (st.address1 & 0x3) != 0 {
		return arch.PgmSpecification
	}
	addr := st.address1 & cpu.PSW.Mask()
	abs := cpu.translate(addr, ArnPrimary, AccStore, cpu.PSW.Key)
	s := cpu.sys
	id := cpu.lockID()
	s.obtainMainLock(id)
	cur, ok := s.mem.CompareAndSwapWord(abs, uint32(st.src1), cpu.reg32(st.R2))
	s.releaseMainLock(id)
	if ok {
		cpu.PSW.CC = 0
		cpu.perStore(addr, 4)
		return 0
	}
	cpu.setReg32(st.R1, cur)
	cpu.PSW.CC = 1
	return 0
}

// Compare double and swap
func (cpu *CPU) opCDS(st *stepInfo) uint16 {
	if (st.R1&1) != 0 || (st.R2&1) != 0 || (st.address1&0x7) != 0 {
		return arch.PgmSpecification
	}
	addr := st.address1 & cpu.PSW.Mask()
	abs := cpu.translate(addr, ArnPrimary, AccStore, cpu.PSW.Key)
	old := uint64(cpu.reg32(st.R1))<<32 | uint64(cpu.reg32(st.R1+1))
	nw := uint64(cpu.reg32(st.R2))<<32 | uint64(cpu.reg32(st.R2+1))
	s := cpu.sys
	id := cpu.lockID()
	s.obtainMainLock(id)
	cur, ok := s.mem.CompareAndSwapDouble(abs, old, nw)
	s.releaseMainLock(id)
	if ok {
		cpu.PSW.CC = 0
		cpu.perStore(addr, 8)
		return 0
	}
	cpu.setReg32(st.R1, uint32(cur>>32))
	cpu.setReg32(st.R1+1, uint32(cur))
	cpu.PSW.CC = 1
	return 0
}

// Monitor call
func (cpu *CPU) opMC(st *stepInfo) uint16 {
	if (st.reg & 0xf0) != 0 {
		return arch.PgmSpecification
	}
	class := st.reg & 0x0f
	if (uint32(cpu.cregs[8]) & (0x8000 >> class)) == 0 {
		return 0
	}
	cpu.monClass = uint16(class)
	cpu.monCode = st.address1
	return arch.PgmMonitor
}

// Load control registers
func (cpu *CPU) opLCTL(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (st.address1 & 0x3) != 0 {
		return arch.PgmSpecification
	}
	n := regCount(st.R1, st.R2)
	var buf [64]byte
	cpu.vfetchBytes(buf[:n*4], st.address1, ArnPrimary)
	for i := range n {
		r := (st.R1 + uint8(i)) & 0xf
		cpu.cregs[r] = (cpu.cregs[r] & HMASKL) | uint64(binary.BigEndian.Uint32(buf[i*4:]))
		switch r {
		case 0:
			cpu.setDAT(cpu.cregs[0])
		case 1:
			cpu.setSegTable(cpu.cregs[1])
		}
	}
	cpu.aia.valid = false
	return 0
}

// Store control registers
func (cpu *CPU) opSTCTL(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (st.address1 & 0x3) != 0 {
		return arch.PgmSpecification
	}
	n := regCount(st.R1, st.R2)
	var buf [64]byte
	for i := range n {
		r := (st.R1 + uint8(i)) & 0xf
		binary.BigEndian.PutUint32(buf[i*4:], uint32(cpu.cregs[r]))
	}
	cpu.vstoreBytes(buf[:n*4], st.address1, ArnPrimary)
	return 0
}

// Move with key
func (cpu *CPU) opMVCK(st *stepInfo) uint16 {
	length := uint32(cpu.regs[st.R1])
	key := uint8(cpu.regs[st.R2]) & 0xf0
	if !cpu.keyAllowed(key) {
		return arch.PgmPrivileged
	}
	cc := uint8(0)
	if length > 256 {
		length = 256
		cc = 3
	}
	if length != 0 {
		cpu.moveChars(st.address1, ArnPrimary, cpu.PSW.Key, st.address2, ArnSecondary, key, int(length))
	}
	cpu.PSW.CC = cc
	return 0
}

// Address space selected by an operand access control.
func (cpu *CPU) oacSpace(oac uint16) int {
	as := cpu.PSW.AS
	if (oac & 0x0001) != 0 {
		as = uint8(oac>>6) & 3
	}
	switch as {
	case 1:
		return 0
	case 2:
		return ArnSecondary
	case 3:
		return ArnHome
	}
	return ArnPrimary
}

// Key selected by an operand access control.
func (cpu *CPU) oacKey(oac uint16) uint8 {
	if (oac & 0x0002) != 0 {
		return uint8(oac>>8) & 0xf0
	}
	return cpu.PSW.Key
}

// Move with optional specifications
func (cpu *CPU) opMVCOS(st *stepInfo) uint16 {
	oac1 := uint16(cpu.regs[0] >> 16)
	oac2 := uint16(cpu.regs[0])
	dkey := cpu.oacKey(oac1)
	skey := cpu.oacKey(oac2)
	if !cpu.keyAllowed(dkey) || !cpu.keyAllowed(skey) {
		return arch.PgmPrivileged
	}
	length := cpu.regs[st.R3]
	if cpu.PSW.AMode != 64 {
		length &= LMASKL
	}
	cc := uint8(0)
	if length > 4096 {
		length = 4096
		cc = 3
	}
	if length != 0 {
		cpu.moveCharsExtended(st.address1, cpu.oacSpace(oac1), dkey,
			st.address2, cpu.oacSpace(oac2), skey, int(length))
	}
	cpu.PSW.CC = cc
	return 0
}

// Store CPU id
func (cpu *CPU) opSTIDP(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (st.address1 & 0x7) != 0 {
		return arch.PgmSpecification
	}
	model := cpuModel370
	if cpu.arch.Wide() {
		model = cpuModelZ
	}
	id := (uint64(cpu.addr&0xf) << 52) | (uint64(0x01234) << 32) | (model << 16)
	cpu.vstoreDouble(id, st.address1, ArnPrimary)
	return 0
}

// Set clock
func (cpu *CPU) opSCK(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (st.address1 & 0x7) != 0 {
		return arch.PgmSpecification
	}
	cpu.sys.setTOD(cpu.vfetchDouble(st.address1, ArnPrimary))
	cpu.PSW.CC = 0
	return 0
}

// Store clock
func (cpu *CPU) opSTCK(st *stepInfo) uint16 {
	cpu.vstoreDouble(cpu.sys.TOD(), st.address1, ArnPrimary)
	cpu.PSW.CC = 0
	return 0
}

// Set clock comparator
func (cpu *CPU) opSCKC(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (st.address1 & 0x7) != 0 {
		return arch.PgmSpecification
	}
	v := cpu.vfetchDouble(st.address1, ArnPrimary)
	cpu.clkComp.Store(v)
	if cpu.sys.TOD() > v {
		cpu.pending.Or(pendClkComp)
	}
	return 0
}

// Store clock comparator
func (cpu *CPU) opSTCKC(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (st.address1 & 0x7) != 0 {
		return arch.PgmSpecification
	}
	cpu.vstoreDouble(cpu.clkComp.Load(), st.address1, ArnPrimary)
	return 0
}

// Set CPU timer
func (cpu *CPU) opSPT(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (st.address1 & 0x7) != 0 {
		return arch.PgmSpecification
	}
	v := int64(cpu.vfetchDouble(st.address1, ArnPrimary))
	cpu.cpuTimer.Store(v)
	if v < 0 {
		cpu.pending.Or(pendCPUTimer)
	}
	return 0
}

// Store CPU timer
func (cpu *CPU) opSTPT(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (st.address1 & 0x7) != 0 {
		return arch.PgmSpecification
	}
	cpu.vstoreDouble(uint64(cpu.cpuTimer.Load()), st.address1, ArnPrimary)
	return 0
}

// Set PSW key from address
func (cpu *CPU) opSPKA(st *stepInfo) uint16 {
	key := uint8(st.address1) & 0xf0
	if !cpu.keyAllowed(key) {
		return arch.PgmPrivileged
	}
	cpu.PSW.Key = key
	cpu.aia.valid = false
	return 0
}

// Insert PSW key
func (cpu *CPU) opIPK(_ *stepInfo) uint16 {
	if cpu.PSW.Problem && (cpu.cregs[0]&cr0ExtAuth) == 0 {
		return arch.PgmPrivileged
	}
	cpu.regs[2] = (cpu.regs[2] &^ 0xff) | uint64(cpu.PSW.Key)
	cpu.regAltered(2)
	return 0
}

// Purge TLB
func (cpu *CPU) opPTLB(_ *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	cpu.purgeTLB()
	return 0
}

// Set prefix
func (cpu *CPU) opSPX(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (st.address1 & 0x3) != 0 {
		return arch.PgmSpecification
	}
	p := uint64(cpu.vfetchWord(st.address1, ArnPrimary)) & cpu.arch.PrefixMask
	if cpu.host != nil {
		if p+cpu.arch.LowSize-1 > cpu.sie.msl {
			return arch.PgmAddressing
		}
	} else if !cpu.sys.mem.CheckAddr(p + cpu.arch.LowSize - 1) {
		return arch.PgmAddressing
	}
	cpu.setPrefix(p)
	cpu.purgeTLB()
	return 0
}

// Store prefix
func (cpu *CPU) opSTPX(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (st.address1 & 0x3) != 0 {
		return arch.PgmSpecification
	}
	cpu.vstoreWord(uint32(cpu.prefix), st.address1, ArnPrimary)
	return 0
}

// Store CPU address
func (cpu *CPU) opSTAP(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if (st.address1 & 0x1) != 0 {
		return arch.PgmSpecification
	}
	cpu.vstoreHalf(uint16(cpu.addr), st.address1, ArnPrimary)
	return 0
}
