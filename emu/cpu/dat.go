/*
 * S390 - Address translation.
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
	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/memory"
	"github.com/rcornwell/S390/emu/psw"
)

// TLB entry fields for S/370 translation.
const (
	tlbValid uint32 = 0x80000000
	tlbSeg   uint32 = 0x01ff0000
	tlbPhy   uint32 = 0x0000ffff
	pteValid uint32 = 0x00000001 // Segment entry invalid bit
	pteAddr  uint32 = 0x00fffff8
)

// DefaultTranslator does real mode, prefixing, key protection, low
// address protection and System/370 dynamic address translation.  For
// ESA/390 and z/Architecture DAT it reports a translation specification
// exception; a Translator that knows those tables replaces it.
type DefaultTranslator struct{}

// Translate converts a virtual address to absolute.
func (DefaultTranslator) Translate(cpu *CPU, addr uint64, arn int, acc Access, key uint8) (uint64, uint16) {
	raddr := addr
	if arn != ArnReal && cpu.PSW.EC && (cpu.PSW.SysMask&psw.MaskDAT) != 0 {
		if cpu.arch.Kind != arch.S370 {
			cpu.tea = addr
			return 0, arch.PgmTransSpec
		}
		var code uint16
		raddr, code = cpu.transAddr(addr)
		if code != 0 {
			return 0, code
		}
	}

	// Low address protection.
	if acc == AccStore && (cpu.cregs[0]&cr0LowProt) != 0 && !cpu.diag {
		if a := addr &^ 0x1ff; a == 0 || a == 0x1000 {
			return 0, arch.PgmProtection
		}
	}

	abs := cpu.realToAbs(raddr)
	if cpu.host != nil {
		abs = cpu.guestToHost(abs)
	}
	mem := cpu.sys.mem
	if !mem.CheckAddr(abs) {
		return 0, arch.PgmAddressing
	}

	if key != 0 {
		k := mem.GetKey(abs)
		if (k & memory.KeyACC) != key {
			if acc == AccStore || (k&memory.KeyFetch) != 0 {
				return 0, arch.PgmProtection
			}
		}
	}
	return abs, 0
}

// Apply prefixing to a real address.
func (cpu *CPU) realToAbs(r uint64) uint64 {
	size := cpu.arch.LowSize
	switch {
	case r < size:
		return r + cpu.prefix
	case r >= cpu.prefix && r < cpu.prefix+size:
		return r - cpu.prefix
	}
	return r
}

// Map a guest absolute address into host absolute storage.  Beyond the
// guest extent is an addressing exception for the guest; beyond host
// storage is one for the host.
func (cpu *CPU) guestToHost(abs uint64) uint64 {
	sd := cpu.sie
	if abs > sd.msl {
		return cpu.sys.mem.Size()
	}
	habs := abs + sd.mso
	if !cpu.sys.mem.CheckAddr(habs) {
		cpu.host.programInterrupt(arch.PgmAddressing)
	}
	return habs
}

/*
 *     PS = 2K     page_shift = 11   pte_avail = 0x4  pte_mbz = 0x2 pte_shift = 3
 *     PS = 4K     page_shift = 12   pte_avail = 0x8  pte_mbz = 0x6 pte_shift = 4
 *
 *       SS = 64K  page_mask = 0x1F     PS=4K page_mask = 0xF
 *                 seg_shift = 16
 *                 seg_mask = 0xff
 *       SS = 1M   page_mask = 0xff     PS=4k page_mask = 07F
 *                 seg_shift = 20
 *                 seg_mask = 0xF
 */

// Derive S/370 translation parameters from CR0.
func (cpu *CPU) setDAT(cr0 uint64) {
	d := &cpu.dat
	d.pageShift = 0
	d.segShift = 0
	switch (cr0 >> 22) & 3 {
	case 1: // 2K page
		d.pageShift = 11
		d.pageMask = 0x7ff
		d.pteAvail = 4
		d.pteMBZ = 2
		d.pteShift = 3
		d.pteLenShift = 1
	case 2: // 4K page
		d.pageShift = 12
		d.pageMask = 0xfff
		d.pteAvail = 8
		d.pteMBZ = 6
		d.pteShift = 4
		d.pteLenShift = 0
	}

	switch (cr0 >> 19) & 7 {
	case 0: // 64K segments
		d.segShift = 16
		d.segMask = uint64(AMASK) >> 16
	case 2: // 1M segments
		d.segShift = 20
		d.segMask = uint64(AMASK) >> 20
		d.pteLenShift += 4
	}
	if d.pageShift != 0 {
		d.pageIndex = ((^(d.segMask << d.segShift) & ^d.pageMask) & uint64(AMASK)) >> d.pageShift
	}
	cpu.tlb = [256]uint32{}
}

// Set segment table from CR1.
func (cpu *CPU) setSegTable(cr1 uint64) {
	cpu.tlb = [256]uint32{}
	cpu.dat.segAddr = cr1 & uint64(AMASK)
	cpu.dat.segLen = (((cr1 >> 24) & 0xff) + 1) << 4
}

// Purge the translation lookaside buffer.
func (cpu *CPU) purgeTLB() {
	cpu.tlb = [256]uint32{}
	cpu.aia.valid = false
}

// Read a table entry from real storage.
func (cpu *CPU) tableWord(addr uint64) (uint32, bool) {
	abs := cpu.realToAbs(addr & uint64(AMASK))
	if cpu.host != nil {
		abs = cpu.guestToHost(abs)
	}
	return cpu.sys.mem.GetWord(abs)
}

// Translate an S/370 virtual address to real.
func (cpu *CPU) transAddr(va uint64) (uint64, uint16) {
	d := &cpu.dat
	addr := va & uint64(AMASK)
	if d.pageShift == 0 || d.segShift == 0 {
		cpu.tea = va
		return 0, arch.PgmTransSpec
	}

	// Quick check if TLB correct.
	page := addr >> d.pageShift
	seg := uint32(page&0x1f00) << 4
	entry := cpu.tlb[page&0xff]
	if (entry&tlbValid) != 0 && ((entry^seg)&tlbSeg) == 0 {
		return (addr & d.pageMask) | (uint64(entry&tlbPhy) << d.pageShift), 0
	}
	cpu.tlb[page&0xff] = 0

	segNum := (addr >> d.segShift) & d.segMask
	pageNum := (addr >> d.pageShift) & d.pageIndex
	if segNum > d.segLen {
		cpu.tea = va
		return 0, arch.PgmSegment
	}

	ste, err := cpu.tableWord((segNum << 2) + d.segAddr)
	if err {
		return 0, arch.PgmAddressing
	}

	// Check if entry valid and inside page table length.
	if (ste&pteValid) != 0 || (pageNum>>d.pteLenShift) >= uint64(ste>>28)+1 {
		cpu.tea = va
		if (ste & pteValid) != 0 {
			return 0, arch.PgmSegment
		}
		return 0, arch.PgmPage
	}

	pteLoc := (uint64(ste&pteAddr) + (pageNum << 1)) & uint64(AMASK)
	w, err := cpu.tableWord(pteLoc &^ 3)
	if err {
		return 0, arch.PgmAddressing
	}
	pte := w >> 16
	if (pteLoc & 2) != 0 {
		pte = w & 0xffff
	}
	if uint64(pte)&d.pteMBZ != 0 {
		cpu.tea = va
		return 0, arch.PgmTransSpec
	}
	if uint64(pte)&d.pteAvail != 0 {
		cpu.tea = va
		return 0, arch.PgmPage
	}

	phys := uint32(pte) >> d.pteShift
	cpu.tlb[page&0xff] = phys | seg | tlbValid
	return (addr & d.pageMask) | ((uint64(phys) << d.pageShift) & uint64(AMASK)), 0
}
