/*
 * S390 - Instruction fetch.
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
)

// Instruction length from the first two bits of the opcode.
var instLength = [4]int{2, 4, 4, 6}

// Fetch the instruction at the PSW address, or for EXECUTE the target at
// addr.  The image is a view of storage unless it crosses a block, in
// which case it is assembled in the CPU's fetch buffer.
func (cpu *CPU) fetchInstruction(exec bool, addr uint64) []byte {
	if !exec {
		addr = cpu.PSW.IA
		cpu.ilc = 0
		cpu.iaPending = false
		if (addr & 1) != 0 {
			cpu.zeroILC = true
			cpu.programInterrupt(arch.PgmSpecification)
		}
		cpu.instInvalid = true
	} else if (addr & 1) != 0 {
		cpu.programInterrupt(arch.PgmSpecification)
	}

	mask := cpu.PSW.Mask()
	addr &= mask
	mem := cpu.sys.mem
	key := cpu.PSW.Key
	perFetch := cpu.perEnabled(cr9IFetch)
	useAIA := !exec && cpu.trace == 0 && !perFetch
	base := addr &^ pageMask

	var abs uint64
	if useAIA && cpu.aia.valid && cpu.aia.vbase == base && cpu.aia.key == key &&
		cpu.aia.amode == cpu.PSW.AMode {
		abs = cpu.aia.abs | (addr & pageMask)
	} else {
		abs = cpu.translate(addr, ArnPrimary, AccInstFetch, key)
		mem.SetRef(abs)
		if useAIA {
			cpu.aia = aiaCache{valid: true, vbase: base, abs: abs &^ pageMask, key: key,
				amode: cpu.PSW.AMode}
		}
	}

	ilc := instLength[mem.Bytes(abs, 1)[0]>>6]
	if !exec {
		cpu.ilc = uint8(ilc)
	}

	var inst []byte
	if inBlock(addr, uint64(ilc)) {
		inst = mem.Bytes(abs, uint64(ilc))
	} else {
		n := int(pageSize - (addr & pageMask))
		copy(cpu.ibuf[:n], mem.Bytes(abs, uint64(n)))
		abs2 := cpu.translate((addr+uint64(n))&mask, ArnPrimary, AccInstFetch, key)
		mem.SetRef(abs2)
		copy(cpu.ibuf[n:ilc], mem.Bytes(abs2, uint64(ilc-n)))
		inst = cpu.ibuf[:ilc]
	}

	if perFetch && cpu.perRange(addr) {
		cpu.perEvent |= perIFetch
		cpu.perAddr = addr
		if !exec && (cpu.cregs[9]&cr9IFNull) != 0 {
			cpu.instInvalid = false
			cpu.programInterrupt(0)
		}
	}

	if !exec {
		cpu.instInvalid = false
		cpu.iaPending = true
	}
	return inst
}
