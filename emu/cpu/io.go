/*
 * S390 - I/O interruptions.
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
	"github.com/rcornwell/S390/emu/channel"
	"github.com/rcornwell/S390/emu/psw"
)

// Interruption subclass mask for the current PSW.
func (cpu *CPU) ioMask() uint8 {
	if cpu.arch.Kind == arch.S370 && !cpu.PSW.EC {
		// Channels 0 to 5 from the system mask, bit 6 for the rest.
		m := cpu.PSW.SysMask & 0xfc
		if (cpu.PSW.SysMask & 0x02) != 0 {
			m |= 0x03
		}
		return m
	}
	if (cpu.PSW.SysMask & psw.MaskIO) == 0 {
		return 0
	}
	if cpu.arch.Kind == arch.S370 {
		return uint8(cpu.cregs[2] >> 24)
	}
	return uint8(cpu.cregs[6] >> 24)
}

func (cpu *CPU) ioEnabled() bool {
	return cpu.ioMask() != 0
}

// Deliver one I/O interruption.  Caller holds the interrupt lock.
// Returns only if none is queued for this CPU.
func (cpu *CPU) deliverIO() {
	s := cpu.sys
	irq, ok := s.io.Dequeue(cpu.ioMask(), 0)
	if !ok {
		if !s.io.Pending(0xff, 0) {
			cpu.pending.And(^pendIO)
		}
		return
	}
	cpu.presentIO(irq)
}

// Store the interruption identification and swap PSWs.
func (cpu *CPU) presentIO(irq channel.Interrupt) {
	low := &cpu.arch.Low
	if cpu.bcMode() {
		cpu.PSW.IntCode = uint16(irq.SSID)
	}
	cpu.storeLow32(low.SSID, irq.SSID)
	cpu.storeLow32(low.IOParm, irq.Parm)
	cpu.storeLow32(low.IOIdent, irq.Ident)
	code := cpu.swapPSW(arch.IO)
	cpu.sys.releaseIntLock(cpu.lockID())
	cpu.checkNewPSW(code)
	cpu.transfer(sigProgramCheck)
}
