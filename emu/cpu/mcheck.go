/*
 * S390 - Machine check interruption.
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
	"strconv"

	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/mcheck"
	"github.com/rcornwell/S390/emu/psw"
)

func (cpu *CPU) mckEnabled() bool {
	return cpu.PSW.MCheck
}

// Deliver one machine check condition.  Caller holds the interrupt
// lock.  Returns only if nothing was queued.
func (cpu *CPU) deliverMachineCheck() {
	s := cpu.sys
	cond, ok := s.mck.Dequeue(cpu.addr)
	if !s.mck.Pending(cpu.addr) {
		cpu.pending.And(^pendMCK)
	}
	if !ok {
		return
	}

	cpu.storeStatus()
	low := &cpu.arch.Low
	cpu.storeLow64(low.MCIC, cond.MCIC|mcheck.RegValid)
	cpu.storeLow32(low.ExtDamage, cond.ExtDamage)
	cpu.storeLowAddr(low.FailAddr, cond.FailAddr)
	if cond.Unrecoverable() {
		cpu.checkstop = true
		cpu.state = Stopping
		cpu.pending.Or(pendStop)
		cpu.log.Error("Machine check, CPU checkstopped",
			"mcic", strconv.FormatUint(cond.MCIC, 16))
	}
	if cpu.bcMode() {
		cpu.PSW.IntCode = 0
	}
	code := cpu.swapPSW(arch.MachineCheck)
	s.releaseIntLock(cpu.lockID())
	cpu.checkNewPSW(code)
	cpu.transfer(sigProgramCheck)
}

// Store registers into the save areas of the prefixed area.
func (cpu *CPU) storeStatus() {
	a := cpu.arch
	low := &a.Low
	cpu.storeLow64(low.SaveCPUTimer, uint64(cpu.cpuTimer.Load()))
	cpu.storeLow64(low.SaveClkComp, cpu.clkComp.Load())
	if low.SaveAR != 0 {
		for i, r := range cpu.aregs {
			cpu.storeLow32(low.SaveAR+uint64(i*4), r)
		}
	}
	if a.Wide() {
		for i := range 16 {
			cpu.storeLow64(low.SaveFPR+uint64(i*8), cpu.fpregs[i])
			cpu.storeLow64(low.SaveGR+uint64(i*8), cpu.regs[i])
			cpu.storeLow64(low.SaveCR+uint64(i*8), cpu.cregs[i])
		}
		var image [16]byte
		psw.Encode(a, &cpu.PSW, image[:])
		for i := range 2 {
			cpu.storeLow64(low.SavePSW+uint64(i*8), binary.BigEndian.Uint64(image[i*8:]))
		}
		cpu.storeLow32(low.SavePrefix, uint32(cpu.prefix))
		return
	}
	for i := range 4 {
		cpu.storeLow64(low.SaveFPR+uint64(i*8), cpu.fpregs[i*2])
	}
	for i := range 16 {
		cpu.storeLow32(low.SaveGR+uint64(i*4), uint32(cpu.regs[i]))
		cpu.storeLow32(low.SaveCR+uint64(i*4), uint32(cpu.cregs[i]))
	}
}
