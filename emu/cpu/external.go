/*
 * S390 - External interruptions.
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
	"math/bits"

	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/psw"
)

// Service signal parameter.
const extParm uint64 = 0x80

type extSource struct {
	bit  uint32 // Pending bit
	cr0  uint64 // Subclass mask
	code uint16 // Interruption code
}

// In order of priority.
var extSources = [...]extSource{
	{pendIntKey, cr0ExtKey, arch.ExtInterruptKey},
	{pendEmergency, cr0Emergency, arch.ExtEmergency},
	{pendExtCall, cr0ExtCall, arch.ExtCall},
	{pendClkComp, cr0ClkComp, arch.ExtClockComp},
	{pendCPUTimer, cr0CPUTimer, arch.ExtCPUTimer},
	{pendInterval, cr0Interval, arch.ExtIntervalTmr},
	{pendService, cr0Service, arch.ExtService},
}

func (cpu *CPU) extEnabled() bool {
	return (cpu.PSW.SysMask & psw.MaskExt) != 0
}

// Deliver the highest priority enabled external interruption.  Caller
// holds the interrupt lock.  Returns only if none could be taken.
func (cpu *CPU) deliverExternal() {
	for _, src := range extSources {
		if (cpu.pending.Load()&src.bit) == 0 || (cpu.cregs[0]&src.cr0) == 0 {
			continue
		}
		cpuAddr := -1
		switch src.bit {
		case pendEmergency:
			n := bits.TrailingZeros64(cpu.emerSource)
			if n < 64 {
				cpu.emerSource &^= uint64(1) << n
			}
			if cpu.emerSource == 0 {
				cpu.pending.And(^pendEmergency)
			}
			if n == 64 {
				continue
			}
			cpuAddr = n
		case pendExtCall:
			cpuAddr = cpu.extCallFrom
			cpu.extCallFrom = -1
			cpu.pending.And(^pendExtCall)
		case pendClkComp:
			// Stays pending while the condition holds.
			if cpu.sys.TOD() <= cpu.clkComp.Load() {
				cpu.pending.And(^pendClkComp)
				continue
			}
		case pendCPUTimer:
			if cpu.cpuTimer.Load() >= 0 {
				cpu.pending.And(^pendCPUTimer)
				continue
			}
		case pendInterval:
			cpu.pending.And(^pendInterval)
			if cpu.arch.Kind != arch.S370 {
				continue
			}
		default:
			cpu.pending.And(^src.bit)
		}
		cpu.presentExternal(src.code, cpuAddr)
	}
}

// Store the external interruption code and swap PSWs.
func (cpu *CPU) presentExternal(code uint16, cpuAddr int) {
	low := &cpu.arch.Low
	if cpu.bcMode() {
		cpu.PSW.IntCode = code
	} else {
		cpu.storeLow16(low.ExtCode, code)
	}
	if cpuAddr >= 0 {
		cpu.storeLow16(low.CPUAddr, uint16(cpuAddr))
	}
	if code == arch.ExtService {
		cpu.storeLow32(extParm, cpu.sys.service.Load())
	}
	nc := cpu.swapPSW(arch.External)
	cpu.sys.releaseIntLock(cpu.lockID())
	cpu.checkNewPSW(nc)
	cpu.transfer(sigProgramCheck)
}
