/*
 * S390 - Restart interruption.
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

// Deliver a restart interruption.  Caller holds the interrupt lock.
// Restart is taken whether the CPU is stopped or not.
func (cpu *CPU) deliverRestart() {
	s := cpu.sys
	cpu.pending.And(^pendRestart)
	if cpu.bcMode() {
		cpu.PSW.IntCode = 0
	}
	code := cpu.swapPSW(arch.Restart)
	cpu.intervening = false
	cpu.checkstop = false
	if cpu.state != Started {
		cpu.state = Started
		s.setStarted(cpu, true)
	}
	s.releaseIntLock(cpu.lockID())
	cpu.log.Debug("CPU restart")
	cpu.checkNewPSW(code)
	cpu.transfer(sigProgramCheck)
}
