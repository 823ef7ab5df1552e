/*
 * S390 - Program interruptions and PSW swapping.
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
	"strconv"

	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/psw"
	"github.com/rcornwell/S390/util/debug"
)

// Absolute address of a field in the prefixed area.
func (cpu *CPU) lowAddr(off uint64) uint64 {
	abs := cpu.prefix + off
	if cpu.host != nil {
		sd := cpu.sie
		if abs > sd.msl || !cpu.sys.mem.CheckAddr(abs+sd.mso) {
			cpu.validity(vrPrefix)
		}
		abs += sd.mso
	}
	return abs
}

// Store into the prefixed area.  Offset zero means the field does not
// exist in this profile.
func (cpu *CPU) storeLow8(off uint64, v uint8) {
	if off != 0 {
		cpu.sys.mem.PutByte(cpu.lowAddr(off), v)
	}
}

func (cpu *CPU) storeLow16(off uint64, v uint16) {
	if off != 0 {
		cpu.sys.mem.PutHalf(cpu.lowAddr(off), v)
	}
}

func (cpu *CPU) storeLow32(off uint64, v uint32) {
	if off != 0 {
		cpu.sys.mem.PutWord(cpu.lowAddr(off), v)
	}
}

func (cpu *CPU) storeLow64(off uint64, v uint64) {
	if off != 0 {
		cpu.sys.mem.PutDouble(cpu.lowAddr(off), v)
	}
}

// Store an address field, 8 bytes on z/Architecture, else 4.
func (cpu *CPU) storeLowAddr(off uint64, v uint64) {
	if cpu.arch.Wide() {
		cpu.storeLow64(off, v)
	} else {
		cpu.storeLow32(off, uint32(v))
	}
}

// Check if the interruption code goes in the old PSW.
func (cpu *CPU) bcMode() bool {
	return cpu.arch.Kind == arch.S370 && !cpu.PSW.EC
}

// Store the current PSW as the old PSW of a class and load the new
// PSW.  Returns the format error of the new PSW, if any.
func (cpu *CPU) swapPSW(class arch.Class) uint16 {
	a := cpu.arch
	mem := cpu.sys.mem
	n := uint64(a.PSWLen)
	image := cpu.psw[:n]

	psw.Encode(a, &cpu.PSW, image)
	old := cpu.lowAddr(a.Low.OldPSW[class])
	copy(mem.Bytes(old, n), image)
	mem.SetRefChange(old)

	nw := cpu.lowAddr(a.Low.NewPSW[class])
	copy(image, mem.Bytes(nw, n))
	mem.SetRef(nw)
	p, code := psw.Decode(a, image)
	cpu.setPSW(p)
	cpu.counts[class].Add(1)
	if (cpu.trace & debugIRQ) != 0 {
		debug.Debugf("CPU"+strconv.Itoa(cpu.addr), cpu.trace, debugIRQ, "%s interrupt new PSW % x",
			class, image)
	}
	return code
}

// Handle a format error in a new PSW.  The first one becomes a
// specification exception; a second in a row stops the CPU.
func (cpu *CPU) checkNewPSW(code uint16) {
	if code == 0 {
		cpu.specRetry = false
		return
	}
	if cpu.specRetry {
		cpu.newPSWLoop()
	}
	cpu.specRetry = true
	cpu.zeroILC = true
	cpu.programInterrupt(arch.PgmSpecification)
}

// Program new PSW is also invalid.  Checkstop this CPU.
func (cpu *CPU) newPSWLoop() {
	cpu.specRetry = false
	if cpu.host != nil {
		cpu.validity(vrPSW)
	}
	s := cpu.sys
	id := cpu.lockID()
	s.obtainIntLock(id)
	cpu.checkstop = true
	if cpu.state == Started {
		cpu.state = Stopping
	}
	s.signalLocked(cpu, pendStop)
	s.releaseIntLock(id)
	cpu.log.Error("Program interruption loop, CPU checkstopped",
		"ia", strconv.FormatUint(cpu.PSW.IA, 16))
	cpu.transfer(sigProgramCheck)
}

// Exception codes that store the translation exception address.
func storesTEA(a *arch.Arch, code uint16) bool {
	switch code {
	case arch.PgmSegment, arch.PgmPage, arch.PgmASCEType, arch.PgmRegionFirst,
		arch.PgmRegionSecond, arch.PgmRegionThird:
		return true
	case arch.PgmTransSpec:
		return a.Kind == arch.S370
	}
	return false
}

// Deliver a program interruption.  Never returns.
func (cpu *CPU) programInterrupt(code uint16) {
	if cpu.diag {
		panic(diagnosticFault{code: code})
	}
	cpu.sys.releaseLocks(cpu)

	// Exception raised for the host while a guest runs.
	if g := cpu.guest; g != nil {
		if g.sie.reflects(code) {
			g.programInterrupt(code)
		}
		cpu.exitSIE(icHost)
		cpu.iaPending = false
	}

	// Instruction length and address.
	ilc := cpu.ilc
	switch {
	case cpu.zeroILC:
		ilc = 0
	case cpu.instInvalid:
		if ilc == 0 {
			ilc = 2
		}
		switch code & arch.PgmCodeMask {
		case arch.PgmSpecification, arch.PgmTransSpec:
			cpu.PSW.IA = (cpu.PSW.IA + uint64(ilc)) & cpu.PSW.Mask()
		}
	case cpu.iaPending && arch.ClassOf(code) != arch.Nullification:
		cpu.PSW.IA = cpu.nextIA()
	}
	cpu.iaPending = false

	if cpu.perEvent != 0 {
		code |= arch.PgmPER
	}

	if cpu.host != nil {
		if ic := cpu.sie.intercepts(code); ic != 0 {
			cpu.interceptProgram(ic, code, ilc)
		}
	}

	if (cpu.trace & debugIRQ) != 0 {
		debug.Debugf("CPU"+strconv.Itoa(cpu.addr), cpu.trace, debugIRQ,
			"program check %04x ilc %d ia %08x", code, ilc, cpu.PSW.IA)
	}

	a := cpu.arch
	low := &a.Low
	if cpu.bcMode() {
		cpu.PSW.IntCode = code
		cpu.PSW.ILC = ilc
	} else {
		cpu.storeLow8(low.PgmILC, ilc)
		cpu.storeLow16(low.PgmCode, code)
	}

	base := code & arch.PgmCodeMask
	if storesTEA(a, base) {
		cpu.storeLowAddr(low.TEA, cpu.tea)
		cpu.storeLow8(low.ExcAccID, cpu.excArn)
	}
	if base == arch.PgmData {
		cpu.storeLow32(low.DXC, cpu.dxc)
	}
	if base == arch.PgmMonitor {
		cpu.storeLow16(low.MonClass, cpu.monClass)
		cpu.storeLowAddr(low.MonCode, cpu.monCode)
	}
	if (code & arch.PgmPER) != 0 {
		cpu.storeLow16(low.PERCode, cpu.perEvent)
		cpu.storeLowAddr(low.PERAddr, cpu.perAddr)
		cpu.storeLow8(low.PERAccID, cpu.perArn)
	}
	if a.Wide() {
		cpu.storeLow64(low.BEA, cpu.bea)
	}

	cpu.perEvent = 0
	cpu.instInvalid = false
	cpu.zeroILC = false
	cpu.checkNewPSW(cpu.swapPSW(arch.Program))
	cpu.transfer(sigProgramCheck)
}

// Deliver a supervisor call interruption.  Never returns.
func (cpu *CPU) supervisorCall(number uint8) {
	cpu.updateIA()
	low := &cpu.arch.Low
	if cpu.bcMode() {
		cpu.PSW.IntCode = uint16(number)
		cpu.PSW.ILC = cpu.ilc
	} else {
		cpu.storeLow8(low.SVCILC, cpu.ilc)
		cpu.storeLow16(low.SVCCode, uint16(number))
	}
	per := cpu.perEvent
	cpu.perEvent = 0
	cpu.checkNewPSW(cpu.swapPSW(arch.SVC))

	// PER event of the SVC is presented after the swap.
	if per != 0 {
		cpu.perEvent = per
		cpu.programInterrupt(0)
	}
	cpu.transfer(sigProgramCheck)
}
