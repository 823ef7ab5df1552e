/*
 * S390 - Signal processor.
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

// Orders.
const (
	sigpSense     = 0x01
	sigpExtCall   = 0x02
	sigpEmergency = 0x03
	sigpStart     = 0x04
	sigpStop      = 0x05
	sigpRestart   = 0x06
	sigpSetPrefix = 0x0d
	sigpSetArch   = 0x12
)

// Status bits stored in R1 when the condition code is 1.
const (
	sigpIncorrect   uint32 = 0x200 // Incorrect state
	sigpInvalidParm uint32 = 0x100 // Invalid parameter
	sigpExtPending  uint32 = 0x080 // External call pending
	sigpStopped     uint32 = 0x040 // Stopped
	sigpIntervening uint32 = 0x020 // Operator intervening
	sigpCheckStop   uint32 = 0x010 // Check stop
	sigpInvalidOrd  uint32 = 0x002 // Invalid order
)

var sigpName = map[uint8]string{
	sigpSense:     "sense",
	sigpExtCall:   "external call",
	sigpEmergency: "emergency signal",
	sigpStart:     "start",
	sigpStop:      "stop",
	sigpRestart:   "restart",
	sigpSetPrefix: "set prefix",
	sigpSetArch:   "set architecture",
}

// Signal processor
func (cpu *CPU) opSIGP(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if cpu.host != nil {
		cpu.interceptInst()
	}
	order := uint8(st.address1)
	target := int(cpu.regs[st.R2] & 0xffff)
	parm := cpu.regs[st.R1|1]

	s := cpu.sys
	if target >= len(s.cpus) {
		cpu.PSW.CC = 3
		return 0
	}
	tc := s.cpus[target]

	id := cpu.lockID()
	s.obtainIntLock(id)
	status, switched := cpu.signal(tc, order, parm)
	s.releaseIntLock(id)

	cpu.log.Debug("SIGP", "order", sigpName[order], "target", target, "status", status)
	if status != 0 {
		cpu.setReg32(st.R1, status)
		cpu.PSW.CC = 1
	} else {
		cpu.PSW.CC = 0
	}
	if switched {
		cpu.updateIA()
		cpu.transfer(sigArchSwitch)
	}
	return 0
}

// Carry out an order against tc.  Caller holds the interrupt lock.
// Returns status for condition code 1 and whether the profile changed.
func (cpu *CPU) signal(tc *CPU, order uint8, parm uint64) (uint32, bool) {
	s := cpu.sys
	if tc.checkstop && order != sigpSense {
		return sigpCheckStop, false
	}
	switch order {
	case sigpSense:
		var status uint32
		if tc.state == Stopped {
			status |= sigpStopped
		}
		if tc.checkstop {
			status |= sigpCheckStop
		}
		if tc.intervening {
			status |= sigpIntervening
		}
		if (tc.pending.Load() & pendExtCall) != 0 {
			status |= sigpExtPending
		}
		return status, false

	case sigpExtCall:
		if (tc.pending.Load() & pendExtCall) != 0 {
			return sigpExtPending, false
		}
		tc.extCallFrom = cpu.addr
		s.signalLocked(tc, pendExtCall)

	case sigpEmergency:
		tc.emerSource |= uint64(1) << cpu.addr
		s.signalLocked(tc, pendEmergency)

	case sigpStart:
		tc.pending.And(^pendStop)
		if tc.state != Started {
			tc.state = Started
			s.setStarted(tc, true)
		}
		tc.wake.Signal()

	case sigpStop:
		s.signalLocked(tc, pendStop)

	case sigpRestart:
		s.signalLocked(tc, pendRestart)

	case sigpSetPrefix:
		if tc.state != Stopped {
			return sigpIncorrect, false
		}
		p := parm & tc.arch.PrefixMask
		if !s.mem.CheckAddr(p + tc.arch.LowSize - 1) {
			return sigpInvalidParm, false
		}
		tc.setPrefix(p)
		tc.purgeTLB()

	case sigpSetArch:
		if cpu.arch.Kind == arch.S370 {
			return sigpInvalidOrd, false
		}
		var k arch.Kind
		switch parm & 0xff {
		case 0:
			k = arch.ESA390
		case 1, 2:
			k = arch.ZArch
		default:
			return sigpInvalidParm, false
		}
		for _, c := range s.cpus {
			if c != cpu && c.state != Stopped {
				return sigpIncorrect, false
			}
		}
		if s.Arch().Kind == k {
			return 0, false
		}
		s.setArchLocked(k)
		return 0, true

	default:
		return sigpInvalidOrd, false
	}
	return 0, false
}
