/*
 * S390 - Start interpretive execution.
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
	"github.com/rcornwell/S390/emu/channel"
	"github.com/rcornwell/S390/emu/psw"
)

// Interception codes.
const (
	icHost     uint8 = 0x00 // Host interruption pending
	icInst     uint8 = 0x04 // Instruction
	icProgram  uint8 = 0x08 // Program interruption
	icWait     uint8 = 0x1c // Enabled or disabled wait
	icValidity uint8 = 0x20 // Validity
	icOperExc  uint8 = 0x2c // Operation exception
	icIOInt    uint8 = 0x38 // I/O interruption
)

// Execution controls, byte 1 of the state description.
const (
	ecIOA    uint8 = 0x80 // I/O assist
	ecPROTEX uint8 = 0x40 // No interception for protection
	ecGPE    uint8 = 0x20 // Guest PER enhancement
	ecXC     uint8 = 0x10 // Multiple controlled data spaces
)

// Interception controls, byte 2 of the state description.
const (
	icOPEREX uint8 = 0x80 // Operation exception
	icPRIVOP uint8 = 0x40 // Privileged operation
	icPGMALL uint8 = 0x20 // All program interruptions
)

// Validity reason codes.
const (
	vrArch   uint16 = 0x0010 // Guest profile not supported
	vrMSO    uint16 = 0x0020 // Bad storage origin
	vrPSW    uint16 = 0x0030 // Invalid guest PSW
	vrPrefix uint16 = 0x0040 // Prefix area outside guest storage
)

// State description layout.
const (
	sdICode   = 0x00
	sdEC      = 0x01
	sdIC      = 0x02
	sdArch    = 0x03
	sdInst    = 0x04
	sdReason  = 0x0a
	sdPgmCode = 0x0c
	sdILC     = 0x0e
	sdPSW     = 0x10
	sdMSO     = 0x20
	sdMSL     = 0x28
	sdPrefix  = 0x30
	sdTimer   = 0x38
	sdIOParm  = 0x40
	sdIOIdent = 0x44
	sdZone    = 0x48
	sdIOSSID  = 0x4c
	sdGR      = 0x80
	sdCR      = 0x100
	sdSize    = 0x200
)

// Guest control information taken from the state description.
type sieState struct {
	sd    uint64 // Absolute address of state description
	ec    uint8  // Execution controls
	ic    uint8  // Interception controls
	mso   uint64 // Main storage origin
	msl   uint64 // Main storage limit
	zone  uint8  // I/O zone
	icode uint8  // Interception code on exit
}

// Check if a host exception is passed to the guest.
func (sd *sieState) reflects(code uint16) bool {
	switch code & arch.PgmCodeMask {
	case arch.PgmProtection, arch.PgmAddressing:
		return true
	case arch.PgmALETSpec, arch.PgmALEN, arch.PgmALESequence, arch.PgmExtendedAuth:
		return (sd.ec & ecXC) != 0
	}
	return false
}

// Interception code for a guest program interruption, zero if the
// guest takes it.
func (sd *sieState) intercepts(code uint16) uint8 {
	switch code & arch.PgmCodeMask {
	case arch.PgmAddressing, arch.PgmSpecification, arch.PgmSpecialOp:
		return icProgram
	case arch.PgmProtection:
		if (sd.ec & ecPROTEX) == 0 {
			return icProgram
		}
	case arch.PgmOperation:
		if (sd.ic & icOPEREX) != 0 {
			return icOperExc
		}
	case arch.PgmPrivileged:
		if (sd.ic & icPRIVOP) != 0 {
			return icInst
		}
	}
	if (code&arch.PgmPER) != 0 && (sd.ec&ecGPE) != 0 {
		return icProgram
	}
	if (sd.ic & icPGMALL) != 0 {
		return icProgram
	}
	return 0
}

// Start interpretive execution.
func (cpu *CPU) opSIE(st *stepInfo) uint16 {
	if cpu.PSW.Problem {
		return arch.PgmPrivileged
	}
	if cpu.host != nil {
		cpu.interceptInst()
	}
	if (st.address1 & (sdSize - 1)) != 0 {
		return arch.PgmSpecification
	}
	sd := cpu.translate(st.address1, ArnReal, AccStore, 0)
	g, reason := cpu.enterSIE(sd)
	if g == nil {
		b := cpu.sys.mem.Bytes(sd, sdSize)
		b[sdICode] = icValidity
		binary.BigEndian.PutUint16(b[sdReason:], reason)
		cpu.sys.mem.SetRefChange(sd)
		cpu.log.Warn("SIE validity", "reason", reason)
		return 0
	}
	cpu.runGuest(g)
	return 0
}

// Build a guest from a state description.  Returns a validity reason
// if the description can not be run.
func (cpu *CPU) enterSIE(sd uint64) (*CPU, uint16) {
	mem := cpu.sys.mem
	b := mem.Bytes(sd, sdSize)
	mem.SetRef(sd)

	k := arch.Kind(b[sdArch])
	if k < arch.S370 || k > cpu.arch.Kind {
		return nil, vrArch
	}
	ga := arch.Get(k)
	mso := binary.BigEndian.Uint64(b[sdMSO:])
	msl := binary.BigEndian.Uint64(b[sdMSL:])
	if (mso&0xfff) != 0 || !mem.CheckAddr(mso) {
		return nil, vrMSO
	}
	p, code := psw.Decode(ga, b[sdPSW:])
	if code != 0 {
		return nil, vrPSW
	}
	prefix := binary.BigEndian.Uint64(b[sdPrefix:]) & ga.PrefixMask
	if prefix+ga.LowSize-1 > msl {
		return nil, vrPrefix
	}

	g := &CPU{
		sys:         cpu.sys,
		addr:        cpu.addr,
		arch:        ga,
		table:       tableFor(ga),
		log:         cpu.log.With("guest", ga.Name),
		state:       Started,
		extCallFrom: -1,
		wake:        cpu.wake,
		trace:       cpu.trace,
		host:        cpu,
	}
	g.sie = &sieState{
		sd:   sd,
		ec:   b[sdEC],
		ic:   b[sdIC],
		mso:  mso,
		msl:  msl,
		zone: b[sdZone],
	}
	g.setPSW(p)
	g.setPrefix(prefix)
	for i := range 16 {
		g.regs[i] = binary.BigEndian.Uint64(b[sdGR+i*8:])
		g.cregs[i] = binary.BigEndian.Uint64(b[sdCR+i*8:])
		if !ga.Wide() {
			g.regs[i] &= LMASKL
			g.cregs[i] &= LMASKL
		}
	}
	g.cpuTimer.Store(int64(binary.BigEndian.Uint64(b[sdTimer:])))
	g.clkComp.Store(^uint64(0))
	g.setDAT(g.cregs[0])
	g.setSegTable(g.cregs[1])
	return g, 0
}

// Run a guest on this goroutine until it is intercepted.
func (cpu *CPU) runGuest(g *CPU) {
	cpu.guest = g
	for {
		if g.catch(g.guestDispatch) == sigIntercept {
			break
		}
	}
	icode := g.sie.icode
	cpu.exitSIE(icode)
	if icode == icHost {
		// Take the host interruption, then run SIE again.
		cpu.iaPending = false
	}
}

// Write guest state back into the state description and drop the
// guest.
func (cpu *CPU) exitSIE(icode uint8) {
	g := cpu.guest
	if g == nil {
		return
	}
	cpu.guest = nil
	mem := cpu.sys.mem
	b := mem.Bytes(g.sie.sd, sdSize)
	b[sdICode] = icode
	psw.Encode(g.arch, &g.PSW, b[sdPSW:sdPSW+16])
	for i := range 16 {
		binary.BigEndian.PutUint64(b[sdGR+i*8:], g.regs[i])
		binary.BigEndian.PutUint64(b[sdCR+i*8:], g.cregs[i])
	}
	binary.BigEndian.PutUint64(b[sdPrefix:], g.prefix)
	binary.BigEndian.PutUint64(b[sdTimer:], uint64(g.cpuTimer.Load()))
	mem.SetRefChange(g.sie.sd)
	if icode != icHost {
		cpu.log.Debug("SIE interception", "code", icode)
	}
}

// Guest dispatch loop.
func (cpu *CPU) guestDispatch() {
	for {
		cpu.checkGuestInterrupts()
		for range pollInterval {
			cpu.step()
			if cpu.PSW.Wait {
				break
			}
		}
	}
}

// Leave SIE for host interruptions, take guest I/O interruptions and
// intercept a guest wait.
func (cpu *CPU) checkGuestInterrupts() {
	h := cpu.host
	if (h.pending.Load() & h.enabledMask()) != 0 {
		cpu.intercept(icHost)
	}
	if cpu.sie.zone != 0 && cpu.ioEnabled() {
		s := cpu.sys
		id := cpu.lockID()
		s.obtainIntLock(id)
		irq, ok := s.io.Dequeue(cpu.ioMask(), cpu.sie.zone)
		if ok && (cpu.sie.ec&ecIOA) != 0 {
			cpu.presentIO(irq)
		}
		s.releaseIntLock(id)
		if ok {
			cpu.interceptIO(irq)
		}
	}
	if cpu.PSW.Wait {
		cpu.intercept(icWait)
	}
}

// Leave SIE with an interception code.
func (cpu *CPU) intercept(ic uint8) {
	cpu.sys.releaseLocks(cpu)
	cpu.sie.icode = ic
	cpu.perEvent = 0
	cpu.instInvalid = false
	cpu.zeroILC = false
	cpu.transfer(sigIntercept)
}

func (cpu *CPU) sdBytes() []byte {
	return cpu.sys.mem.Bytes(cpu.sie.sd, sdSize)
}

// Intercept the current instruction.  The guest PSW is left pointing at
// it.
func (cpu *CPU) interceptInst() {
	b := cpu.sdBytes()
	clear(b[sdInst : sdInst+6])
	copy(b[sdInst:sdInst+6], cpu.inst)
	cpu.iaPending = false
	cpu.intercept(icInst)
}

// Intercept a guest program interruption.
func (cpu *CPU) interceptProgram(ic uint8, code uint16, ilc uint8) {
	b := cpu.sdBytes()
	binary.BigEndian.PutUint16(b[sdPgmCode:], code)
	b[sdILC] = ilc
	clear(b[sdInst : sdInst+6])
	if ic == icInst || ic == icOperExc {
		copy(b[sdInst:sdInst+6], cpu.inst)
		if ic == icInst {
			cpu.PSW.IA = (cpu.PSW.IA - uint64(ilc)) & cpu.PSW.Mask()
		}
	}
	cpu.intercept(ic)
}

// Intercept a guest I/O interruption.
func (cpu *CPU) interceptIO(irq channel.Interrupt) {
	b := cpu.sdBytes()
	binary.BigEndian.PutUint32(b[sdIOSSID:], irq.SSID)
	binary.BigEndian.PutUint32(b[sdIOParm:], irq.Parm)
	binary.BigEndian.PutUint32(b[sdIOIdent:], irq.Ident)
	cpu.intercept(icIOInt)
}

// Validity interception.
func (cpu *CPU) validity(reason uint16) {
	binary.BigEndian.PutUint16(cpu.sdBytes()[sdReason:], reason)
	cpu.log.Warn("SIE validity", "reason", reason)
	cpu.intercept(icValidity)
}
