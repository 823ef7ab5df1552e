/*
 * S390 - CPU dispatch loop.
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
	"fmt"
	"strconv"
	"strings"

	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/psw"
	"github.com/rcornwell/S390/util/debug"
)

// Run executes instructions until the system is shut down.  Each CPU
// runs this on its own goroutine.
func (cpu *CPU) Run() {
	cpu.log.Debug("CPU worker start")
	for {
		switch cpu.catch(cpu.dispatch) {
		case sigThreadExit:
			cpu.log.Debug("CPU worker exit")
			return
		case sigArchSwitch:
			cpu.switchArch()
		}
	}
}

// Inner loop, left only by a control transfer.
func (cpu *CPU) dispatch() {
	for {
		cpu.checkInterrupts()
		for range pollInterval {
			cpu.step()
			if cpu.PSW.Wait {
				break
			}
		}
	}
}

// Pending bits that can be acted on now.
func (cpu *CPU) enabledMask() uint32 {
	m := pendRestart | pendStop | pendArch | pendExit
	if cpu.mckEnabled() {
		m |= pendMCK
	}
	if cpu.extEnabled() {
		m |= pendExternal
	}
	if cpu.ioEnabled() {
		m |= pendIO
	}
	return m
}

// Handle the run state and take pending interruptions.  Called between
// instructions.  Returns only when the CPU should execute.
func (cpu *CPU) checkInterrupts() {
	s := cpu.sys
	if !cpu.PSW.Wait && (cpu.pending.Load()&cpu.enabledMask()) == 0 &&
		(s.started.Load()&(1<<cpu.addr)) != 0 {
		return
	}
	id := cpu.lockID()
	s.obtainIntLock(id)
	for {
		p := cpu.pending.Load()
		if (p & pendExit) != 0 {
			cpu.pending.And(^pendExit)
			s.releaseIntLock(id)
			cpu.transfer(sigThreadExit)
		}
		if (p & pendArch) != 0 {
			cpu.pending.And(^pendArch)
			if cpu.arch != s.Arch() {
				s.releaseIntLock(id)
				cpu.transfer(sigArchSwitch)
			}
		}
		if (p & pendStop) != 0 {
			cpu.pending.And(^pendStop)
			if cpu.state == Started {
				cpu.state = Stopping
			}
		}
		if cpu.state == Stopping {
			cpu.state = Stopped
			s.setStarted(cpu, false)
			cpu.log.Info("CPU stopped", "ia", strconv.FormatUint(cpu.PSW.IA, 16),
				"checkstop", cpu.checkstop)
		}
		if cpu.state == Stopped {
			if (p & pendRestart) != 0 {
				cpu.deliverRestart()
			}
			s.waitIntLock(cpu)
			continue
		}

		if (p & pendRestart) != 0 {
			cpu.deliverRestart()
		}
		if (p&pendMCK) != 0 && cpu.mckEnabled() {
			cpu.deliverMachineCheck()
		}
		if (p&pendExternal) != 0 && cpu.extEnabled() {
			cpu.deliverExternal()
		}
		if (p&pendIO) != 0 && cpu.ioEnabled() {
			cpu.deliverIO()
		}

		if !cpu.PSW.Wait {
			break
		}
		if !cpu.mckEnabled() && !cpu.extEnabled() && !cpu.ioEnabled() {
			cpu.log.Warn("Disabled wait state", "ia", strconv.FormatUint(cpu.PSW.IA, 16))
			cpu.state = Stopping
			continue
		}
		cpu.waiting = true
		s.setWaiting(cpu, true)
		s.waitIntLock(cpu)
		cpu.waiting = false
		s.setWaiting(cpu, false)
	}
	s.releaseIntLock(id)
}

// Fetch, decode and execute one instruction.
func (cpu *CPU) step() {
	var st stepInfo

	cpu.inst = cpu.fetchInstruction(false, 0)
	cpu.decode(&st, cpu.inst)
	cpu.instCount.Add(1)
	if (cpu.trace & debugInst) != 0 {
		cpu.traceInst(&st)
	}
	if code := cpu.execute(&st); code != 0 {
		cpu.programInterrupt(code)
	}
	cpu.updateIA()

	// PER event with no other exception.
	if cpu.perEvent != 0 {
		cpu.programInterrupt(0)
	}
}

// Split instruction image into fields and compute operand addresses.
func (cpu *CPU) decode(st *stepInfo, inst []byte) {
	st.inst = inst
	st.ilc = uint8(len(inst))
	st.opcode = inst[0]
	st.reg = inst[1]
	st.R1 = (st.reg >> 4) & 0xf
	st.R2 = st.reg & 0xf
	switch st.opcode {
	case OP_B2:
		st.entry = &cpu.table.b2[inst[1]]
	case OP_C8:
		st.entry = &cpu.table.c8[inst[1]&0xf]
	default:
		st.entry = &cpu.table.primary[st.opcode]
	}

	switch st.entry.form {
	case formRR:
	case formRX:
		st.address1 = cpu.effAddr(inst[2:], st.R2)
	case formRS, formSI, formS:
		st.address1 = cpu.effAddr(inst[2:], 0)
	case formRRE:
		st.R1 = (inst[3] >> 4) & 0xf
		st.R2 = inst[3] & 0xf
	case formSS, formSSE:
		st.address1 = cpu.effAddr(inst[2:], 0)
		st.address2 = cpu.effAddr(inst[4:], 0)
	case formSSF:
		st.R3 = st.R1
		st.address1 = cpu.effAddr(inst[2:], 0)
		st.address2 = cpu.effAddr(inst[4:], 0)
	}
}

// Base plus displacement plus optional index, wrapped to the
// addressing mode.
func (cpu *CPU) effAddr(b []byte, x uint8) uint64 {
	addr := (uint64(b[0]&0xf) << 8) | uint64(b[1])
	if r := (b[0] >> 4) & 0xf; r != 0 {
		addr += cpu.regs[r]
	}
	if x != 0 {
		addr += cpu.regs[x]
	}
	return addr & cpu.PSW.Mask()
}

// Load register operands and call the handler.
func (cpu *CPU) execute(st *stepInfo) uint16 {
	fn := st.entry.fn
	if fn == nil {
		return arch.PgmOperation
	}
	switch st.entry.form {
	case formRR:
		st.src1 = cpu.regs[st.R1]
		st.src2 = cpu.regs[st.R2]
	case formRX, formRS:
		st.src1 = cpu.regs[st.R1]
	}
	return fn(cpu, st)
}

// Address of the next sequential instruction.
func (cpu *CPU) nextIA() uint64 {
	if cpu.iaPending {
		return (cpu.PSW.IA + uint64(cpu.ilc)) & cpu.PSW.Mask()
	}
	return cpu.PSW.IA
}

// Move the instruction address past the current instruction.
func (cpu *CPU) updateIA() {
	if cpu.iaPending {
		cpu.PSW.IA = cpu.nextIA()
		cpu.iaPending = false
	}
}

// Take a successful branch.
func (cpu *CPU) branch(addr uint64) {
	cpu.bea = cpu.PSW.IA
	cpu.PSW.IA = addr & cpu.PSW.Mask()
	cpu.iaPending = false
	if cpu.perEnabled(cr9Branch) {
		cpu.perEvent |= perBranch
		cpu.perAddr = cpu.bea
	}
}

// Check if PER is on for a CR9 event.
func (cpu *CPU) perEnabled(event uint64) bool {
	return cpu.PSW.EC && (cpu.PSW.SysMask&psw.MaskPER) != 0 && (cpu.cregs[9]&event) != 0
}

// Check address against the PER range in CR10 and CR11.
func (cpu *CPU) perRange(addr uint64) bool {
	mask := cpu.arch.AddrMask
	start := cpu.cregs[10] & mask
	end := cpu.cregs[11] & mask
	addr &= mask
	if start <= end {
		return addr >= start && addr <= end
	}
	return addr >= start || addr <= end
}

// Low half of a general register.
func (cpu *CPU) reg32(r uint8) uint32 {
	return uint32(cpu.regs[r])
}

// Set the low half of a general register.
func (cpu *CPU) setReg32(r uint8, v uint32) {
	cpu.regs[r] = (cpu.regs[r] & HMASKL) | uint64(v)
	cpu.regAltered(r)
}

// Set a general register to an address in the current mode.
func (cpu *CPU) setRegAddr(r uint8, v uint64) {
	if cpu.PSW.AMode == 64 {
		cpu.regs[r] = v
		cpu.regAltered(r)
		return
	}
	cpu.setReg32(r, uint32(v))
}

func (cpu *CPU) regAltered(r uint8) {
	if cpu.perEnabled(cr9GR) && (cpu.cregs[9]&(0x8000>>r)) != 0 {
		cpu.perEvent |= perGR
	}
}

// Identity used for locks.  A guest uses its host's.
func (cpu *CPU) lockID() int32 {
	if cpu.host != nil {
		return int32(cpu.host.addr)
	}
	return int32(cpu.addr)
}

// Install a new PSW.
func (cpu *CPU) setPSW(p psw.PSW) {
	cpu.PSW = p
	cpu.iaPending = false
	cpu.aia.valid = false
}

// Load the prefix register.
func (cpu *CPU) setPrefix(v uint64) {
	cpu.prefix = v
	cpu.lowBase.Store(v)
	cpu.aia.valid = false
}

// CPU reset.  Registers are cleared and the control registers get their
// initial values.
func (cpu *CPU) reset() {
	cpu.PSW = psw.PSW{AMode: 24}
	cpu.regs = [16]uint64{}
	cpu.cregs = [16]uint64{}
	cpu.aregs = [16]uint32{}
	cpu.fpregs = [16]uint64{}
	cpu.cregs[0] = 0xe0
	cpu.cregs[2] = 0xffffffff
	cpu.cregs[14] = 0xc2000000
	cpu.cregs[15] = 512
	cpu.setPrefix(0)
	cpu.ilc = 0
	cpu.iaPending = false
	cpu.instInvalid = false
	cpu.zeroILC = false
	cpu.specRetry = false
	cpu.perEvent = 0
	cpu.emerSource = 0
	cpu.extCallFrom = -1
	cpu.aia = aiaCache{}
	cpu.tlb = [256]uint32{}
	cpu.clkComp.Store(^uint64(0))
	cpu.cpuTimer.Store(0)
	cpu.setDAT(cpu.cregs[0])
	cpu.dat.segAddr = 0
	cpu.dat.segLen = 0
}

// Move this CPU to the system profile.
func (cpu *CPU) switchArch() {
	s := cpu.sys
	id := cpu.lockID()
	s.obtainIntLock(id)
	defer s.releaseIntLock(id)
	a := s.Arch()
	cpu.log.Info("Switching architecture", "from", cpu.arch.Name, "to", a.Name)
	cpu.updateIA()
	cpu.PSW = psw.Convert(cpu.PSW, a)
	cpu.setPrefix(cpu.prefix & a.PrefixMask)
	if !a.Wide() {
		for i := range cpu.regs {
			cpu.regs[i] &= LMASKL
			cpu.cregs[i] &= LMASKL
		}
	}
	cpu.arch = a
	cpu.table = tableFor(a)
	cpu.aia.valid = false
	cpu.tlb = [256]uint32{}
}

func (cpu *CPU) traceInst(st *stepInfo) {
	debug.Debugf("CPU"+strconv.Itoa(cpu.addr), cpu.trace, debugInst, "%08x %-6s % x cc=%d",
		cpu.PSW.IA, st.entry.name, st.inst, cpu.PSW.CC)
}

var traceName = map[string]int{
	"INST": debugInst,
	"IRQ":  debugIRQ,
}

// TraceMask converts trace option names to a trace mask.
func TraceMask(names []string) (int, error) {
	mask := 0
	for _, name := range names {
		m, ok := traceName[strings.ToUpper(name)]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrTraceOption, name)
		}
		mask |= m
	}
	return mask, nil
}

var tables [3]*opTable

func init() {
	for k := arch.S370; k <= arch.ZArch; k++ {
		tables[k] = buildTable(arch.Get(k))
	}
}

// Dispatch table for a profile.
func tableFor(a *arch.Arch) *opTable {
	return tables[a.Kind]
}

type handler = func(*CPU, *stepInfo) uint16

// Build the dispatch table for one profile.
func buildTable(a *arch.Arch) *opTable {
	t := &opTable{}
	op := func(code uint8, name string, f form, fn handler) {
		t.primary[code] = opEntry{name: name, form: f, fn: fn}
	}
	b2 := func(code uint8, name string, fn handler) {
		t.b2[code] = opEntry{name: name, form: formS, fn: fn}
	}

	// RR
	op(OP_SPM, "SPM", formRR, (*CPU).opSPM)
	op(OP_BALR, "BALR", formRR, (*CPU).opBALR)
	op(OP_BCTR, "BCTR", formRR, (*CPU).opBCTR)
	op(OP_BCR, "BCR", formRR, (*CPU).opBCR)
	op(OP_SVC, "SVC", formRR, (*CPU).opSVC)
	op(OP_BASR, "BASR", formRR, (*CPU).opBASR)
	op(OP_LTR, "LTR", formRR, (*CPU).opLTR)
	op(OP_NR, "NR", formRR, (*CPU).opAnd)
	op(OP_CLR, "CLR", formRR, (*CPU).opCmpL)
	op(OP_OR, "OR", formRR, (*CPU).opOr)
	op(OP_XR, "XR", formRR, (*CPU).opXor)
	op(OP_LR, "LR", formRR, (*CPU).opL)
	op(OP_CR, "CR", formRR, (*CPU).opCmp)
	op(OP_AR, "AR", formRR, (*CPU).opAdd)
	op(OP_SR, "SR", formRR, (*CPU).opSub)
	op(OP_ALR, "ALR", formRR, (*CPU).opAddL)
	op(OP_SLR, "SLR", formRR, (*CPU).opSubL)

	// RX
	op(OP_STH, "STH", formRX, (*CPU).opSTH)
	op(OP_LA, "LA", formRX, (*CPU).opLA)
	op(OP_STC, "STC", formRX, (*CPU).opSTC)
	op(OP_IC, "IC", formRX, (*CPU).opIC)
	op(OP_EX, "EX", formRX, (*CPU).opEX)
	op(OP_BAL, "BAL", formRX, (*CPU).opBAL)
	op(OP_BCT, "BCT", formRX, (*CPU).opBCT)
	op(OP_BC, "BC", formRX, (*CPU).opBC)
	op(OP_LH, "LH", formRX, (*CPU).opLH)
	op(OP_BAS, "BAS", formRX, (*CPU).opBAS)
	op(OP_ST, "ST", formRX, (*CPU).opST)
	op(OP_N, "N", formRX, (*CPU).opAnd)
	op(OP_CL, "CL", formRX, (*CPU).opCmpL)
	op(OP_O, "O", formRX, (*CPU).opOr)
	op(OP_X, "X", formRX, (*CPU).opXor)
	op(OP_L, "L", formRX, (*CPU).opL)
	op(OP_C, "C", formRX, (*CPU).opCmp)
	op(OP_A, "A", formRX, (*CPU).opAdd)
	op(OP_S, "S", formRX, (*CPU).opSub)

	// RS and SI
	op(OP_SSM, "SSM", formSI, (*CPU).opSSM)
	op(OP_LPSW, "LPSW", formSI, (*CPU).opLPSW)
	op(OP_DIAG, "DIAG", formRS, (*CPU).opDIAG)
	op(OP_STM, "STM", formRS, (*CPU).opSTM)
	op(OP_TM, "TM", formSI, (*CPU).opTM)
	op(OP_MVI, "MVI", formSI, (*CPU).opMVI)
	op(OP_TS, "TS", formSI, (*CPU).opTS)
	op(OP_NI, "NI", formSI, (*CPU).opNI)
	op(OP_CLI, "CLI", formSI, (*CPU).opCLI)
	op(OP_OI, "OI", formSI, (*CPU).opOI)
	op(OP_XI, "XI", formSI, (*CPU).opXI)
	op(OP_LM, "LM", formRS, (*CPU).opLM)
	op(OP_STNSM, "STNSM", formSI, (*CPU).opSTxSM)
	op(OP_STOSM, "STOSM", formSI, (*CPU).opSTxSM)
	op(OP_SIGP, "SIGP", formRS, (*CPU).opSIGP)
	op(OP_MC, "MC", formSI, (*CPU).opMC)
	op(OP_STCTL, "STCTL", formRS, (*CPU).opSTCTL)
	op(OP_LCTL, "LCTL", formRS, (*CPU).opLCTL)
	op(OP_CS, "CS", formRS, (*CPU).opCS)
	op(OP_CDS, "CDS", formRS, (*CPU).opCDS)

	// SS
	op(OP_MVC, "MVC", formSS, (*CPU).opMVC)
	op(OP_NC, "NC", formSS, (*CPU).opMem)
	op(OP_CLC, "CLC", formSS, (*CPU).opCLC)
	op(OP_OC, "OC", formSS, (*CPU).opMem)
	op(OP_XC, "XC", formSS, (*CPU).opMem)
	op(OP_MVCK, "MVCK", formSS, (*CPU).opMVCK)

	// B2 group
	t.primary[OP_B2] = opEntry{name: "B2", form: formS}
	b2(OP_STIDP, "STIDP", (*CPU).opSTIDP)
	b2(OP_SCK, "SCK", (*CPU).opSCK)
	b2(OP_STCK, "STCK", (*CPU).opSTCK)
	b2(OP_SCKC, "SCKC", (*CPU).opSCKC)
	b2(OP_STCKC, "STCKC", (*CPU).opSTCKC)
	b2(OP_SPT, "SPT", (*CPU).opSPT)
	b2(OP_STPT, "STPT", (*CPU).opSTPT)
	b2(OP_SPKA, "SPKA", (*CPU).opSPKA)
	b2(OP_IPK, "IPK", (*CPU).opIPK)
	b2(OP_PTLB, "PTLB", (*CPU).opPTLB)
	b2(OP_SPX, "SPX", (*CPU).opSPX)
	b2(OP_STPX, "STPX", (*CPU).opSTPX)
	b2(OP_STAP, "STAP", (*CPU).opSTAP)

	if a.Kind != arch.S370 {
		b2(OP_SIE, "SIE", (*CPU).opSIE)
	}
	if a.Kind == arch.ZArch {
		b2(OP_LPSWE, "LPSWE", (*CPU).opLPSWE)
		t.c8[OP_MVCOS] = opEntry{name: "MVCOS", form: formSSF, fn: (*CPU).opMVCOS}
	}
	return t
}
