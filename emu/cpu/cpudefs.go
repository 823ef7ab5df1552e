/*
 * S390 - CPU definitions.
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
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/psw"
)

// RunState is the operating state of a CPU.
type RunState int

const (
	Stopped RunState = iota
	Stopping
	Started
)

var stateName = [...]string{"stopped", "stopping", "started"}

func (s RunState) String() string {
	return stateName[s]
}

// Access is the type of a storage reference.
type Access int

const (
	AccFetch     Access = iota // Operand fetch
	AccStore                   // Operand store
	AccInstFetch               // Instruction fetch
)

// Special access register selectors.  Values 0 to 15 select an access
// register when the CPU is in access register mode.
const (
	ArnPrimary   = 16 + iota // Primary address space
	ArnSecondary             // Secondary address space
	ArnHome                  // Home address space
	ArnReal                  // Real address, no translation
)

// Pending interruption bits.
const (
	pendRestart   uint32 = 1 << iota // Restart key or SIGP restart
	pendStop                         // Stop request
	pendMCK                          // Machine check condition
	pendExtCall                      // SIGP external call
	pendEmergency                    // SIGP emergency signal
	pendService                      // Service signal
	pendIntKey                       // Interrupt key
	pendClkComp                      // Clock comparator
	pendCPUTimer                     // CPU timer
	pendInterval                     // S/370 interval timer
	pendIO                           // I/O interruption queued
	pendArch                         // Architecture change
	pendExit                         // Worker shutdown

	pendExternal = pendExtCall | pendEmergency | pendService | pendIntKey |
		pendClkComp | pendCPUTimer | pendInterval
)

// Debug trace masks.
const (
	debugInst = 1 << iota // Each instruction
	debugIRQ              // Interruptions
)

// Instructions executed between checks of the pending word.
const pollInterval = 256

const (
	pageSize uint64 = 0x800 // Storage key block and crossing unit
	pageMask uint64 = pageSize - 1
	maxCPU          = 64
	noOwner  int32  = -1
)

// PER event bits, as in CR9.
const (
	perBranch uint16 = 0x8000 // Successful branch
	perIFetch uint16 = 0x4000 // Instruction fetch
	perStore  uint16 = 0x2000 // Storage alteration
	perGR     uint16 = 0x1000 // General register alteration
)

// CR bits used by the engine.
const (
	cr0LowProt   uint64 = 0x10000000 // Low address protection
	cr0ExtKey    uint64 = 0x00000040 // Interrupt key subclass
	cr0Interval  uint64 = 0x00000080 // Interval timer subclass
	cr0ClkComp   uint64 = 0x00000800 // Clock comparator subclass
	cr0CPUTimer  uint64 = 0x00000400 // CPU timer subclass
	cr0Emergency uint64 = 0x00004000 // Emergency signal subclass
	cr0ExtCall   uint64 = 0x00002000 // External call subclass
	cr0Service   uint64 = 0x00000200 // Service signal subclass
	cr9IFetch    uint64 = 0x40000000 // PER instruction fetch
	cr9Store     uint64 = 0x20000000 // PER storage alteration
	cr9IFNull    uint64 = 0x01000000 // PER instruction fetch nullification
	cr9Branch    uint64 = 0x80000000 // PER successful branch
	cr9GR        uint64 = 0x10000000 // PER general register alteration
)

// Instruction formats.
type form uint8

const (
	formRR  form = iota // op r1 r2
	formRX              // op r1 x2 b2 d2
	formRS              // op r1 r3 b2 d2
	formSI              // op i2 b1 d1
	formSS              // op l b1 d1 b2 d2
	formS               // op op b2 d2
	formRRE             // op op 00 r1 r2
	formSSF             // op r3 op b1 d1 b2 d2
	formSSE             // op op b1 d1 b2 d2
)

// Decoded instruction.
type stepInfo struct {
	opcode   uint8  // Current opcode
	reg      uint8  // Second byte of instruction
	R1       uint8  // R1
	R2       uint8  // R2, X2, R3 or mask
	R3       uint8  // R3 for SSF
	address1 uint64 // First operand address
	address2 uint64 // Second operand address
	src1     uint64 // Source value for first operand
	src2     uint64 // Source value for second operand
	ilc      uint8  // Length of this instruction
	inst     []byte // Instruction image
	entry    *opEntry
}

// One entry in a dispatch table.
type opEntry struct {
	name string
	form form
	fn   func(*CPU, *stepInfo) uint16
}

type opTable struct {
	primary [256]opEntry
	b2      [256]opEntry
	c8      [16]opEntry
}

// Accelerated instruction address.
type aiaCache struct {
	valid bool
	vbase uint64 // Virtual page base
	abs   uint64 // Absolute page base
	key   uint8  // Key used to resolve
	amode int
}

// CPU is the state of one emulated processor.
type CPU struct {
	sys   *System
	addr  int        // CPU address
	arch  *arch.Arch // Profile this CPU is running
	table *opTable   // Dispatch table for profile
	log   *slog.Logger

	PSW    psw.PSW    // Current program status word
	regs   [16]uint64 // General registers
	cregs  [16]uint64 // Control registers
	aregs  [16]uint32 // Access registers
	fpregs [16]uint64 // Floating point registers
	prefix uint64     // Prefix register

	lowBase atomic.Uint64 // Copy of prefix for the timer goroutine

	state       RunState      // Guarded by interrupt lock
	waiting     bool          // In enabled wait
	checkstop   bool          // Stopped by fatal error
	intervening bool          // Operator stopped this CPU
	pending     atomic.Uint32 // Pending interruption bits
	wake        *sync.Cond    // Signalled under the interrupt lock
	emerSource  uint64        // CPUs that sent emergency signal
	extCallFrom int           // CPU that sent external call

	ilc         uint8  // Length of current instruction
	iaPending   bool   // IA not yet advanced past current instruction
	instInvalid bool   // Fault during instruction fetch
	zeroILC     bool   // Early exception, ILC stored as zero
	specRetry   bool   // Delivering for a bad new PSW
	bea         uint64 // Breaking event address
	aia         aiaCache
	ibuf        [6]byte // Crossing instruction fetch buffer
	inst        []byte  // Image of current instruction
	psw         [16]byte
	trace       int // Debug mask

	perEvent uint16 // PER event bits for this instruction
	perAddr  uint64 // PER address
	perArn   uint8  // PER access id
	tea      uint64 // Translation exception address
	excArn   uint8  // Exception access id
	dxc      uint32 // Data exception code
	monClass uint16 // Monitor class
	monCode  uint64 // Monitor code

	clkComp  atomic.Uint64 // Clock comparator
	cpuTimer atomic.Int64  // CPU timer
	tlb      [256]uint32   // S/370 translation lookaside buffer
	dat      datParams

	host  *CPU      // Host when running as a guest, not owned
	guest *CPU      // Guest while in SIE, owned
	sie   *sieState // State description of running guest
	diag  bool      // Detached copy used by the operator

	counts    [arch.NumClasses]atomic.Uint64 // Interruptions delivered
	instCount atomic.Uint64
}

// S/370 translation parameters, derived from CR0 and CR1.
type datParams struct {
	pageShift   uint64
	pageMask    uint64
	pageIndex   uint64
	segShift    uint64
	segMask     uint64
	segLen      uint64
	segAddr     uint64
	pteLenShift uint64
	pteAvail    uint64
	pteMBZ      uint64
	pteShift    uint64
}

// Masks.
const (
	AMASK  uint32 = 0x00ffffff // Mask address bits
	HMASKL uint64 = 0xffffffff00000000
	LMASKL uint64 = 0x00000000ffffffff
	MSIGN  uint32 = 0x80000000 // Minus sign
)

// Opcode definitions.
const (
	OP_SPM   = 0x04
	OP_BALR  = 0x05
	OP_BCTR  = 0x06
	OP_BCR   = 0x07
	OP_SVC   = 0x0A
	OP_BASR  = 0x0D
	OP_LTR   = 0x12
	OP_NR    = 0x14
	OP_CLR   = 0x15
	OP_OR    = 0x16
	OP_XR    = 0x17
	OP_LR    = 0x18
	OP_CR    = 0x19
	OP_AR    = 0x1A
	OP_SR    = 0x1B
	OP_ALR   = 0x1E
	OP_SLR   = 0x1F
	OP_STH   = 0x40
	OP_LA    = 0x41
	OP_STC   = 0x42
	OP_IC    = 0x43
	OP_EX    = 0x44
	OP_BAL   = 0x45
	OP_BCT   = 0x46
	OP_BC    = 0x47
	OP_LH    = 0x48
	OP_BAS   = 0x4D
	OP_ST    = 0x50
	OP_N     = 0x54
	OP_CL    = 0x55
	OP_O     = 0x56
	OP_X     = 0x57
	OP_L     = 0x58
	OP_C     = 0x59
	OP_A     = 0x5A
	OP_S     = 0x5B
	OP_SSM   = 0x80
	OP_LPSW  = 0x82
	OP_DIAG  = 0x83
	OP_STM   = 0x90
	OP_TM    = 0x91
	OP_MVI   = 0x92
	OP_TS    = 0x93
	OP_NI    = 0x94
	OP_CLI   = 0x95
	OP_OI    = 0x96
	OP_XI    = 0x97
	OP_LM    = 0x98
	OP_STNSM = 0xAC
	OP_STOSM = 0xAD
	OP_SIGP  = 0xAE
	OP_MC    = 0xAF
	OP_B2    = 0xB2
	OP_STCTL = 0xB6
	OP_LCTL  = 0xB7
	OP_CS    = 0xBA
	OP_CDS   = 0xBB
	OP_C8    = 0xC8
	OP_MVCK  = 0xD9
	OP_MVC   = 0xD2
	OP_NC    = 0xD4
	OP_CLC   = 0xD5
	OP_OC    = 0xD6
	OP_XC    = 0xD7

	// Second byte of B2 opcodes.
	OP_STIDP = 0x02
	OP_SIE   = 0x14
	OP_SPX   = 0x10
	OP_STPX  = 0x11
	OP_STAP  = 0x12
	OP_SCK   = 0x04
	OP_STCK  = 0x05
	OP_SCKC  = 0x06
	OP_STCKC = 0x07
	OP_SPT   = 0x08
	OP_STPT  = 0x09
	OP_SPKA  = 0x0A
	OP_IPK   = 0x0B
	OP_PTLB  = 0x0D
	OP_LPSWE = 0xB2

	// Second nibble of C8 opcodes.
	OP_MVCOS = 0x0
)
