/*
 * S390 - Interruption codes.
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

package arch

// Program interruption codes.
const (
	PgmOperation        uint16 = 0x0001 // Operation exception
	PgmPrivileged       uint16 = 0x0002 // Privileged operation
	PgmExecute          uint16 = 0x0003 // Execute exception
	PgmProtection       uint16 = 0x0004 // Protection violation
	PgmAddressing       uint16 = 0x0005 // Address error
	PgmSpecification    uint16 = 0x0006 // Specification error
	PgmData             uint16 = 0x0007 // Data exception
	PgmFixOverflow      uint16 = 0x0008 // Fixed point overflow
	PgmFixDivide        uint16 = 0x0009 // Fixed point divide
	PgmDecOverflow      uint16 = 0x000a // Decimal overflow
	PgmDecDivide        uint16 = 0x000b // Decimal divide
	PgmExpOverflow      uint16 = 0x000c // Exponent overflow
	PgmExpUnderflow     uint16 = 0x000d // Exponent underflow
	PgmSignificance     uint16 = 0x000e // Significance error
	PgmFPDivide         uint16 = 0x000f // Floating point divide
	PgmSegment          uint16 = 0x0010 // Segment translation
	PgmPage             uint16 = 0x0011 // Page translation
	PgmTransSpec        uint16 = 0x0012 // Translation specification
	PgmSpecialOp        uint16 = 0x0013 // Special operation
	PgmOperand          uint16 = 0x0015 // Operand exception
	PgmTraceTable       uint16 = 0x0016 // Trace table
	PgmASNTransSpec     uint16 = 0x0017 // ASN translation specification
	PgmSpaceSwitch      uint16 = 0x001c // Space switch event
	PgmSqrt             uint16 = 0x001d // Square root
	PgmPCTransSpec      uint16 = 0x001f // PC translation specification
	PgmAFX              uint16 = 0x0020 // AFX translation
	PgmASX              uint16 = 0x0021 // ASX translation
	PgmLX               uint16 = 0x0022 // LX translation
	PgmEX               uint16 = 0x0023 // EX translation
	PgmPrimaryAuth      uint16 = 0x0024 // Primary authority
	PgmSecondaryAuth    uint16 = 0x0025 // Secondary authority
	PgmLFX              uint16 = 0x0026 // LFX translation
	PgmLSX              uint16 = 0x0027 // LSX translation
	PgmALETSpec         uint16 = 0x0028 // ALET specification
	PgmALEN             uint16 = 0x0029 // ALEN translation
	PgmALESequence      uint16 = 0x002a // ALE sequence
	PgmASTEValidity     uint16 = 0x002b // ASTE validity
	PgmASTESequence     uint16 = 0x002c // ASTE sequence
	PgmExtendedAuth     uint16 = 0x002d // Extended authority
	PgmLSTESequence     uint16 = 0x002e // LSTE sequence
	PgmASTEInstance     uint16 = 0x002f // ASTE instance
	PgmStackFull        uint16 = 0x0030 // Stack full
	PgmStackEmpty       uint16 = 0x0031 // Stack empty
	PgmStackSpec        uint16 = 0x0032 // Stack specification
	PgmStackType        uint16 = 0x0033 // Stack type
	PgmStackOperation   uint16 = 0x0034 // Stack operation
	PgmASCEType         uint16 = 0x0038 // ASCE type
	PgmRegionFirst      uint16 = 0x0039 // Region first translation
	PgmRegionSecond     uint16 = 0x003a // Region second translation
	PgmRegionThird      uint16 = 0x003b // Region third translation
	PgmMonitor          uint16 = 0x0040 // Monitor event
	PgmPER              uint16 = 0x0080 // PER event
	PgmCodeMask         uint16 = 0x007f // Code without PER
)

// External interruption codes.
const (
	ExtInterruptKey uint16 = 0x0040
	ExtIntervalTmr  uint16 = 0x0080
	ExtClockComp    uint16 = 0x1004
	ExtCPUTimer     uint16 = 0x1005
	ExtEmergency    uint16 = 0x1201
	ExtCall         uint16 = 0x1202
	ExtService      uint16 = 0x2401
)

// Resumption is how an interrupted instruction is finished.
type Resumption int

const (
	Suppression Resumption = iota
	Nullification
	Termination
	Completion
)

var resumptionName = [...]string{"suppression", "nullification", "termination", "completion"}

func (r Resumption) String() string {
	return resumptionName[r]
}

var classTable [0x80]Resumption

func init() {
	for _, code := range []uint16{
		PgmSegment, PgmPage, PgmTraceTable, PgmAFX, PgmASX, PgmLX, PgmEX,
		PgmPrimaryAuth, PgmSecondaryAuth, PgmLFX, PgmLSX, PgmALEN,
		PgmALESequence, PgmASTEValidity, PgmASTESequence, PgmExtendedAuth,
		PgmLSTESequence, PgmASTEInstance, PgmStackFull, PgmStackEmpty,
		PgmStackSpec, PgmStackType, PgmStackOperation, PgmASCEType,
		PgmRegionFirst, PgmRegionSecond, PgmRegionThird,
	} {
		classTable[code] = Nullification
	}
	for _, code := range []uint16{
		PgmFixOverflow, PgmDecOverflow, PgmExpOverflow, PgmExpUnderflow,
		PgmSignificance, PgmMonitor, PgmSpaceSwitch,
	} {
		classTable[code] = Completion
	}
}

// ClassOf returns the resumption class of a program interruption code.
// A PER event alone is completed; combined with another code the other
// code decides.
func ClassOf(code uint16) Resumption {
	base := code & PgmCodeMask
	if base == 0 {
		if code&PgmPER != 0 {
			return Completion
		}
		return Suppression
	}
	return classTable[base]
}
