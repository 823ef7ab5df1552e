/*
 * S390 - Architecture profiles.
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

// Package arch describes the three architecture profiles the CPU engine can
// run: System/370, ESA/390 and z/Architecture.  A profile is a read only
// value; CPUs hold a pointer to the active one and switch when the system
// profile changes.
package arch

import (
	"errors"
	"strings"
)

// Kind selects one of the supported profiles.
type Kind int

const (
	S370 Kind = iota
	ESA390
	ZArch
)

// Class is an interruption class.  Every class has an old and new PSW
// slot in the low core block.
type Class int

const (
	Restart Class = iota
	External
	SVC
	Program
	MachineCheck
	IO
	NumClasses
)

var className = [NumClasses]string{"restart", "external", "svc", "program", "machine check", "i/o"}

func (c Class) String() string {
	if c < 0 || c >= NumClasses {
		return "unknown"
	}
	return className[c]
}

var ErrUnknownArch = errors.New("unknown architecture")

// LowCore holds the offsets of the fixed fields in the prefixed
// storage area.  Zero means the field does not exist in this profile.
type LowCore struct {
	OldPSW [NumClasses]uint64
	NewPSW [NumClasses]uint64

	CPUAddr   uint64 // Address of CPU causing external interrupt
	ExtCode   uint64 // External interruption code
	SVCILC    uint64 // SVC instruction length
	SVCCode   uint64 // SVC interruption code
	PgmILC    uint64 // Program instruction length
	PgmCode   uint64 // Program interruption code
	DXC       uint64 // Data exception code
	TEA       uint64 // Translation exception address
	MonClass  uint64 // Monitor class number
	PERCode   uint64 // PER code
	PERAddr   uint64 // PER address
	MonCode   uint64 // Monitor code
	ExcAccID  uint64 // Exception access id
	PERAccID  uint64 // PER access id
	OpAccID   uint64 // Operand access id
	SSID      uint64 // Subchannel id or device address
	IOParm    uint64 // I/O interruption parameter
	IOIdent   uint64 // I/O interruption identification
	MCIC      uint64 // Machine check interruption code
	ExtDamage uint64 // External damage code
	FailAddr  uint64 // Failing storage address
	BEA       uint64 // Breaking event address
	Timer     uint64 // Interval timer

	// Machine check save areas.
	SaveCPUTimer uint64
	SaveClkComp  uint64
	SaveAR       uint64
	SaveFPR      uint64
	SaveGR       uint64
	SaveCR       uint64
	SavePSW      uint64
	SavePrefix   uint64
}

// Arch is one architecture profile.
type Arch struct {
	Kind       Kind
	Name       string
	AddrBits   int    // Widest addressing mode
	AddrMask   uint64 // Wrap mask for widest mode
	PSWLen     int    // Bytes in stored PSW
	RegBytes   int    // Bytes per general register saved
	PrefixMask uint64 // Bits valid in prefix register
	LowSize    uint64 // Size of prefixed area
	Low        LowCore
}

// Wide reports whether the profile uses 64 bit registers and the 16 byte PSW.
func (a *Arch) Wide() bool {
	return a.Kind == ZArch
}

// AddrWidth returns the wrap mask for the given addressing mode.
func AddrWidth(amode int) uint64 {
	switch amode {
	case 24:
		return 0x00ffffff
	case 31:
		return 0x7fffffff
	default:
		return 0xffffffffffffffff
	}
}

func (a *Arch) String() string {
	return a.Name
}

var legacyLow = LowCore{
	OldPSW:    [NumClasses]uint64{0x08, 0x18, 0x20, 0x28, 0x30, 0x38},
	NewPSW:    [NumClasses]uint64{0x00, 0x58, 0x60, 0x68, 0x70, 0x78},
	CPUAddr:   0x84,
	ExtCode:   0x86,
	SVCILC:    0x89,
	SVCCode:   0x8a,
	PgmILC:    0x8d,
	PgmCode:   0x8e,
	TEA:       0x90,
	MonClass:  0x94,
	PERCode:   0x96,
	PERAddr:   0x98,
	MonCode:   0x9c,
	SSID:      0xb8,
	MCIC:      0xe8,
	ExtDamage: 0xf4,
	FailAddr:  0xf8,
	Timer:     0x50,

	SaveCPUTimer: 0xd8,
	SaveClkComp:  0xe0,
	SaveFPR:      0x160,
	SaveGR:       0x180,
	SaveCR:       0x1c0,
}

var profiles = [3]*Arch{
	{
		Kind:       S370,
		Name:       "S/370",
		AddrBits:   24,
		AddrMask:   0x00ffffff,
		PSWLen:     8,
		RegBytes:   4,
		PrefixMask: 0x00fff000,
		LowSize:    0x1000,
		Low:        legacyLow,
	},
	{
		Kind:       ESA390,
		Name:       "ESA/390",
		AddrBits:   31,
		AddrMask:   0x7fffffff,
		PSWLen:     8,
		RegBytes:   4,
		PrefixMask: 0x7ffff000,
		LowSize:    0x1000,
		Low:        esaLow(),
	},
	{
		Kind:       ZArch,
		Name:       "z/Arch",
		AddrBits:   64,
		AddrMask:   0xffffffffffffffff,
		PSWLen:     16,
		RegBytes:   8,
		PrefixMask: 0x7fffe000,
		LowSize:    0x2000,
		Low:        zLow(),
	},
}

func esaLow() LowCore {
	l := legacyLow
	l.Timer = 0
	l.DXC = 0x90
	l.ExcAccID = 0xa0
	l.PERAccID = 0xa1
	l.OpAccID = 0xa2
	l.IOParm = 0xbc
	l.IOIdent = 0xc0
	l.SaveAR = 0x120
	return l
}

func zLow() LowCore {
	l := esaLow()
	l.OldPSW = [NumClasses]uint64{0x120, 0x130, 0x140, 0x150, 0x160, 0x170}
	l.NewPSW = [NumClasses]uint64{0x1a0, 0x1b0, 0x1c0, 0x1d0, 0x1e0, 0x1f0}
	l.TEA = 0xa8
	l.MonCode = 0xb0
	l.BEA = 0x110
	l.SaveFPR = 0x1200
	l.SaveGR = 0x1280
	l.SavePSW = 0x1300
	l.SavePrefix = 0x1318
	l.SaveCPUTimer = 0x1328
	l.SaveClkComp = 0x1330
	l.SaveAR = 0x1340
	l.SaveCR = 0x1380
	return l
}

// Get returns the profile for a kind.
func Get(k Kind) *Arch {
	if k < S370 || k > ZArch {
		return profiles[S370]
	}
	return profiles[k]
}

// Parse converts an operator or configuration name to a kind.
func Parse(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "370", "s370", "s/370":
		return S370, nil
	case "390", "esa", "esa390", "esa/390":
		return ESA390, nil
	case "z", "zarch", "z/arch", "900", "z900":
		return ZArch, nil
	}
	return S370, ErrUnknownArch
}
