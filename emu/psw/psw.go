/*
 * S390 - Program status word codec.
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

// Package psw converts between the stored form of a program status word
// and its decoded fields.  The layout is chosen by the architecture
// profile and, on System/370, by the EC mode bit.
package psw

import (
	"encoding/binary"

	"github.com/rcornwell/S390/emu/arch"
)

// System mask bits in EC mode.
const (
	MaskPER uint8 = 0x40 // Program event recording
	MaskDAT uint8 = 0x04 // Translation mode
	MaskIO  uint8 = 0x02 // I/O interruptions
	MaskExt uint8 = 0x01 // External interruptions
)

const (
	ecBit      uint32 = 0x00080000 // EC mode / ESA format bit 12
	mwpBits    uint32 = 0x00070000 // Machine check, wait, problem
	ea         uint32 = 0x00000001 // Extended addressing bit 31
	ba         uint32 = 0x80000000 // Basic addressing bit 32
	s370EC     uint32 = 0xb800c0ff // Reserved in S/370 EC mode word 1
	s370IA     uint32 = 0xff000000 // Reserved in S/370 EC mode word 2
	esaMBZ     uint32 = 0xb80000ff // Reserved in ESA/390 word 1
	zMBZ       uint32 = 0xb80000fe // Reserved in z/Arch word 1
	zWord2MBZ  uint32 = 0x7fffffff // Reserved in z/Arch word 2
	mask24     uint64 = 0x00ffffff
	mask31     uint64 = 0x7fffffff
	specFault         = arch.PgmSpecification
)

// PSW is a decoded program status word.
type PSW struct {
	SysMask  uint8  // System mask byte
	Key      uint8  // Storage key, in high nibble
	EC       bool   // S/370 extended control mode
	MCheck   bool   // Machine check enable
	Wait     bool   // Wait state
	Problem  bool   // Problem state
	AS       uint8  // Address space control
	CC       uint8  // Condition code
	ProgMask uint8  // Program mask
	AMode    int    // 24, 31 or 64
	IA       uint64 // Instruction address
	IntCode  uint16 // S/370 BC mode interruption code
	ILC      uint8  // S/370 BC mode instruction length in bytes
}

// Mask returns the instruction address mask for the addressing mode.
func (p *PSW) Mask() uint64 {
	return arch.AddrWidth(p.AMode)
}

// Enabled reports whether an EC mode system mask bit is on.  In BC mode
// only the external bit is directly meaningful.
func (p *PSW) Enabled(bit uint8) bool {
	return p.SysMask&bit != 0
}

func (p *PSW) flags() uint32 {
	var f uint32
	if p.MCheck {
		f |= 0x4
	}
	if p.Wait {
		f |= 0x2
	}
	if p.Problem {
		f |= 0x1
	}
	return f << 16
}

func (p *PSW) setFlags(w1 uint32) {
	p.MCheck = (w1 & 0x00040000) != 0
	p.Wait = (w1 & 0x00020000) != 0
	p.Problem = (w1 & 0x00010000) != 0
}

// Encode stores the PSW into image in the format of profile a.  The
// image must be at least a.PSWLen bytes.
func Encode(a *arch.Arch, p *PSW, image []byte) {
	w1 := (uint32(p.SysMask) << 24) | (uint32(p.Key&0xf0) << 16) | p.flags()
	switch a.Kind {
	case arch.S370:
		if !p.EC {
			w1 |= uint32(p.IntCode)
			w2 := (uint32(p.ILC>>1) << 30) |
				(uint32(p.CC&3) << 28) |
				(uint32(p.ProgMask&0xf) << 24) |
				uint32(p.IA&mask24)
			binary.BigEndian.PutUint32(image[0:], w1)
			binary.BigEndian.PutUint32(image[4:], w2)
			return
		}
		w1 |= ecBit | (uint32(p.CC&3) << 12) | (uint32(p.ProgMask&0xf) << 8)
		binary.BigEndian.PutUint32(image[0:], w1)
		binary.BigEndian.PutUint32(image[4:], uint32(p.IA&mask24))

	case arch.ESA390:
		w1 |= ecBit | (uint32(p.AS&3) << 14) | (uint32(p.CC&3) << 12) | (uint32(p.ProgMask&0xf) << 8)
		w2 := uint32(p.IA & mask31)
		if p.AMode != 24 {
			w2 |= ba
		} else {
			w2 &= uint32(mask24)
		}
		binary.BigEndian.PutUint32(image[0:], w1)
		binary.BigEndian.PutUint32(image[4:], w2)

	case arch.ZArch:
		w1 |= (uint32(p.AS&3) << 14) | (uint32(p.CC&3) << 12) | (uint32(p.ProgMask&0xf) << 8)
		var w2 uint32
		switch p.AMode {
		case 64:
			w1 |= ea
			w2 = ba
		case 31:
			w2 = ba
		}
		binary.BigEndian.PutUint32(image[0:], w1)
		binary.BigEndian.PutUint32(image[4:], w2)
		binary.BigEndian.PutUint64(image[8:], p.IA&p.Mask())
	}
}

// Decode parses a stored PSW in the format of profile a.  On a format
// error the partially decoded PSW is returned along with a specification
// exception code; the caller decides whether to load it.
func Decode(a *arch.Arch, image []byte) (PSW, uint16) {
	var p PSW
	w1 := binary.BigEndian.Uint32(image[0:])
	w2 := binary.BigEndian.Uint32(image[4:])
	p.SysMask = uint8(w1 >> 24)
	p.Key = uint8(w1>>16) & 0xf0
	p.setFlags(w1)

	switch a.Kind {
	case arch.S370:
		p.AMode = 24
		p.IA = uint64(w2) & mask24
		p.EC = (w1 & ecBit) != 0
		if !p.EC {
			p.IntCode = uint16(w1)
			p.ILC = uint8(w2>>30) << 1
			p.CC = uint8(w2>>28) & 3
			p.ProgMask = uint8(w2>>24) & 0xf
			return p, 0
		}
		p.CC = uint8(w1>>12) & 3
		p.ProgMask = uint8(w1>>8) & 0xf
		if (w1&s370EC) != 0 || (w2&s370IA) != 0 {
			return p, specFault
		}
		return p, 0

	case arch.ESA390:
		p.EC = true
		p.AS = uint8(w1>>14) & 3
		p.CC = uint8(w1>>12) & 3
		p.ProgMask = uint8(w1>>8) & 0xf
		p.IA = uint64(w2) & mask31
		p.AMode = 24
		if (w2 & ba) != 0 {
			p.AMode = 31
		}
		if (w1&ecBit) == 0 || (w1&esaMBZ) != 0 {
			return p, specFault
		}
		if p.AMode == 24 && p.IA > mask24 {
			return p, specFault
		}
		return p, 0

	default:
		p.EC = true
		p.AS = uint8(w1>>14) & 3
		p.CC = uint8(w1>>12) & 3
		p.ProgMask = uint8(w1>>8) & 0xf
		p.IA = binary.BigEndian.Uint64(image[8:])
		p.AMode = amode(w1, w2)
		if (w1&ecBit) != 0 || (w1&zMBZ) != 0 || (w2&zWord2MBZ) != 0 {
			return p, specFault
		}
		if (w1&ea) != 0 && (w2&ba) == 0 {
			return p, specFault
		}
		if p.IA > p.Mask() {
			return p, specFault
		}
		return p, 0
	}
}

// DecodeShort parses the 8 byte ESA/390 format that LPSW loads while in
// z/Architecture mode.  Bit 12 must be one and is dropped on conversion.
func DecodeShort(image []byte) (PSW, uint16) {
	var p PSW
	w1 := binary.BigEndian.Uint32(image[0:])
	w2 := binary.BigEndian.Uint32(image[4:])
	p.EC = true
	p.SysMask = uint8(w1 >> 24)
	p.Key = uint8(w1>>16) & 0xf0
	p.setFlags(w1)
	p.AS = uint8(w1>>14) & 3
	p.CC = uint8(w1>>12) & 3
	p.ProgMask = uint8(w1>>8) & 0xf
	p.AMode = amode(w1, w2)
	p.IA = uint64(w2) & mask31
	if (w1&ecBit) == 0 || (w1&zMBZ) != 0 {
		return p, specFault
	}
	if (w1&ea) != 0 && (w2&ba) == 0 {
		return p, specFault
	}
	if p.AMode == 24 && p.IA > mask24 {
		return p, specFault
	}
	return p, 0
}

func amode(w1, w2 uint32) int {
	switch {
	case (w1 & ea) != 0:
		return 64
	case (w2 & ba) != 0:
		return 31
	}
	return 24
}

// Convert adjusts a PSW loaded under one profile so it is valid under
// another.  Used when the system architecture changes.
func Convert(p PSW, to *arch.Arch) PSW {
	switch to.Kind {
	case arch.S370:
		p.AMode = 24
		p.IA &= mask24
		p.AS = 0
	case arch.ESA390:
		p.EC = true
		if p.AMode == 64 {
			p.AMode = 31
		}
		p.IA &= p.Mask()
		p.IntCode, p.ILC = 0, 0
	case arch.ZArch:
		p.EC = true
		p.IntCode, p.ILC = 0, 0
	}
	return p
}
