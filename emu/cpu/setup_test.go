/*
 * S390 - CPU test helpers.
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
	"io"
	"log/slog"
	"testing"

	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/channel"
	"github.com/rcornwell/S390/emu/mcheck"
	"github.com/rcornwell/S390/emu/memory"
	"github.com/rcornwell/S390/emu/psw"
	"github.com/stretchr/testify/require"
)

// Every new PSW points here.
const trapAddr uint64 = 0x800

type testSystem struct {
	*System
	ch  *channel.Subsystem
	mck *mcheck.Monitor
}

func newTestSystem(t *testing.T, k arch.Kind, cpus int) *testSystem {
	t.Helper()
	mem, err := memory.New(256 * 1024)
	require.NoError(t, err)
	ch := channel.New()
	mck := mcheck.New()
	s, err := New(Config{
		CPUs:    cpus,
		Arch:    k,
		Storage: mem,
		IO:      ch,
		MCheck:  mck,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	ts := &testSystem{System: s, ch: ch, mck: mck}
	for _, c := range s.cpus {
		c.PSW = ts.basePSW(0x400)
		ts.setTraps(c)
	}
	return ts
}

// Supervisor state PSW, all interruptions disabled.
func (s *testSystem) basePSW(ia uint64) psw.PSW {
	a := s.Arch()
	p := psw.PSW{AMode: 24, IA: ia}
	if a.Kind != arch.S370 {
		p.EC = true
		p.AMode = 31
	}
	return p
}

// Point every new PSW at the trap address.
func (s *testSystem) setTraps(c *CPU) {
	a := c.arch
	p := s.basePSW(trapAddr)
	img := make([]byte, a.PSWLen)
	psw.Encode(a, &p, img)
	for cl := range arch.NumClasses {
		copy(s.mem.Bytes(c.prefix+a.Low.NewPSW[cl], uint64(a.PSWLen)), img)
	}
}

// Store a new PSW image for one class.
func (s *testSystem) setNewPSW(c *CPU, cl arch.Class, p psw.PSW) {
	a := c.arch
	psw.Encode(a, &p, s.mem.Bytes(c.prefix+a.Low.NewPSW[cl], uint64(a.PSWLen)))
}

func (s *testSystem) load(t *testing.T, addr uint64, data ...byte) {
	t.Helper()
	require.NoError(t, s.mem.Load(addr, data))
}

func (s *testSystem) putWord(addr uint64, v uint32) {
	s.mem.PutWord(addr, v)
}

func (s *testSystem) word(addr uint64) uint32 {
	v, _ := s.mem.GetWord(addr)
	return v
}

func (s *testSystem) half(addr uint64) uint16 {
	v, _ := s.mem.GetHalf(addr)
	return v
}

// Run from ia until the trap address is reached, the next halfword is
// zero or steps run out.  Returns true on a trap.
func run(c *CPU, ia uint64, steps int) bool {
	c.PSW.IA = ia
	c.iaPending = false
	for range steps {
		c.catch(c.step)
		if c.PSW.IA == trapAddr {
			return true
		}
		h, _ := c.sys.mem.GetHalf(c.prefix + c.PSW.IA)
		if h == 0 {
			return false
		}
	}
	return false
}

// Program interruption code of the last program interruption.
func programCode(c *CPU) uint16 {
	a := c.arch
	mem := c.sys.mem
	if a.Kind == arch.S370 {
		w, _ := mem.GetWord(c.prefix + a.Low.OldPSW[arch.Program])
		if (w & 0x00080000) == 0 {
			return uint16(w)
		}
	}
	h, _ := mem.GetHalf(c.prefix + a.Low.PgmCode)
	return h
}

// Instruction length of the last program interruption.
func programILC(c *CPU) uint8 {
	a := c.arch
	mem := c.sys.mem
	if a.Kind == arch.S370 {
		w, _ := mem.GetWord(c.prefix + a.Low.OldPSW[arch.Program])
		if (w & 0x00080000) == 0 {
			w2, _ := mem.GetWord(c.prefix + a.Low.OldPSW[arch.Program] + 4)
			return uint8(w2>>30) << 1
		}
	}
	b, _ := mem.GetByte(c.prefix + a.Low.PgmILC)
	return b
}
