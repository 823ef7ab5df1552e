/*
 * S390 - System and CPU worker tests.
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
	"testing"
	"time"

	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/psw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	waitFor = 5 * time.Second
	tick    = time.Millisecond
)

// Start a worker for every CPU.  The workers are shut down when the
// test ends.
func (s *testSystem) startWorkers(t *testing.T) {
	t.Helper()
	var g errgroup.Group
	for _, c := range s.cpus {
		g.Go(func() error {
			c.Run()
			return nil
		})
	}
	t.Cleanup(func() {
		s.Shutdown()
		assert.NoError(t, g.Wait())
	})
}

// Put a disabled wait PSW at 0x500 for LPSW.
func (s *testSystem) disabledWait(t *testing.T) {
	t.Helper()
	p := psw.PSW{Wait: true, EC: true, AMode: 31}
	img := make([]byte, 16)
	psw.Encode(s.Arch(), &p, img)
	s.load(t, 0x500, img[:s.Arch().PSWLen]...)
}

func (s *testSystem) stopped() bool {
	return s.Started() == 0
}

// Two CPUs bump a shared counter with compare and swap.
func TestConcurrentCS(t *testing.T) {
	const loops = 5000
	s := newTestSystem(t, arch.ESA390, 2)
	s.load(t, 0x400,
		0x58, 0x20, 0x06, 0x00, // L    2,0x600
		0x18, 0x32, //             LR   3,2
		0x41, 0x30, 0x30, 0x01, // LA   3,1(3)
		0xba, 0x23, 0x06, 0x00, // CS   2,3,0x600
		0x47, 0x40, 0x04, 0x04, // BC   4,0x404
		0x18, 0x23, //             LR   2,3
		0x46, 0x50, 0x04, 0x04, // BCT  5,0x404
		0x82, 0x00, 0x05, 0x00) // LPSW 0x500
	s.disabledWait(t)
	for _, c := range s.cpus {
		c.regs[5] = loops
	}
	s.startWorkers(t)
	require.NoError(t, s.StartCPU(0))
	require.NoError(t, s.StartCPU(1))

	require.Eventually(t, s.stopped, waitFor, tick)
	assert.Equal(t, uint32(2*loops), s.word(0x600))
	for n := range 2 {
		st, err := s.Status(n)
		require.NoError(t, err)
		assert.Equal(t, Stopped, st.State)
		assert.Equal(t, uint64(0), st.Regs[5])
		assert.Equal(t, []byte{0x00, 0x0a, 0x00, 0x00}, st.PSW[:4])
	}
	assert.Equal(t, -1, s.IntLockOwner())
}

// Stop and start a running CPU.
func TestStopStart(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	s.load(t, 0x400, 0x47, 0xf0, 0x04, 0x00) // B 0x400
	s.startWorkers(t)
	require.NoError(t, s.StartCPU(0))
	assert.Equal(t, uint64(1), s.Started())

	require.Eventually(t, func() bool {
		return c.instCount.Load() > 1000
	}, waitFor, tick)

	require.NoError(t, s.StopCPU(0))
	require.Eventually(t, s.stopped, waitFor, tick)
	st, err := s.Status(0)
	require.NoError(t, err)
	assert.Equal(t, Stopped, st.State)
	assert.False(t, st.Checkstop)
	assert.Equal(t, []byte{0x80, 0x00, 0x04, 0x00}, st.PSW[4:])
	insts := st.Insts

	// Stays stopped.
	time.Sleep(10 * time.Millisecond)
	st, _ = s.Status(0)
	assert.Equal(t, insts, st.Insts)

	require.NoError(t, s.StartCPU(0))
	require.Eventually(t, func() bool {
		return c.instCount.Load() > insts+1000
	}, waitFor, tick)
}

// Only restart or start leaves the stopped state.
func TestStoppedStaysStopped(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	s.disabledWait(t)
	s.load(t, trapAddr, 0x82, 0x00, 0x05, 0x00) // LPSW 0x500
	c.PSW.SysMask = psw.MaskExt | psw.MaskIO
	s.startWorkers(t)

	require.NoError(t, s.InterruptKey(0))
	s.WakeIO()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, uint64(0), s.Started())
	assert.Zero(t, c.counts[arch.External].Load())

	require.NoError(t, s.RestartCPU(0))
	require.Eventually(t, func() bool {
		return c.counts[arch.Restart].Load() == 1 && s.stopped()
	}, waitFor, tick)
	assert.Zero(t, c.counts[arch.External].Load())
}

// An enabled wait is left by an interruption.
func TestEnabledWait(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	s.disabledWait(t)
	s.load(t, trapAddr, 0x82, 0x00, 0x05, 0x00) // LPSW 0x500
	c.PSW = psw.PSW{SysMask: psw.MaskExt, EC: true, Wait: true, AMode: 31, IA: 0x400}
	s.startWorkers(t)
	require.NoError(t, s.StartCPU(0))

	require.Eventually(t, func() bool { return s.Waiting() == 1 }, waitFor, tick)
	assert.Equal(t, uint64(1), s.Started())

	require.NoError(t, s.InterruptKey(0))
	require.Eventually(t, s.stopped, waitFor, tick)
	assert.Equal(t, uint64(1), c.counts[arch.External].Load())
	assert.Equal(t, uint64(0), s.Waiting())
}

// A program check loop checkstops only the looping CPU.
func TestCheckstopWorker(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	s.putWord(0x68, 0x000800ff)
	s.load(t, 0x400, 0x01, 0x00)
	s.startWorkers(t)
	require.NoError(t, s.StartCPU(0))

	require.Eventually(t, s.stopped, waitFor, tick)
	st, err := s.Status(0)
	require.NoError(t, err)
	assert.True(t, st.Checkstop)
	assert.Equal(t, uint64(2), st.Counts[arch.Program])
	assert.Equal(t, uint64(2), c.counts[arch.Program].Load())
}

// System checkstop stops every CPU.
func TestSystemCheckstop(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 2)
	s.load(t, 0x400, 0x47, 0xf0, 0x04, 0x00) // B 0x400
	s.startWorkers(t)
	require.NoError(t, s.StartCPU(0))
	require.NoError(t, s.StartCPU(1))
	s.Checkstop("test")
	require.Eventually(t, s.stopped, waitFor, tick)
	for n := range 2 {
		st, _ := s.Status(n)
		assert.True(t, st.Checkstop)
	}
}

// Workers switch profile when the system does.
func TestSetArchitecture(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 2)
	s.startWorkers(t)
	s.SetArchitecture(arch.ZArch)
	require.Eventually(t, func() bool {
		for n := range 2 {
			st, _ := s.Status(n)
			if st.Arch != "z/Arch" || len(st.PSW) != 16 {
				return false
			}
		}
		return true
	}, waitFor, tick)
}

// LoadPSW and ResetCPU need a stopped CPU.
func TestLoadPSW(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	err := s.LoadPSW(0, []byte{0x00, 0x08, 0x00, 0x00, 0x80, 0x00, 0x12, 0x34})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), c.PSW.IA)

	assert.Error(t, s.LoadPSW(0, []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}))
	assert.Error(t, s.LoadPSW(0, []byte{0x00}))
	assert.ErrorIs(t, s.LoadPSW(3, nil), ErrNoCPU)

	c.regs[1] = 5
	require.NoError(t, s.ResetCPU(0))
	assert.Equal(t, uint64(0), c.regs[1])
	assert.Equal(t, uint64(0xe0), c.cregs[0])

	require.NoError(t, s.StartCPU(0))
	assert.ErrorIs(t, s.LoadPSW(0, make([]byte, 8)), ErrNotStopped)
	assert.ErrorIs(t, s.ResetCPU(0), ErrNotStopped)
}

func TestNewSystem(t *testing.T) {
	_, err := New(Config{CPUs: 0})
	assert.ErrorIs(t, err, ErrCPUCount)
	_, err = New(Config{CPUs: maxCPU + 1})
	assert.ErrorIs(t, err, ErrCPUCount)
	_, err = New(Config{CPUs: 1})
	assert.Error(t, err)

	s := newTestSystem(t, arch.ZArch, 3)
	assert.Equal(t, 3, s.NumCPU())
	assert.Equal(t, arch.ZArch, s.Arch().Kind)
	_, err = s.CPU(3)
	assert.ErrorIs(t, err, ErrNoCPU)
}

// Timer tick raises the CPU timer, clock comparator and interval timer.
func TestUpdateTimers(t *testing.T) {
	s := newTestSystem(t, arch.S370, 2)
	c := s.cpus[0]
	require.NoError(t, s.StartCPU(0))
	c.cpuTimer.Store(10 << 12)
	c.clkComp.Store(0)
	s.putWord(0x50, 0x100)
	s.cpus[1].cpuTimer.Store(-1)

	s.UpdateTimers(20 * time.Microsecond)
	p := c.pending.Load()
	assert.NotZero(t, p&pendCPUTimer)
	assert.NotZero(t, p&pendClkComp)
	assert.Zero(t, p&pendInterval)
	assert.Less(t, c.cpuTimer.Load(), int64(0))

	s.UpdateTimers(time.Second)
	assert.NotZero(t, c.pending.Load()&pendInterval)
	assert.Less(t, int32(s.word(0x50)), int32(0))

	// Stopped CPUs do not count.
	assert.Equal(t, int64(-1), s.cpus[1].cpuTimer.Load())
	assert.Zero(t, s.cpus[1].pending.Load())
}

func TestSetTOD(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	before := s.TOD()
	s.setTOD(before + (1000000 << 12))
	after := s.TOD()
	assert.GreaterOrEqual(t, after, before+(1000000<<12))
	assert.Less(t, after, before+(2000000<<12))
}

func TestTraceMask(t *testing.T) {
	m, err := TraceMask([]string{"inst", "IRQ"})
	require.NoError(t, err)
	assert.Equal(t, debugInst|debugIRQ, m)
	_, err = TraceMask([]string{"dat"})
	assert.ErrorIs(t, err, ErrTraceOption)
}
