/*
 * S390 - Interruption delivery tests.
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

	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/channel"
	"github.com/rcornwell/S390/emu/mcheck"
	"github.com/rcornwell/S390/emu/psw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// An invalid program new PSW gives one more delivery then a checkstop.
func TestInvalidProgramNewPSW(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	require.NoError(t, s.StartCPU(0))
	s.putWord(0x68, 0x000800ff)
	s.putWord(0x6c, 0x00000800)
	s.load(t, 0x400, 0x01, 0x00)

	sig := c.catch(c.step)
	assert.Equal(t, sigProgramCheck, sig)
	assert.Equal(t, uint64(2), c.counts[arch.Program].Load())
	assert.True(t, c.checkstop)
	assert.Equal(t, Stopping, c.state)
	assert.NotZero(t, c.pending.Load()&pendStop)
	assert.Equal(t, arch.PgmSpecification, s.half(0x8e))
	assert.Equal(t, -1, s.IntLockOwner())
}

// A good new PSW after one bad one clears the retry state.
func TestProgramNewPSWRecovers(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	s.load(t, 0x400, 0x01, 0x00)
	require.True(t, run(c, 0x400, 1))
	assert.False(t, c.specRetry)
	assert.Equal(t, uint64(1), c.counts[arch.Program].Load())
	assert.Equal(t, arch.PgmOperation, s.half(0x8e))
	assert.Equal(t, uint8(2), programILC(c))
}

// Interrupt key is delivered once.
func TestExternalDelivery(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	require.NoError(t, s.StartCPU(0))
	c.PSW.SysMask = psw.MaskExt
	require.NoError(t, s.InterruptKey(0))

	assert.Equal(t, sigProgramCheck, c.catch(c.checkInterrupts))
	assert.Equal(t, arch.ExtInterruptKey, s.half(0x86))
	assert.Equal(t, uint32(0x01080000), s.word(0x18))
	assert.Equal(t, uint32(0x80000400), s.word(0x1c))
	assert.Equal(t, trapAddr, c.PSW.IA)
	assert.Equal(t, uint64(1), c.counts[arch.External].Load())
	assert.Equal(t, -1, s.IntLockOwner())

	c.PSW.SysMask = psw.MaskExt
	assert.Equal(t, sigNone, c.catch(c.checkInterrupts))
	assert.Equal(t, uint64(1), c.counts[arch.External].Load())
}

// In BC mode the code goes in the old PSW.
func TestExternalDeliveryBC(t *testing.T) {
	s := newTestSystem(t, arch.S370, 1)
	c := s.cpus[0]
	require.NoError(t, s.StartCPU(0))
	c.PSW.SysMask = psw.MaskExt
	require.NoError(t, s.InterruptKey(0))

	assert.Equal(t, sigProgramCheck, c.catch(c.checkInterrupts))
	assert.Equal(t, uint32(0x01000040), s.word(0x18))
	assert.Equal(t, uint32(0x00000400), s.word(0x1c))
}

// Masked subclass stays pending.
func TestExternalMasked(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	require.NoError(t, s.StartCPU(0))
	c.PSW.SysMask = psw.MaskExt
	c.cregs[0] &^= cr0ExtKey
	require.NoError(t, s.InterruptKey(0))

	assert.Equal(t, sigNone, c.catch(c.checkInterrupts))
	assert.NotZero(t, c.pending.Load()&pendIntKey)
	assert.Zero(t, c.counts[arch.External].Load())

	c.cregs[0] |= cr0ExtKey
	assert.Equal(t, sigProgramCheck, c.catch(c.checkInterrupts))
}

// CPU timer and clock comparator.
func TestExternalTimers(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	require.NoError(t, s.StartCPU(0))
	c.PSW.SysMask = psw.MaskExt
	c.cregs[0] |= cr0CPUTimer | cr0ClkComp

	c.cpuTimer.Store(-1)
	c.pending.Or(pendCPUTimer)
	assert.Equal(t, sigProgramCheck, c.catch(c.checkInterrupts))
	assert.Equal(t, arch.ExtCPUTimer, s.half(0x86))

	// Still pending while the timer is negative.
	c.PSW.SysMask = psw.MaskExt
	assert.Equal(t, sigProgramCheck, c.catch(c.checkInterrupts))

	c.cpuTimer.Store(100)
	c.clkComp.Store(0)
	c.pending.Or(pendClkComp)
	c.PSW.SysMask = psw.MaskExt
	assert.Equal(t, sigProgramCheck, c.catch(c.checkInterrupts))
	assert.Equal(t, arch.ExtClockComp, s.half(0x86))

	c.clkComp.Store(^uint64(0))
	c.PSW.SysMask = psw.MaskExt
	assert.Equal(t, sigNone, c.catch(c.checkInterrupts))
	assert.Zero(t, c.pending.Load()&(pendClkComp|pendCPUTimer))
}

// Service signal stores its parameter.
func TestServiceSignal(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	require.NoError(t, s.StartCPU(0))
	c.PSW.SysMask = psw.MaskExt
	c.cregs[0] |= cr0Service
	s.ServiceSignal(0x00abcd00)
	assert.Equal(t, sigProgramCheck, c.catch(c.checkInterrupts))
	assert.Equal(t, arch.ExtService, s.half(0x86))
	assert.Equal(t, uint32(0x00abcd00), s.word(0x80))
}

// I/O interruption stores the identification words.
func TestIODelivery(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	require.NoError(t, s.StartCPU(0))
	c.PSW.SysMask = psw.MaskIO
	c.cregs[6] = 0x80000000
	s.ch.Post(channel.Interrupt{SSID: 0x00010005, Parm: 0x12345678, Ident: 0x80000000, ISC: 3})
	s.ch.Post(channel.Interrupt{SSID: 0x00010004, Parm: 0x87654321, Ident: 0x80000000, ISC: 0})
	s.WakeIO()

	assert.Equal(t, sigProgramCheck, c.catch(c.checkInterrupts))
	assert.Equal(t, uint32(0x00010004), s.word(0xb8))
	assert.Equal(t, uint32(0x87654321), s.word(0xbc))
	assert.Equal(t, uint32(0x80000000), s.word(0xc0))
	assert.Equal(t, uint64(1), c.counts[arch.IO].Load())

	// Subclass 3 is masked.
	c.PSW.SysMask = psw.MaskIO
	assert.Equal(t, sigNone, c.catch(c.checkInterrupts))
	assert.Equal(t, 1, s.ch.Len())
	assert.NotZero(t, c.pending.Load()&pendIO)

	c.cregs[6] = 0x10000000
	assert.Equal(t, sigProgramCheck, c.catch(c.checkInterrupts))
	assert.Equal(t, uint32(0x00010005), s.word(0xb8))
	assert.Equal(t, 0, s.ch.Len())

	c.PSW.SysMask = psw.MaskIO
	assert.Equal(t, sigNone, c.catch(c.checkInterrupts))
	assert.Zero(t, c.pending.Load()&pendIO)
}

// System/370 BC mode takes channels from the system mask.
func TestIODeliveryBC(t *testing.T) {
	s := newTestSystem(t, arch.S370, 1)
	c := s.cpus[0]
	require.NoError(t, s.StartCPU(0))
	c.PSW.SysMask = 0x40
	s.ch.Post(channel.Interrupt{SSID: 0x0000, ISC: 0})
	s.ch.Post(channel.Interrupt{SSID: 0x0180, ISC: 1})
	s.WakeIO()

	assert.Equal(t, sigProgramCheck, c.catch(c.checkInterrupts))
	assert.Equal(t, uint32(0x40000180), s.word(0x38))
	assert.Equal(t, 1, s.ch.Len())
}

// System damage checkstops the CPU after the interruption.
func TestMachineCheckDamage(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	require.NoError(t, s.StartCPU(0))
	c.PSW.MCheck = true
	c.regs[5] = 0x55aa55aa
	s.mck.Post(0, mcheck.Condition{MCIC: mcheck.SystemDamage, FailAddr: 0x1234})
	s.WakeMachineCheck(0)

	assert.Equal(t, sigProgramCheck, c.catch(c.checkInterrupts))
	assert.True(t, c.checkstop)
	assert.Equal(t, Stopping, c.state)
	assert.Equal(t, uint64(1), c.counts[arch.MachineCheck].Load())
	mcic, _ := s.mem.GetDouble(0xe8)
	assert.Equal(t, mcheck.SystemDamage|mcheck.RegValid, mcic)
	assert.Equal(t, uint32(0x1234), s.word(0xf8))
	assert.Equal(t, uint32(0x55aa55aa), s.word(0x180+5*4))
	assert.False(t, s.mck.Pending(0))
}

// A recoverable condition waits until the CPU is enabled.
func TestMachineCheckMasked(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	require.NoError(t, s.StartCPU(0))
	s.mck.Post(0, mcheck.Condition{MCIC: mcheck.Warning})
	s.WakeMachineCheck(0)

	assert.Equal(t, sigNone, c.catch(c.checkInterrupts))
	assert.True(t, s.mck.Pending(0))

	c.PSW.MCheck = true
	assert.Equal(t, sigProgramCheck, c.catch(c.checkInterrupts))
	assert.False(t, c.checkstop)
	assert.Equal(t, Started, c.state)
}

// Restart moves a stopped CPU to the started state.
func TestRestartStopped(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	require.Equal(t, Stopped, c.state)
	require.NoError(t, s.RestartCPU(0))

	assert.Equal(t, sigProgramCheck, c.catch(c.checkInterrupts))
	assert.Equal(t, Started, c.state)
	assert.Equal(t, uint64(1), s.Started())
	assert.Equal(t, trapAddr, c.PSW.IA)
	assert.Equal(t, uint32(0x80000400), s.word(0x0c))
	assert.Equal(t, uint64(1), c.counts[arch.Restart].Load())
	assert.Zero(t, c.pending.Load()&pendRestart)
}

// PER event without an exception.
func TestPERBranch(t *testing.T) {
	s := newTestSystem(t, arch.ESA390, 1)
	c := s.cpus[0]
	s.load(t, 0x400, 0x47, 0xf0, 0x05, 0x00) // B 0x500
	c.PSW.SysMask = psw.MaskPER
	c.cregs[9] = cr9Branch
	require.True(t, run(c, 0x400, 1))
	assert.Equal(t, arch.PgmPER, s.half(0x8e))
	assert.Equal(t, perBranch, s.half(0x96))
	assert.Equal(t, uint32(0x400), s.word(0x98))
	assert.Equal(t, uint32(0x80000500), s.word(0x2c))
}
