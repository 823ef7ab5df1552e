/*
 * S390 - System context.
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
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/channel"
	"github.com/rcornwell/S390/emu/mcheck"
	"github.com/rcornwell/S390/emu/memory"
	"github.com/rcornwell/S390/emu/psw"
)

var (
	ErrNoCPU       = errors.New("cpu not configured")
	ErrNotStopped  = errors.New("cpu not stopped")
	ErrCPUCount    = errors.New("invalid number of cpus")
	ErrTraceOption = errors.New("unknown trace option")
)

// Translator converts a virtual address to an absolute address.  It
// returns a program interruption code on failure.
type Translator interface {
	Translate(c *CPU, addr uint64, arn int, acc Access, key uint8) (uint64, uint16)
}

// IOSource supplies pending I/O interruptions.
type IOSource interface {
	Dequeue(mask uint8, zone uint8) (channel.Interrupt, bool)
	Pending(mask uint8, zone uint8) bool
}

// MachineCheckSource supplies pending machine check conditions.
type MachineCheckSource interface {
	Dequeue(cpu int) (mcheck.Condition, bool)
	Pending(cpu int) bool
}

// Config holds what is needed to build a System.
type Config struct {
	CPUs       int
	Arch       arch.Kind
	Storage    *memory.Storage
	IO         IOSource
	MCheck     MachineCheckSource
	Translator Translator
	Logger     *slog.Logger
	Trace      int // Debug trace mask
}

// System is the state shared by all CPUs.
type System struct {
	log   *slog.Logger
	mem   *memory.Storage
	cpus  []*CPU
	archp atomic.Pointer[arch.Arch]
	xlate Translator
	io    IOSource
	mck   MachineCheckSource

	intMu     sync.Mutex   // Interrupt lock
	intOwner  atomic.Int32 // Holder of interrupt lock
	mainMu    sync.Mutex   // Main storage lock
	mainOwner atomic.Int32 // Holder of main storage lock

	configured uint64        // CPUs configured
	started    atomic.Uint64 // CPUs not stopped
	waiting    atomic.Uint64 // CPUs in enabled wait
	service    atomic.Uint32 // Service signal parameter
	todOffset  atomic.Int64  // Microseconds added by SET CLOCK
}

// Identity used when the operator takes the interrupt lock.
const adminOwner int32 = maxCPU

// New creates a System with all CPUs stopped.
func New(cfg Config) (*System, error) {
	if cfg.CPUs < 1 || cfg.CPUs > maxCPU {
		return nil, ErrCPUCount
	}
	if cfg.Storage == nil {
		return nil, memory.ErrSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Translator == nil {
		cfg.Translator = DefaultTranslator{}
	}
	if cfg.IO == nil {
		cfg.IO = channel.New()
	}
	if cfg.MCheck == nil {
		cfg.MCheck = mcheck.New()
	}
	s := &System{
		log:   cfg.Logger,
		mem:   cfg.Storage,
		xlate: cfg.Translator,
		io:    cfg.IO,
		mck:   cfg.MCheck,
	}
	s.intOwner.Store(noOwner)
	s.mainOwner.Store(noOwner)
	a := arch.Get(cfg.Arch)
	s.archp.Store(a)
	s.cpus = make([]*CPU, cfg.CPUs)
	for i := range cfg.CPUs {
		c := s.newCPU(i, a)
		c.trace = cfg.Trace
		s.cpus[i] = c
		s.configured |= 1 << i
	}
	return s, nil
}

func (s *System) newCPU(n int, a *arch.Arch) *CPU {
	c := &CPU{
		sys:         s,
		addr:        n,
		arch:        a,
		table:       tableFor(a),
		log:         s.log.With("cpu", n),
		state:       Stopped,
		extCallFrom: -1,
	}
	c.wake = sync.NewCond(&s.intMu)
	c.reset()
	return c
}

// Arch returns the active profile.
func (s *System) Arch() *arch.Arch {
	return s.archp.Load()
}

// Storage returns main storage.
func (s *System) Storage() *memory.Storage {
	return s.mem
}

// NumCPU returns the number of configured CPUs.
func (s *System) NumCPU() int {
	return len(s.cpus)
}

// CPU returns a configured CPU.
func (s *System) CPU(n int) (*CPU, error) {
	if n < 0 || n >= len(s.cpus) {
		return nil, ErrNoCPU
	}
	return s.cpus[n], nil
}

// Started returns the mask of started CPUs.
func (s *System) Started() uint64 {
	return s.started.Load()
}

// Waiting returns the mask of CPUs in an enabled wait.
func (s *System) Waiting() uint64 {
	return s.waiting.Load()
}

// IntLockOwner returns the holder of the interrupt lock or -1.
func (s *System) IntLockOwner() int {
	return int(s.intOwner.Load())
}

func (s *System) obtainIntLock(id int32) {
	s.intMu.Lock()
	s.intOwner.Store(id)
}

func (s *System) releaseIntLock(id int32) {
	if s.intOwner.Load() != id {
		return
	}
	s.intOwner.Store(noOwner)
	s.intMu.Unlock()
}

func (s *System) obtainMainLock(id int32) {
	s.mainMu.Lock()
	s.mainOwner.Store(id)
}

func (s *System) releaseMainLock(id int32) {
	if s.mainOwner.Load() != id {
		return
	}
	s.mainOwner.Store(noOwner)
	s.mainMu.Unlock()
}

// Release both locks if held by c.
func (s *System) releaseLocks(c *CPU) {
	s.releaseMainLock(c.lockID())
	s.releaseIntLock(c.lockID())
}

// Block c until signalled.  Caller holds the interrupt lock.
func (s *System) waitIntLock(c *CPU) {
	s.intOwner.Store(noOwner)
	c.wake.Wait()
	s.intOwner.Store(c.lockID())
}

// Must hold interrupt lock.
func (s *System) setStarted(c *CPU, on bool) {
	bit := uint64(1) << c.addr
	for {
		old := s.started.Load()
		n := old &^ bit
		if on {
			n |= bit
		}
		if s.started.CompareAndSwap(old, n) {
			s.mem.SetConcurrent(bits.OnesCount64(n) > 1)
			return
		}
	}
}

func (s *System) setWaiting(c *CPU, on bool) {
	bit := uint64(1) << c.addr
	for {
		old := s.waiting.Load()
		n := old &^ bit
		if on {
			n |= bit
		}
		if s.waiting.CompareAndSwap(old, n) {
			return
		}
	}
}

// Post a pending bit to a CPU and wake it.  Caller holds the interrupt lock.
func (s *System) signalLocked(c *CPU, bit uint32) {
	c.pending.Or(bit)
	c.wake.Signal()
}

// Post sets a pending bit and wakes the CPU.
func (s *System) post(c *CPU, bit uint32) {
	s.obtainIntLock(adminOwner)
	s.signalLocked(c, bit)
	s.releaseIntLock(adminOwner)
}

// WakeIO notes a new I/O interruption on all CPUs.
func (s *System) WakeIO() {
	s.obtainIntLock(adminOwner)
	for _, c := range s.cpus {
		s.signalLocked(c, pendIO)
	}
	s.releaseIntLock(adminOwner)
}

// WakeMachineCheck notes a new machine check for one CPU.
func (s *System) WakeMachineCheck(n int) {
	if c, err := s.CPU(n); err == nil {
		s.post(c, pendMCK)
	}
}

// ServiceSignal posts a service signal external interruption to all CPUs.
func (s *System) ServiceSignal(parm uint32) {
	s.service.Store(parm)
	s.obtainIntLock(adminOwner)
	for _, c := range s.cpus {
		s.signalLocked(c, pendService)
	}
	s.releaseIntLock(adminOwner)
}

// InterruptKey posts an interrupt key external interruption.
func (s *System) InterruptKey(n int) error {
	c, err := s.CPU(n)
	if err != nil {
		return err
	}
	s.post(c, pendIntKey)
	return nil
}

// StartCPU moves a stopped CPU to the started state.
func (s *System) StartCPU(n int) error {
	c, err := s.CPU(n)
	if err != nil {
		return err
	}
	s.obtainIntLock(adminOwner)
	defer s.releaseIntLock(adminOwner)
	c.pending.And(^pendStop)
	c.intervening = false
	c.checkstop = false
	if c.state != Started {
		c.state = Started
		s.setStarted(c, true)
		s.log.Info("CPU started", "cpu", n)
	}
	c.wake.Signal()
	return nil
}

// StopCPU asks a CPU to stop at the end of the current instruction.
func (s *System) StopCPU(n int) error {
	c, err := s.CPU(n)
	if err != nil {
		return err
	}
	s.obtainIntLock(adminOwner)
	defer s.releaseIntLock(adminOwner)
	c.intervening = true
	s.signalLocked(c, pendStop)
	return nil
}

// RestartCPU presents a restart interruption to a CPU.
func (s *System) RestartCPU(n int) error {
	c, err := s.CPU(n)
	if err != nil {
		return err
	}
	s.post(c, pendRestart)
	return nil
}

// Checkstop stops every CPU without delivering any interruption.
func (s *System) Checkstop(reason string) {
	s.obtainIntLock(adminOwner)
	defer s.releaseIntLock(adminOwner)
	s.checkstopLocked(reason)
}

func (s *System) checkstopLocked(reason string) {
	s.log.Error("System checkstop", "reason", reason)
	for _, c := range s.cpus {
		c.checkstop = true
		if c.state == Started {
			c.state = Stopping
		}
		s.signalLocked(c, pendStop)
	}
}

// SetArchitecture changes the system profile.  Every CPU switches at its
// next interruption check.
func (s *System) SetArchitecture(k arch.Kind) {
	s.obtainIntLock(adminOwner)
	defer s.releaseIntLock(adminOwner)
	s.setArchLocked(k)
}

func (s *System) setArchLocked(k arch.Kind) {
	a := arch.Get(k)
	if s.archp.Swap(a) == a {
		return
	}
	s.log.Info("Architecture mode set", "arch", a.Name)
	for _, c := range s.cpus {
		s.signalLocked(c, pendArch)
	}
}

// Shutdown tells every CPU worker to exit.
func (s *System) Shutdown() {
	s.obtainIntLock(adminOwner)
	defer s.releaseIntLock(adminOwner)
	for _, c := range s.cpus {
		s.signalLocked(c, pendExit)
	}
}

// LoadPSW sets the PSW of a stopped CPU from a stored image.
func (s *System) LoadPSW(n int, image []byte) error {
	c, err := s.CPU(n)
	if err != nil {
		return err
	}
	s.obtainIntLock(adminOwner)
	defer s.releaseIntLock(adminOwner)
	if c.state != Stopped {
		return ErrNotStopped
	}
	a := s.Arch()
	if len(image) < a.PSWLen {
		return fmt.Errorf("psw needs %d bytes", a.PSWLen)
	}
	p, code := psw.Decode(a, image)
	if code != 0 {
		return fmt.Errorf("invalid psw: code %04x", code)
	}
	c.setPSW(p)
	return nil
}

// ResetCPU does a CPU reset on a stopped CPU.
func (s *System) ResetCPU(n int) error {
	c, err := s.CPU(n)
	if err != nil {
		return err
	}
	s.obtainIntLock(adminOwner)
	defer s.releaseIntLock(adminOwner)
	if c.state != Stopped {
		return ErrNotStopped
	}
	c.reset()
	return nil
}

// Status is a snapshot of one CPU for display.
type Status struct {
	Addr      int
	State     RunState
	Waiting   bool
	Checkstop bool
	Arch      string
	PSW       []byte
	Regs      [16]uint64
	CRegs     [16]uint64
	Prefix    uint64
	Counts    [arch.NumClasses]uint64
	Insts     uint64
}

// Status returns a snapshot of a CPU.  Registers are only consistent when
// the CPU is stopped.
func (s *System) Status(n int) (Status, error) {
	c, err := s.CPU(n)
	if err != nil {
		return Status{}, err
	}
	s.obtainIntLock(adminOwner)
	defer s.releaseIntLock(adminOwner)
	st := Status{
		Addr:      n,
		State:     c.state,
		Waiting:   c.waiting,
		Checkstop: c.checkstop,
		Arch:      c.arch.Name,
		Regs:      c.regs,
		CRegs:     c.cregs,
		Prefix:    c.prefix,
		Insts:     c.instCount.Load(),
	}
	for i := range st.Counts {
		st.Counts[i] = c.counts[i].Load()
	}
	st.PSW = make([]byte, c.arch.PSWLen)
	p := c.PSW
	if c.iaPending {
		p.IA += uint64(c.ilc)
	}
	psw.Encode(c.arch, &p, st.PSW)
	return st, nil
}
