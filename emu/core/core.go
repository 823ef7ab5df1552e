/*
 * S390 - Core emulator loop.
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

package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/cpu"
	"github.com/rcornwell/S390/emu/master"
	"golang.org/x/sync/errgroup"
)

// ErrStopped is returned when a request is sent after shutdown.
var ErrStopped = errors.New("simulator stopped")

type Core struct {
	wg      sync.WaitGroup
	workers errgroup.Group
	sys     *cpu.System
	log     *slog.Logger
	done    chan struct{} // Signal to shutdown simulator.
	once    sync.Once
	Master  chan master.Packet
}

// Create the core loop for a system.
func New(sys *cpu.System, masterChannel chan master.Packet, log *slog.Logger) *Core {
	if log == nil {
		log = slog.Default()
	}
	return &Core{
		sys:    sys,
		log:    log,
		Master: masterChannel,
		done:   make(chan struct{}),
	}
}

// System returns the system being run.
func (core *Core) System() *cpu.System {
	return core.sys
}

// Start a worker for each CPU then process packets until shutdown.
func (core *Core) Start() {
	core.wg.Add(1)
	defer core.wg.Done()
	for n := range core.sys.NumCPU() {
		c, err := core.sys.CPU(n)
		if err != nil {
			core.log.Error(err.Error())
			continue
		}
		core.workers.Go(func() error {
			c.Run()
			return nil
		})
	}
	for {
		select {
		case <-core.done:
			core.shutdown()
			return
		case packet := <-core.Master:
			if !core.processPacket(packet) {
				core.once.Do(func() { close(core.done) })
				core.shutdown()
				return
			}
		}
	}
}

// Tell the workers to exit and wait for them.
func (core *Core) shutdown() {
	core.sys.Shutdown()
	if err := core.workers.Wait(); err != nil {
		core.log.Error("CPU worker", "error", err)
	}
}

// Stop a running simulator.
func (core *Core) Stop() {
	core.log.Info("Shutting down CPU")
	core.once.Do(func() { close(core.done) })
	done := make(chan struct{})
	go func() {
		core.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(time.Second):
		core.log.Warn("Timed out waiting for CPU to finish.")
		return
	}
}

// Queue a packet unless the simulator has stopped.
func (core *Core) send(packet master.Packet) error {
	select {
	case core.Master <- packet:
		return nil
	case <-core.done:
		return ErrStopped
	}
}

// Start CPU.
func (core *Core) SendStart(n int) error {
	return core.send(master.Packet{Msg: master.Start, CPU: n})
}

// Stop CPU.
func (core *Core) SendStop(n int) error {
	return core.send(master.Packet{Msg: master.Stop, CPU: n})
}

// Restart CPU.
func (core *Core) SendRestart(n int) error {
	return core.send(master.Packet{Msg: master.Restart, CPU: n})
}

// Press the interrupt key.
func (core *Core) SendIntKey(n int) error {
	return core.send(master.Packet{Msg: master.IntKey, CPU: n})
}

// Checkstop the system.
func (core *Core) SendCheckstop(reason string) error {
	return core.send(master.Packet{Msg: master.Checkstop, CPU: master.AllCPU, Reason: reason})
}

// Change architecture.
func (core *Core) SendArch(k arch.Kind) error {
	return core.send(master.Packet{Msg: master.SetArch, CPU: master.AllCPU, Arch: int(k)})
}

// Stop the simulator.
func (core *Core) SendShutdown() error {
	return core.send(master.Packet{Msg: master.Shutdown, CPU: master.AllCPU})
}

// Apply fn to the CPU of the packet, or every CPU.
func (core *Core) forCPU(packet master.Packet, fn func(int) error) {
	first, last := packet.CPU, packet.CPU+1
	if packet.CPU == master.AllCPU {
		first, last = 0, core.sys.NumCPU()
	}
	for n := first; n < last; n++ {
		if err := fn(n); err != nil {
			core.log.Error(fmt.Sprintf("%s: %v", master.MsgName(packet.Msg), err), "cpu", n)
		}
	}
}

// Process a packet sent to system simulation.  Returns false on
// shutdown.
func (core *Core) processPacket(packet master.Packet) bool {
	switch packet.Msg {
	case master.TimeClock:
		core.sys.UpdateTimers(packet.Elapsed)
	case master.Start:
		core.forCPU(packet, core.sys.StartCPU)
	case master.Stop:
		core.forCPU(packet, core.sys.StopCPU)
	case master.Restart:
		core.forCPU(packet, core.sys.RestartCPU)
	case master.IntKey:
		core.forCPU(packet, core.sys.InterruptKey)
	case master.Checkstop:
		core.sys.Checkstop(packet.Reason)
	case master.SetArch:
		core.sys.SetArchitecture(arch.Kind(packet.Arch))
	case master.Shutdown:
		return false
	default:
		core.log.Warn("Unknown packet", "msg", packet.Msg)
	}
	return true
}
