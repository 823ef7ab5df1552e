/*
 * S390 - CPU timers and TOD clock.
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
	"time"

	"github.com/rcornwell/S390/emu/arch"
)

// IBM measures time from 1900, Unix starts at 1970.  Number of years
// from 1900 to 1970 plus 17 leap days, in microseconds.
const epoch1900 int64 = ((70 * 365) + 17) * 86400 * 1000000

// Microseconds since 1900.
func todNow() int64 {
	return time.Now().UnixMicro() + epoch1900
}

// TOD returns the time of day clock.  Bit 51 is one microsecond.
func (s *System) TOD() uint64 {
	return uint64(todNow()+s.todOffset.Load()) << 12
}

// Set the TOD clock.
func (s *System) setTOD(v uint64) {
	s.todOffset.Store(int64(v>>12) - todNow())
}

// UpdateTimers is called on every clock tick.  It steps the CPU timer of
// each started CPU, checks the clock comparators and on System/370
// counts down the interval timer in low storage.
func (s *System) UpdateTimers(elapsed time.Duration) {
	tod := s.TOD()
	dec := elapsed.Microseconds() << 12
	started := s.started.Load()
	s370 := s.Arch().Kind == arch.S370
	for _, c := range s.cpus {
		if (started & (1 << c.addr)) == 0 {
			continue
		}
		var irq uint32
		if c.cpuTimer.Add(-dec) < 0 {
			irq |= pendCPUTimer
		}
		if tod > c.clkComp.Load() {
			irq |= pendClkComp
		}
		if s370 && s.stepInterval(c, elapsed) {
			irq |= pendInterval
		}
		if irq != 0 && (c.pending.Load()&irq) != irq {
			s.post(c, irq)
		}
	}
}

// Count down the interval timer.  Bit 23 is 1/300 of a second.  Returns
// true when the value goes from positive to negative.
func (s *System) stepInterval(c *CPU, elapsed time.Duration) bool {
	addr := c.lowBase.Load() + arch.Get(arch.S370).Low.Timer
	old, err := s.mem.GetWord(addr)
	if err {
		return false
	}
	t := old - uint32(elapsed.Microseconds()*0x100/3333)
	s.mem.PutWord(addr, t)
	return int32(old) >= 0 && int32(t) < 0
}
