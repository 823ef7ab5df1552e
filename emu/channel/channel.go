/*
 * S390 - Pending I/O interruption queue.
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

// Package channel holds the I/O interruptions posted by the channel
// subsystem until a CPU that is enabled for them takes one.
package channel

import (
	"sync"
)

// NumISC is the number of I/O interruption subclasses.
const NumISC = 8

// Interrupt is one queued I/O interruption.
type Interrupt struct {
	SSID  uint32 // Subchannel id, device address on S/370
	Parm  uint32 // Interruption parameter
	Ident uint32 // Interruption identification word
	ISC   uint8  // Subclass, or channel number on S/370
	Zone  uint8  // Zone of the guest owning the subchannel
}

// Subsystem queues interruptions by subclass.  Subclass 0 has the highest
// priority.
type Subsystem struct {
	mu     sync.Mutex
	queue  [NumISC][]Interrupt
	count  int
	notify func()
}

// New creates an empty queue.
func New() *Subsystem {
	return &Subsystem{}
}

// SetNotify sets the function called after an interruption is posted.
func (s *Subsystem) SetNotify(fn func()) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// Post queues an interruption and signals the CPUs.
func (s *Subsystem) Post(irq Interrupt) {
	s.mu.Lock()
	isc := irq.ISC & (NumISC - 1)
	irq.ISC = isc
	s.queue[isc] = append(s.queue[isc], irq)
	s.count++
	fn := s.notify
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Scan queues in priority order for the first interruption allowed by
// mask.  Bit 0x80 of mask enables subclass 0.
func (s *Subsystem) scan(mask uint8, zone uint8) (int, int) {
	for i := range NumISC {
		imask := uint8(0x80) >> i
		if (imask & mask) == 0 {
			continue
		}
		for j, irq := range s.queue[i] {
			if irq.Zone == zone {
				return i, j
			}
		}
	}
	return -1, -1
}

// Dequeue removes and returns the first interruption allowed by mask for
// the given zone.
func (s *Subsystem) Dequeue(mask uint8, zone uint8) (Interrupt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return Interrupt{}, false
	}
	i, j := s.scan(mask, zone)
	if i < 0 {
		return Interrupt{}, false
	}
	irq := s.queue[i][j]
	s.queue[i] = append(s.queue[i][:j], s.queue[i][j+1:]...)
	s.count--
	return irq, true
}

// Pending reports whether an interruption allowed by mask is queued.
func (s *Subsystem) Pending(mask uint8, zone uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return false
	}
	i, _ := s.scan(mask, zone)
	return i >= 0
}

// Len returns the number of queued interruptions.
func (s *Subsystem) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Reset drops all queued interruptions.
func (s *Subsystem) Reset() {
	s.mu.Lock()
	for i := range s.queue {
		s.queue[i] = nil
	}
	s.count = 0
	s.mu.Unlock()
}
