/*
 * S390 - Machine check conditions.
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

// Package mcheck holds machine check conditions reported against a CPU
// until that CPU is enabled to take them.
package mcheck

import (
	"sync"
)

// MCIC bits.
const (
	SystemDamage   uint64 = 0x8000000000000000 // System damage
	InstDamage     uint64 = 0x4000000000000000 // Instruction processing damage
	SystemRecovery uint64 = 0x2000000000000000 // System recovery
	TimingFacility uint64 = 0x0400000000000000 // Timing facility damage
	ExternalDamage uint64 = 0x0200000000000000 // External damage
	Degradation    uint64 = 0x0080000000000000 // Degradation
	Warning        uint64 = 0x0040000000000000 // Warning
	RegValid       uint64 = 0x00000000fff00000 // Register save areas valid
)

// Condition is one machine check.
type Condition struct {
	MCIC      uint64 // Machine check interruption code
	ExtDamage uint32 // External damage code
	FailAddr  uint64 // Failing storage address
}

// Unrecoverable reports whether the CPU must checkstop after delivery.
func (c Condition) Unrecoverable() bool {
	return (c.MCIC & SystemDamage) != 0
}

// Monitor keeps one queue per CPU.
type Monitor struct {
	mu     sync.Mutex
	queue  map[int][]Condition
	notify func(cpu int)
}

// New creates an empty monitor.
func New() *Monitor {
	return &Monitor{queue: make(map[int][]Condition)}
}

// SetNotify sets the function called after a condition is posted.
func (m *Monitor) SetNotify(fn func(cpu int)) {
	m.mu.Lock()
	m.notify = fn
	m.mu.Unlock()
}

// Post reports a condition against a CPU.
func (m *Monitor) Post(cpu int, cond Condition) {
	m.mu.Lock()
	m.queue[cpu] = append(m.queue[cpu], cond)
	fn := m.notify
	m.mu.Unlock()
	if fn != nil {
		fn(cpu)
	}
}

// Dequeue removes the oldest condition for a CPU.
func (m *Monitor) Dequeue(cpu int) (Condition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue[cpu]
	if len(q) == 0 {
		return Condition{}, false
	}
	cond := q[0]
	if len(q) == 1 {
		delete(m.queue, cpu)
	} else {
		m.queue[cpu] = q[1:]
	}
	return cond, true
}

// Pending reports whether a CPU has a queued condition.
func (m *Monitor) Pending(cpu int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue[cpu]) != 0
}
