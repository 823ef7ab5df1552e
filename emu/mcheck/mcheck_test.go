/*
 * S390 - Machine check condition tests.
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

package mcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueue(t *testing.T) {
	assert := assert.New(t)
	m := New()
	var got []int
	m.SetNotify(func(cpu int) { got = append(got, cpu) })

	m.Post(1, Condition{MCIC: Warning})
	m.Post(1, Condition{MCIC: SystemDamage, FailAddr: 0x1000})
	m.Post(2, Condition{MCIC: Degradation})
	assert.Equal([]int{1, 1, 2}, got)

	assert.False(m.Pending(0))
	assert.True(m.Pending(1))

	c, ok := m.Dequeue(1)
	assert.True(ok)
	assert.False(c.Unrecoverable())
	c, ok = m.Dequeue(1)
	assert.True(ok)
	assert.True(c.Unrecoverable())
	assert.Equal(uint64(0x1000), c.FailAddr)
	_, ok = m.Dequeue(1)
	assert.False(ok)
	assert.True(m.Pending(2))
}
