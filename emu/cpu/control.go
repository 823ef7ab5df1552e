/*
 * S390 - Control transfer signals.
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
	"fmt"
)

// Reasons the dispatch loop is unwound.
type signal int

const (
	sigNone         signal = iota
	sigProgramCheck        // New PSW loaded, resume at new address
	sigArchSwitch          // Profile changed
	sigThreadExit          // Worker should return
	sigIntercept           // Guest leaves SIE
)

var signalName = [...]string{"none", "program check", "arch switch", "exit", "intercept"}

func (s signal) String() string {
	return signalName[s]
}

// Panic value used to unwind to a dispatch loop.  Only the loop running
// target recovers it.
type control struct {
	sig    signal
	target *CPU
}

// Panic value raised by a diagnostic copy instead of an interruption.
type diagnosticFault struct {
	code uint16
}

// ProgramCheckError is returned by diagnostic accesses that would have
// caused a program interruption.
type ProgramCheckError struct {
	Code uint16
}

func (e *ProgramCheckError) Error() string {
	return fmt.Sprintf("program check %04x", e.Code)
}

// Is matches any ProgramCheckError when the target code is zero.
func (e *ProgramCheckError) Is(target error) bool {
	t, ok := target.(*ProgramCheckError)
	if !ok {
		return false
	}
	return t.Code == 0 || t.Code == e.Code
}

// Unwind to the dispatch loop of this CPU.  Caller must hold no locks.
func (cpu *CPU) transfer(sig signal) {
	panic(control{sig: sig, target: cpu})
}

// Run fn and return the signal that unwound it, if it was meant for this
// CPU.  Anything else keeps going up.
func (cpu *CPU) catch(fn func()) (sig signal) {
	defer func() {
		if r := recover(); r != nil {
			if ctl, ok := r.(control); ok && ctl.target == cpu {
				sig = ctl.sig
				return
			}
			panic(r)
		}
	}()
	fn()
	return sigNone
}
