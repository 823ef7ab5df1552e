/*
 * S390 - Diagnostic storage access.
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

// Detached copy of a CPU for operator access.  Faults raised through
// it come back to the caller instead of interrupting the CPU.
func (cpu *CPU) diagCopy() *CPU {
	s := cpu.sys
	s.obtainIntLock(adminOwner)
	defer s.releaseIntLock(adminOwner)
	return &CPU{
		sys:    s,
		addr:   cpu.addr,
		arch:   cpu.arch,
		table:  cpu.table,
		log:    cpu.log,
		PSW:    cpu.PSW,
		regs:   cpu.regs,
		cregs:  cpu.cregs,
		aregs:  cpu.aregs,
		prefix: cpu.prefix,
		dat:    cpu.dat,
		diag:   true,
	}
}

// DiagnosticFetch reads length bytes as CPU n would see them at addr.
// With real set the address is not translated.  An access the CPU could
// not make is returned as a *ProgramCheckError.
func (s *System) DiagnosticFetch(n int, addr uint64, length int, real bool) (data []byte, err error) {
	c, err := s.CPU(n)
	if err != nil {
		return nil, err
	}
	d := c.diagCopy()
	defer func() {
		if r := recover(); r != nil {
			f, ok := r.(diagnosticFault)
			if !ok {
				panic(r)
			}
			data = nil
			err = &ProgramCheckError{Code: f.code}
		}
	}()

	arn := ArnPrimary
	if real {
		arn = ArnReal
	}
	data = make([]byte, length)
	mask := d.PSW.Mask()
	for off := 0; off < length; {
		a := (addr + uint64(off)) & mask
		l := min(int(pageSize-(a&pageMask)), length-off)
		abs := d.translate(a, arn, AccFetch, 0)
		copy(data[off:off+l], s.mem.Bytes(abs, uint64(l)))
		off += l
	}
	return data, nil
}
