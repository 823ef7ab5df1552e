/*
 * S390 - Program status word codec tests.
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

package psw

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/rcornwell/S390/emu/arch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func image(w ...uint32) []byte {
	b := make([]byte, 4*len(w))
	for i, v := range w {
		binary.BigEndian.PutUint32(b[4*i:], v)
	}
	return b
}

// Any BC mode PSW must survive a round trip.
func TestRoundTripBC(t *testing.T) {
	a := arch.Get(arch.S370)
	r := rand.New(rand.NewSource(370))
	out := make([]byte, 8)
	for range 2000 {
		w1 := r.Uint32() &^ ecBit
		w2 := r.Uint32()
		in := image(w1, w2)
		p, code := Decode(a, in)
		require.Equal(t, uint16(0), code, "w1=%08x w2=%08x", w1, w2)
		Encode(a, &p, out)
		assert.Equal(t, in, out, "w1=%08x w2=%08x", w1, w2)
	}
}

// EC mode PSW with valid reserved bits round trips.
func TestRoundTripEC(t *testing.T) {
	a := arch.Get(arch.S370)
	r := rand.New(rand.NewSource(1970))
	out := make([]byte, 8)
	for range 2000 {
		w1 := (r.Uint32() &^ s370EC) | ecBit
		w2 := r.Uint32() &^ s370IA
		in := image(w1, w2)
		p, code := Decode(a, in)
		require.Equal(t, uint16(0), code, "w1=%08x w2=%08x", w1, w2)
		assert.True(t, p.EC)
		Encode(a, &p, out)
		assert.Equal(t, in, out, "w1=%08x w2=%08x", w1, w2)
	}
}

func TestDecode370(t *testing.T) {
	a := arch.Get(arch.S370)
	p, code := Decode(a, image(0xff160012, 0x9b123456))
	assert := assert.New(t)
	assert.Equal(uint16(0), code)
	assert.False(p.EC)
	assert.Equal(uint8(0xff), p.SysMask)
	assert.Equal(uint8(0x10), p.Key)
	assert.True(p.MCheck)
	assert.True(p.Wait)
	assert.False(p.Problem)
	assert.Equal(uint16(0x0012), p.IntCode)
	assert.Equal(uint8(4), p.ILC)
	assert.Equal(uint8(1), p.CC)
	assert.Equal(uint8(0xb), p.ProgMask)
	assert.Equal(uint64(0x123456), p.IA)

	// Reserved bits in EC mode.
	_, code = Decode(a, image(0x000c0001, 0x00001000))
	assert.Equal(arch.PgmSpecification, code)
	_, code = Decode(a, image(0x000c0000, 0x01001000))
	assert.Equal(arch.PgmSpecification, code)
	p, code = Decode(a, image(0x070c2300, 0x00001000))
	assert.Equal(uint16(0), code)
	assert.Equal(uint8(2), p.CC)
	assert.Equal(uint8(3), p.ProgMask)
	assert.True(p.Enabled(MaskDAT | MaskIO | MaskExt))
}

func TestDecode390(t *testing.T) {
	a := arch.Get(arch.ESA390)
	assert := assert.New(t)
	out := make([]byte, 8)

	in := image(0x070c4000, 0x80fedcba)
	p, code := Decode(a, in)
	assert.Equal(uint16(0), code)
	assert.Equal(31, p.AMode)
	assert.Equal(uint8(1), p.AS)
	assert.Equal(uint64(0x00fedcba), p.IA)
	Encode(a, &p, out)
	assert.Equal(in, out)

	// Bit 12 must be one.
	_, code = Decode(a, image(0x07040000, 0x80001000))
	assert.Equal(arch.PgmSpecification, code)

	// 24 bit mode with wide address.
	p, code = Decode(a, image(0x070c0000, 0x01000000))
	assert.Equal(arch.PgmSpecification, code)
	assert.Equal(24, p.AMode)

	// Reserved low byte.
	_, code = Decode(a, image(0x070c0001, 0x00001000))
	assert.Equal(arch.PgmSpecification, code)
}

func TestDecodeZ(t *testing.T) {
	a := arch.Get(arch.ZArch)
	assert := assert.New(t)
	out := make([]byte, 16)

	in := image(0x04040001, 0x80000000, 0x00000001, 0x23456780)
	p, code := Decode(a, in)
	assert.Equal(uint16(0), code)
	assert.Equal(64, p.AMode)
	assert.Equal(uint64(0x0000000123456780), p.IA)
	Encode(a, &p, out)
	assert.Equal(in, out)

	// EA without BA.
	_, code = Decode(a, image(0x04040001, 0x00000000, 0, 0x1000))
	assert.Equal(arch.PgmSpecification, code)

	// Bit 12 must be zero.
	_, code = Decode(a, image(0x040c0000, 0x80000000, 0, 0x1000))
	assert.Equal(arch.PgmSpecification, code)

	// 31 bit mode with 64 bit address.
	_, code = Decode(a, image(0x04040000, 0x80000000, 1, 0x1000))
	assert.Equal(arch.PgmSpecification, code)

	// Bits 33 to 63 reserved.
	_, code = Decode(a, image(0x04040000, 0x80000001, 0, 0x1000))
	assert.Equal(arch.PgmSpecification, code)

	// Short form.
	p, code = DecodeShort(image(0x040c0000, 0x80012340))
	assert.Equal(uint16(0), code)
	assert.Equal(31, p.AMode)
	assert.Equal(uint64(0x12340), p.IA)
	Encode(a, &p, out)
	assert.Equal(image(0x04040000, 0x80000000, 0, 0x00012340), out)

	_, code = DecodeShort(image(0x04040000, 0x80012340))
	assert.Equal(arch.PgmSpecification, code)
}

func TestConvert(t *testing.T) {
	p := PSW{EC: true, AMode: 64, IA: 0x1_0000_1000}
	q := Convert(p, arch.Get(arch.ESA390))
	assert.Equal(t, 31, q.AMode)
	assert.Equal(t, uint64(0x1000), q.IA)

	q = Convert(p, arch.Get(arch.S370))
	assert.Equal(t, 24, q.AMode)
	assert.Equal(t, uint64(0x1000), q.IA)
}
