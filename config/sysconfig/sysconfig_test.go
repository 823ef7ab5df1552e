/*
 * S390 - System configuration file tests.
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

package sysconfig

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/cpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
cpus: 2
storage: 512K
arch: z
trace: [inst, irq]
timer: 10ms
debugfile: trace.log
load:
  - file: prog.bin
    addr: 0x400
psw: "00000001 80000000 00000000 00000400"
`))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.CPUs)
	assert.Equal(t, Size(512*1024), cfg.Storage)
	assert.Equal(t, 10*time.Millisecond, cfg.Timer)
	assert.Equal(t, []Image{{File: "prog.bin", Addr: 0x400}}, cfg.Load)
	assert.Equal(t, "trace.log", cfg.DebugFile)
	k, err := cfg.Kind()
	require.NoError(t, err)
	assert.Equal(t, arch.ZArch, k)
	p, err := cfg.PSWImage()
	require.NoError(t, err)
	assert.Len(t, p, 16)
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse([]byte("logfile: s390.log\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.CPUs)
	assert.Equal(t, Size(16*1024*1024), cfg.Storage)
	assert.Equal(t, "s390.log", cfg.LogFile)
	p, err := cfg.PSWImage()
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		text string
		err  error
	}{
		{"cpus", "cpus: 0", cpu.ErrCPUCount},
		{"storage", "storage: 12Q", ErrStorage},
		{"arch", "arch: 360", arch.ErrUnknownArch},
		{"trace", "trace: [dat]", cpu.ErrTraceOption},
		{"psw", "psw: 0008", ErrPSW},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.text))
			assert.ErrorIs(t, err, tc.err)
		})
	}
	_, err := Parse([]byte("cpus: [1"))
	assert.Error(t, err)
}

func TestParseSize(t *testing.T) {
	for text, size := range map[string]Size{
		"4096":   4096,
		"64k":    64 * 1024,
		"2M":     2 * 1024 * 1024,
		"0x1000": 0x1000,
	} {
		s, err := ParseSize(text)
		require.NoError(t, err, text)
		assert.Equal(t, size, s, text)
	}
	_, err := ParseSize("0")
	assert.ErrorIs(t, err, ErrStorage)
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "prog.bin")
	require.NoError(t, os.WriteFile(img, []byte{0x47, 0xf0, 0x04, 0x00}, 0o644))
	cfgFile := filepath.Join(dir, "s390.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
cpus: 2
storage: 64K
arch: 390
load:
  - file: `+img+`
    addr: 0x400
psw: "00080000 80000400"
`), 0o644))

	cfg, err := LoadConfigFile(cfgFile)
	require.NoError(t, err)
	sys, err := cfg.Build(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Equal(t, 2, sys.NumCPU())
	assert.Equal(t, arch.ESA390, sys.Arch().Kind)
	assert.Equal(t, []byte{0x47, 0xf0, 0x04, 0x00}, sys.Storage().Bytes(0x400, 4))
	st, err := sys.Status(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x08, 0x00, 0x00, 0x80, 0x00, 0x04, 0x00}, st.PSW)

	cfg.Load = []Image{{File: filepath.Join(dir, "missing"), Addr: 0}}
	_, err = cfg.Build(nil)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadConfigFile(filepath.Join(dir, "none.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
