/*
 * S390 - System configuration file.
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
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rcornwell/S390/emu/arch"
	"github.com/rcornwell/S390/emu/cpu"
	"github.com/rcornwell/S390/emu/memory"
	"gopkg.in/yaml.v3"
)

var (
	ErrStorage = errors.New("invalid storage size")
	ErrPSW     = errors.New("invalid psw")
)

// Size is a storage size written as a number with an optional K or M
// suffix.
type Size uint64

func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	v, err := ParseSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*s = v
	return nil
}

// ParseSize converts "16M", "512K" or a plain byte count.
func ParseSize(text string) (Size, error) {
	text = strings.ToUpper(strings.TrimSpace(text))
	mult := uint64(1)
	switch {
	case strings.HasSuffix(text, "K"):
		mult = 1024
		text = strings.TrimSuffix(text, "K")
	case strings.HasSuffix(text, "M"):
		mult = 1024 * 1024
		text = strings.TrimSuffix(text, "M")
	}
	n, err := strconv.ParseUint(text, 0, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrStorage, text)
	}
	return Size(n * mult), nil
}

// Image is a file loaded into storage before the CPUs start.
type Image struct {
	File string `yaml:"file"`
	Addr uint64 `yaml:"addr"`
}

// Config is the contents of the configuration file.
type Config struct {
	CPUs      int           `yaml:"cpus"`
	Storage   Size          `yaml:"storage"`
	Arch      string        `yaml:"arch"`
	LogFile   string        `yaml:"logfile"`
	DebugFile string        `yaml:"debugfile"`
	Trace     []string      `yaml:"trace"`
	Timer     time.Duration `yaml:"timer"`
	Load      []Image       `yaml:"load"`
	PSW       string        `yaml:"psw"`
}

// Default configuration: one ESA/390 CPU with 16M of storage.
func Default() *Config {
	return &Config{
		CPUs:    1,
		Storage: 16 * 1024 * 1024,
		Arch:    "390",
	}
}

// Parse reads a configuration from YAML text.  Missing values keep
// their defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile reads and checks a configuration file.
func LoadConfigFile(name string) (*Config, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Validate checks values that can be checked without building the
// system.
func (cfg *Config) Validate() error {
	if cfg.CPUs < 1 || cfg.CPUs > 64 {
		return fmt.Errorf("config: %w: %d", cpu.ErrCPUCount, cfg.CPUs)
	}
	if _, err := cfg.Kind(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cpu.TraceMask(cfg.Trace); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.PSWImage(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Timer < 0 {
		return fmt.Errorf("config: negative timer interval %v", cfg.Timer)
	}
	return nil
}

// Kind returns the configured architecture.
func (cfg *Config) Kind() (arch.Kind, error) {
	return arch.Parse(cfg.Arch)
}

// PSWImage returns the initial PSW bytes, nil if none is configured.
func (cfg *Config) PSWImage() ([]byte, error) {
	text := strings.ReplaceAll(strings.TrimSpace(cfg.PSW), " ", "")
	if text == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(text)
	if err != nil || (len(b) != 8 && len(b) != 16) {
		return nil, fmt.Errorf("%w: %q", ErrPSW, cfg.PSW)
	}
	return b, nil
}

// Build creates the system described by the configuration, loads the
// images and sets the PSW of CPU 0.
func (cfg *Config) Build(log *slog.Logger) (*cpu.System, error) {
	k, err := cfg.Kind()
	if err != nil {
		return nil, err
	}
	trace, err := cpu.TraceMask(cfg.Trace)
	if err != nil {
		return nil, err
	}
	mem, err := memory.New(uint64(cfg.Storage))
	if err != nil {
		return nil, fmt.Errorf("storage %d: %w", cfg.Storage, err)
	}
	sys, err := cpu.New(cpu.Config{
		CPUs:    cfg.CPUs,
		Arch:    k,
		Storage: mem,
		Logger:  log,
		Trace:   trace,
	})
	if err != nil {
		return nil, err
	}
	for _, img := range cfg.Load {
		if err := LoadImage(mem, img.File, img.Addr); err != nil {
			return nil, err
		}
	}
	p, err := cfg.PSWImage()
	if err != nil {
		return nil, err
	}
	if p != nil {
		if err := sys.LoadPSW(0, p); err != nil {
			return nil, fmt.Errorf("psw: %w", err)
		}
	}
	return sys, nil
}

// LoadImage copies a file into storage at addr.
func LoadImage(mem *memory.Storage, name string, addr uint64) error {
	data, err := os.ReadFile(name)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	if err := mem.Load(addr, data); err != nil {
		return fmt.Errorf("load %s at %x: %w", name, addr, err)
	}
	slog.Info("Loaded image", "file", name, "addr", strconv.FormatUint(addr, 16), "size", len(data))
	return nil
}
