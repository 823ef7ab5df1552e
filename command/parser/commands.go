/*
 * S390 - Operator commands.
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

package parser

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	config "github.com/rcornwell/S390/config/sysconfig"
	"github.com/rcornwell/S390/emu/arch"
	core "github.com/rcornwell/S390/emu/core"
	"github.com/rcornwell/S390/emu/cpu"
	"github.com/rcornwell/S390/emu/master"
	"github.com/rcornwell/S390/util/hex"
)

// Largest area display will dump.
const maxDisplay = 4096

var cmdList = []cmd{
	{Name: "start", Min: 3, Process: start, Complete: cpuComplete},
	{Name: "stop", Min: 3, Process: stop, Complete: cpuComplete},
	{Name: "restart", Min: 4, Process: restart, Complete: cpuComplete},
	{Name: "reset", Min: 5, Process: reset, Complete: cpuComplete},
	{Name: "interrupt", Min: 3, Process: interrupt, Complete: cpuComplete},
	{Name: "show", Min: 2, Process: show, Complete: showComplete},
	{Name: "display", Min: 1, Process: display},
	{Name: "load", Min: 2, Process: load},
	{Name: "psw", Min: 2, Process: setPSW},
	{Name: "arch", Min: 2, Process: setArch, Complete: archComplete},
	{Name: "checkstop", Min: 2, Process: checkstop},
	{Name: "quit", Min: 4, Process: quit},
}

var showList = []string{"arch", "cpus", "cregs", "ints", "psw", "regs"}

var archList = []string{"370", "390", "z"}

// Get optional CPU number, default CPU 0.  When all is set the word
// "all" selects every CPU.
func (line *cmdLine) getCPU(sys *cpu.System, all bool) (int, error) {
	if line.atEnd() {
		return 0, nil
	}
	pos := line.pos
	if all && line.getWord() == "all" {
		return master.AllCPU, nil
	}
	line.pos = pos
	n, err := line.getNumber()
	if err != nil {
		return 0, errors.New("cpu must be a number")
	}
	if n >= sys.NumCPU() {
		return 0, fmt.Errorf("%w: %d", cpu.ErrNoCPU, n)
	}
	return n, nil
}

// Get CPU number and check nothing follows it.
func (line *cmdLine) getLastCPU(sys *cpu.System, all bool) (int, error) {
	n, err := line.getCPU(sys, all)
	if err != nil {
		return 0, err
	}
	if !line.atEnd() {
		return 0, errExtra
	}
	return n, nil
}

// Handle start command.
func start(line *cmdLine, core *core.Core, _ io.Writer) (bool, error) {
	slog.Debug("Command Start")
	n, err := line.getLastCPU(core.System(), true)
	if err != nil {
		return false, err
	}
	return false, core.SendStart(n)
}

// Handle stop command.
func stop(line *cmdLine, core *core.Core, _ io.Writer) (bool, error) {
	slog.Debug("Command Stop")
	n, err := line.getLastCPU(core.System(), true)
	if err != nil {
		return false, err
	}
	return false, core.SendStop(n)
}

// Handle restart command.
func restart(line *cmdLine, core *core.Core, _ io.Writer) (bool, error) {
	slog.Debug("Command Restart")
	n, err := line.getLastCPU(core.System(), false)
	if err != nil {
		return false, err
	}
	return false, core.SendRestart(n)
}

// Handle reset command.
func reset(line *cmdLine, core *core.Core, _ io.Writer) (bool, error) {
	slog.Debug("Command Reset")
	n, err := line.getLastCPU(core.System(), false)
	if err != nil {
		return false, err
	}
	return false, core.System().ResetCPU(n)
}

// Handle interrupt key.
func interrupt(line *cmdLine, core *core.Core, _ io.Writer) (bool, error) {
	slog.Debug("Command Interrupt")
	n, err := line.getLastCPU(core.System(), false)
	if err != nil {
		return false, err
	}
	return false, core.SendIntKey(n)
}

// Handle show command.
func show(line *cmdLine, core *core.Core, out io.Writer) (bool, error) {
	slog.Debug("Command Show")
	sys := core.System()
	what := line.getWord()
	if what == "" {
		return false, errors.New("show requires: " + strings.Join(showList, ", "))
	}

	switch what {
	case "arch":
		if !line.atEnd() {
			return false, errExtra
		}
		fmt.Fprintln(out, sys.Arch().Name)
		return false, nil
	case "cpus":
		if !line.atEnd() {
			return false, errExtra
		}
		for n := range sys.NumCPU() {
			st, err := sys.Status(n)
			if err != nil {
				return false, err
			}
			fmt.Fprintln(out, formatStatus(st))
		}
		return false, nil
	}

	n, err := line.getLastCPU(sys, false)
	if err != nil {
		return false, err
	}
	st, err := sys.Status(n)
	if err != nil {
		return false, err
	}
	var str strings.Builder
	switch what {
	case "psw":
		str.WriteString("PSW ")
		hex.FormatBytes(&str, false, st.PSW)
		str.WriteByte('\n')
	case "regs":
		formatRegs(&str, "R", st.Regs, sys.Arch().Wide())
	case "cregs":
		formatRegs(&str, "C", st.CRegs, sys.Arch().Wide())
	case "ints":
		for cl, count := range st.Counts {
			fmt.Fprintf(&str, "%-14s %d\n", arch.Class(cl).String(), count)
		}
	default:
		return false, errors.New("show option not valid: " + what)
	}
	_, err = io.WriteString(out, str.String())
	return false, err
}

// One line summary of a CPU.
func formatStatus(st cpu.Status) string {
	var str strings.Builder
	fmt.Fprintf(&str, "CPU %d %-8s %-7s", st.Addr, st.State, st.Arch)
	if st.Waiting {
		str.WriteString(" wait")
	}
	if st.Checkstop {
		str.WriteString(" checkstop")
	}
	str.WriteString(" PSW=")
	hex.FormatBytes(&str, false, st.PSW)
	str.WriteString(" insts=" + strconv.FormatUint(st.Insts, 10))
	return str.String()
}

// Registers four to a line.
func formatRegs(str *strings.Builder, prefix string, regs [16]uint64, wide bool) {
	for i := 0; i < 16; i += 4 {
		fmt.Fprintf(str, "%s%-2d ", prefix, i)
		if wide {
			hex.FormatDouble(str, regs[i:i+4])
		} else {
			var w [4]uint32
			for j := range w {
				w[j] = uint32(regs[i+j])
			}
			hex.FormatWord(str, w[:])
		}
		str.WriteByte('\n')
	}
}

// Handle display of storage: display addr [length] [real] [cpu n].
func display(line *cmdLine, core *core.Core, out io.Writer) (bool, error) {
	slog.Debug("Command Display")
	sys := core.System()
	addr, err := line.getHex()
	if err != nil {
		return false, errors.New("display requires a hexadecimal address")
	}
	length := uint64(64)
	if l, err := line.getHex(); err == nil {
		length = l
	}
	if length == 0 || length > maxDisplay {
		return false, fmt.Errorf("display length must be 1 to %x", maxDisplay)
	}
	realAddr := false
	n := 0
	for !line.atEnd() {
		switch line.getWord() {
		case "real":
			realAddr = true
		case "cpu":
			n, err = line.getCPU(sys, false)
			if err != nil {
				return false, err
			}
		default:
			return false, errExtra
		}
	}

	data, err := sys.DiagnosticFetch(n, addr, int(length), realAddr)
	if err != nil {
		return false, err
	}
	var str strings.Builder
	hex.Dump(&str, addr, data)
	_, err = io.WriteString(out, str.String())
	return false, err
}

// Handle load of a file into storage: load file addr.
func load(line *cmdLine, core *core.Core, _ io.Writer) (bool, error) {
	slog.Debug("Command Load")
	file, ok := line.parseQuoteString()
	if !ok || file == "" {
		return false, errors.New("load requires a file name")
	}
	addr, err := line.getHex()
	if err != nil {
		return false, errors.New("load requires a hexadecimal address")
	}
	if !line.atEnd() {
		return false, errExtra
	}
	return false, config.LoadImage(core.System().Storage(), file, addr)
}

// Handle setting the PSW of a stopped CPU: psw hex [hex...] [cpu n].
func setPSW(line *cmdLine, core *core.Core, _ io.Writer) (bool, error) {
	slog.Debug("Command PSW")
	var image []byte
	n := 0
	for !line.atEnd() {
		text := line.getToken()
		if strings.ToLower(text) == "cpu" {
			var err error
			n, err = line.getLastCPU(core.System(), false)
			if err != nil {
				return false, err
			}
			break
		}
		if len(text)%2 != 0 {
			return false, errNotHex
		}
		for i := 0; i < len(text); i += 2 {
			b, err := strconv.ParseUint(text[i:i+2], 16, 8)
			if err != nil {
				return false, errNotHex
			}
			image = append(image, byte(b))
		}
	}
	if len(image) == 0 {
		return false, errors.New("psw requires a hexadecimal value")
	}
	return false, core.System().LoadPSW(n, image)
}

// Handle change of architecture.
func setArch(line *cmdLine, core *core.Core, _ io.Writer) (bool, error) {
	slog.Debug("Command Arch")
	name := line.getToken()
	if !line.atEnd() {
		return false, errExtra
	}
	k, err := arch.Parse(name)
	if err != nil {
		return false, fmt.Errorf("%w: %s", err, name)
	}
	return false, core.SendArch(k)
}

// Handle checkstop command.
func checkstop(line *cmdLine, core *core.Core, _ io.Writer) (bool, error) {
	slog.Debug("Command Checkstop")
	if !line.atEnd() {
		return false, errExtra
	}
	return false, core.SendCheckstop("operator")
}

// Handle quit command.
func quit(_ *cmdLine, _ *core.Core, _ io.Writer) (bool, error) {
	slog.Debug("Command Quit")
	return true, nil
}
