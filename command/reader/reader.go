/*
 * S390 - Command reader.
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

package reader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/peterh/liner"
	"github.com/rcornwell/S390/command/parser"
	"github.com/rcornwell/S390/emu/core"
	"golang.org/x/term"
)

// ConsoleReader reads operator commands until quit.  A terminal gets
// line editing, anything else is read as a script.
func ConsoleReader(core *core.Core) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		if err := ScriptReader(os.Stdin, core, os.Stdout); err != nil {
			slog.Error("error reading commands: " + err.Error())
		}
		return
	}

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(line string) []string {
		return parser.CompleteCmd(line)
	})

	for {
		command, err := line.Prompt("S390> ")
		if err == nil {
			line.AppendHistory(command)
			quit, err := parser.ProcessCommand(command, core, os.Stdout)
			if err != nil {
				fmt.Println("Error: " + err.Error())
			}
			if quit {
				return
			}
			continue
		}

		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return
		}
		slog.Error("error reading line: " + err.Error())
		return
	}
}

// ScriptReader runs commands from r until quit or end of input.  Errors
// in commands are reported on out and do not stop the script.
func ScriptReader(r io.Reader, core *core.Core, out io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		quit, err := parser.ProcessCommand(scanner.Text(), core, out)
		if err != nil {
			fmt.Fprintln(out, "Error: "+err.Error())
		}
		if quit {
			return nil
		}
	}
	return scanner.Err()
}
