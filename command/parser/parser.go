/*
 * S390 - Command parser.
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
	"io"
	"strings"
	"unicode"

	core "github.com/rcornwell/S390/emu/core"
)

var (
	errNotNumber = errors.New("not a number")
	errNotHex    = errors.New("not a hexadecimal number")
	errExtra     = errors.New("extra text after command")
)

type cmd struct {
	Name     string // Command name.
	Min      int    // Minimum match size.
	Process  func(*cmdLine, *core.Core, io.Writer) (bool, error)
	Complete func(*cmdLine) []string
}

type cmdLine struct {
	line string // Current command.
	pos  int    // Position in line.
}

// Execute the command line given.  Returns true when the simulator
// should exit.
func ProcessCommand(commandLine string, core *core.Core, out io.Writer) (bool, error) {
	line := cmdLine{line: commandLine}
	command := line.getWord()
	if command == "" {
		if !line.isEOL() {
			return false, errors.New("invalid command: " + strings.TrimSpace(commandLine))
		}
		return false, nil
	}

	match := matchList(command)
	if len(match) == 0 {
		return false, errors.New("command not found: " + command)
	}

	if len(match) > 1 {
		return false, errors.New("unique command not found: " + command)
	}

	return match[0].Process(&line, core, out)
}

// Check if command matches at least to minimum length.
func matchCommand(match cmd, command string) bool {
	if len(command) > len(match.Name) {
		return false
	}
	if !strings.HasPrefix(match.Name, command) {
		return false
	}
	return len(command) >= match.Min
}

// Check if command matches one of the commands.
func matchList(command string) []cmd {
	// If command empty just return.
	if command == "" {
		return []cmd{}
	}

	// Try and match one command.
	var match []cmd
	for _, m := range cmdList {
		if matchCommand(m, command) {
			match = append(match, m)
		}
	}
	return match
}

// Skip forward over line until none whitespace character found.
func (line *cmdLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

// Check if at end of line.
func (line *cmdLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}

	return line.line[line.pos] == '#'
}

// Check nothing but space or a comment is left.
func (line *cmdLine) atEnd() bool {
	line.skipSpace()
	return line.isEOL()
}

// Return current character and advance to next.
func (line *cmdLine) getCurrent() byte {
	if line.isEOL() {
		return 0
	}
	by := line.line[line.pos]
	line.pos++
	return by
}

// Collect characters up to the next space.
func (line *cmdLine) getToken() string {
	line.skipSpace()
	start := line.pos
	for !line.isEOL() && !unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
	return line.line[start:line.pos]
}

// Parse string that is "string" or just string.
func (line *cmdLine) parseQuoteString() (string, bool) {
	line.skipSpace()
	inQuote := false
	value := ""

	// If quote, set we are in quoted string
	by := line.getCurrent()
	if by == 0 {
		return "", false
	}

	if by == '"' {
		inQuote = true
		by = line.getCurrent()
	}

	for by != 0 {
		if by == '"' && inQuote {
			by = line.getCurrent()
			// Single quote terminates string, "" is a quote.
			if by != '"' {
				return value, true
			}
		} else if !inQuote && unicode.IsSpace(rune(by)) {
			return value, true
		}

		value += string(by)
		by = line.getCurrent()
	}
	return value, !inQuote
}

// Parse a decimal number.
func (line *cmdLine) getNumber() (int, error) {
	pos := line.pos
	text := line.getToken()
	if text == "" {
		return 0, errNotNumber
	}

	value := 0
	for _, by := range []byte(text) {
		if !unicode.IsDigit(rune(by)) {
			line.pos = pos
			return 0, errNotNumber
		}
		value = (value * 10) + int(by-'0')
	}
	return value, nil
}

const hexDigits = "0123456789abcdef"

// Parse hex number.
func (line *cmdLine) getHex() (uint64, error) {
	pos := line.pos
	text := strings.ToLower(line.getToken())
	if text == "" || len(text) > 16 {
		line.pos = pos
		return 0, errNotHex
	}

	value := uint64(0)
	for _, by := range text {
		digit := strings.IndexRune(hexDigits, by)
		if digit == -1 {
			line.pos = pos
			return 0, errNotHex
		}
		value = (value << 4) + uint64(digit)
	}
	return value, nil
}

// Parse a word of letters, returned in lower case.  Returns an empty
// string and leaves the position alone if the next token is not a word.
func (line *cmdLine) getWord() string {
	pos := line.pos
	text := line.getToken()
	for _, by := range text {
		if !unicode.IsLetter(by) {
			line.pos = pos
			return ""
		}
	}
	return strings.ToLower(text)
}
