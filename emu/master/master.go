/*
 * S390 - Operator messages to the system.
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

package master

import "time"

// Message types.
const (
	Start     = 1 + iota // Start CPU
	Stop                 // Stop CPU
	Restart              // Restart interruption
	IntKey               // Interrupt key
	Checkstop            // System checkstop
	SetArch              // Change architecture
	TimeClock            // Timer tick
	Shutdown             // Stop simulator
)

var msgName = map[int]string{
	Start:     "start",
	Stop:      "stop",
	Restart:   "restart",
	IntKey:    "interrupt key",
	Checkstop: "checkstop",
	SetArch:   "set architecture",
	TimeClock: "time clock",
	Shutdown:  "shutdown",
}

// Packet is a request sent on the master channel.
type Packet struct {
	Msg     int           // Message type.
	CPU     int           // Target CPU, AllCPU for every CPU.
	Arch    int           // Architecture kind for SetArch.
	Elapsed time.Duration // Time since last tick for TimeClock.
	Reason  string        // Checkstop reason.
}

// AllCPU selects every configured CPU.
const AllCPU = -1

// MsgName returns the name of a message type.
func MsgName(msg int) string {
	if name, ok := msgName[msg]; ok {
		return name
	}
	return "unknown"
}
