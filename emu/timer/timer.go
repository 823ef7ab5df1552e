/*
 * S390 - Regular clock tick.
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

package timer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rcornwell/S390/emu/master"
)

// DefaultInterval is the tick rate when none is configured.
const DefaultInterval = 6666666 * time.Nanosecond

type Timer struct {
	wg       sync.WaitGroup
	running  bool // Indicate when ticks should be sent.
	master   chan master.Packet
	interval time.Duration // Time between ticks.
	last     time.Time     // Time of last tick sent.
	enable   chan bool     // Enable or disable timer.
	done     chan struct{} // Stop timer task.
	ticker   *time.Ticker  // Regular timer interval.
}

// Create instance of clock timer.
func NewTimer(masterChannel chan master.Packet, interval time.Duration) *Timer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	timer := &Timer{
		master:   masterChannel,
		interval: interval,
		enable:   make(chan bool, 1),
		done:     make(chan struct{}),
	}
	// Run ticker to deliver regular commands on master channel.
	timer.wg.Add(1)
	go timer.run()
	return timer
}

// Interval returns the time between ticks.
func (timer *Timer) Interval() time.Duration {
	return timer.interval
}

// Start sending clock ticks.
func (timer *Timer) Start() {
	timer.enable <- true
}

// Stop a timer for some time.
func (timer *Timer) Stop() {
	timer.enable <- false
}

// Shutdown a running timer.
func (timer *Timer) Shutdown() {
	close(timer.done)
	done := make(chan struct{})
	go func() {
		timer.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(time.Second):
		slog.Warn("Timed out waiting for timer to finish.")
		return
	}
}

// Interval timer routine to send timer events on master channel.
func (timer *Timer) run() {
	defer timer.wg.Done()
	timer.ticker = time.NewTicker(timer.interval)
	defer timer.ticker.Stop()
	timer.running = false

	for {
		select {
		case now := <-timer.ticker.C:
			if !timer.running {
				continue
			}
			packet := master.Packet{Msg: master.TimeClock, CPU: master.AllCPU, Elapsed: now.Sub(timer.last)}
			timer.last = now
			select {
			case timer.master <- packet:
			case <-timer.done:
				return
			}
		case timer.running = <-timer.enable:
			if timer.running {
				timer.last = time.Now()
				timer.ticker.Reset(timer.interval)
			}
		case <-timer.done:
			return
		}
	}
}
