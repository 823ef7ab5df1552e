/*
 * S390 - Main process.
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

package main

import (
	"log/slog"
	"os"

	getopt "github.com/pborman/getopt/v2"
	reader "github.com/rcornwell/S390/command/reader"
	config "github.com/rcornwell/S390/config/sysconfig"
	core "github.com/rcornwell/S390/emu/core"
	master "github.com/rcornwell/S390/emu/master"
	timer "github.com/rcornwell/S390/emu/timer"
	debug "github.com/rcornwell/S390/util/debug"
	logger "github.com/rcornwell/S390/util/logger"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "S390.yaml", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Log debug to console")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	handler := logger.NewHandler(nil, &slog.HandlerOptions{Level: programLevel}, *optDebug)
	slog.SetDefault(slog.New(handler))

	if _, err := os.Stat(*optConfig); os.IsNotExist(err) {
		slog.Error("Configuration file can't be found", "file", *optConfig)
		os.Exit(1)
	}

	cfg, err := config.LoadConfigFile(*optConfig)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	logName := *optLogFile
	if logName == "" {
		logName = cfg.LogFile
	}
	if logName != "" {
		file, err := os.Create(logName)
		if err != nil {
			slog.Error("Unable to create log file", "error", err)
			os.Exit(1)
		}
		defer file.Close()
		handler = logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel}, *optDebug)
		slog.SetDefault(slog.New(handler))
	}
	log := slog.Default()
	log.Info("S390 Started")

	if cfg.DebugFile != "" {
		file, err := debug.Create(cfg.DebugFile)
		if err != nil {
			log.Error(err.Error())
			os.Exit(1)
		}
		defer file.Close()
	}

	sys, err := cfg.Build(log)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	masterChannel := make(chan master.Packet)

	// Create routine to run the CPUs.
	cpu := core.New(sys, masterChannel, log)
	clock := timer.NewTimer(masterChannel, cfg.Timer)

	// Start main emulator.
	go cpu.Start()
	clock.Start()

	msg := make(chan string, 1)
	go func() {
		reader.ConsoleReader(cpu)
		msg <- ""
	}()

	// Wait on shutdown option
	<-msg

	clock.Shutdown()
	cpu.Stop()
	log.Info("Simulator stopped.")
}
