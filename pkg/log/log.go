// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Provides a simple way of logging with different levels.
// Every line carries a timestamp and the component tag of the
// originating subsystem (meter name, channel name, "http", "mqtt",
// "push", "main"), so interleaved output of many reader and uploader
// goroutines stays attributable.

const timeLayout = "Jan 02 15:04:05"

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrWriter   io.Writer = os.Stderr
	CritWriter  io.Writer = os.Stderr
)

var (
	mu      sync.Mutex
	logfile *os.File
)

// SetLogLevel discards all messages below lvl. Accepted values are
// "debug", "info", "warn", "err" and "crit".
func SetLogLevel(lvl string) {
	switch lvl {
	case "crit":
		ErrWriter = io.Discard
		fallthrough
	case "err", "fatal":
		WarnWriter = io.Discard
		fallthrough
	case "warn":
		InfoWriter = io.Discard
		fallthrough
	case "info":
		DebugWriter = io.Discard
	case "debug":
		// Nothing to do...
	default:
		fmt.Fprintf(os.Stderr, "pkg/log: unknown loglevel %q\n", lvl)
	}
}

// SetVerbosity maps the numeric "verbosity" config option onto a log
// level: 0 warnings and up, 5 info, 10 and above full debug.
func SetVerbosity(v int) {
	switch {
	case v >= 10:
		SetLogLevel("debug")
	case v >= 5:
		SetLogLevel("info")
	default:
		SetLogLevel("warn")
	}
}

// SetLogFile duplicates all output into path (append mode). The file
// stays open until the process exits.
func SetLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	mu.Lock()
	logfile = f
	mu.Unlock()
	return nil
}

func write(w io.Writer, level, tag, msg string) {
	line := fmt.Sprintf("[%s][%s][%s] %s\n", time.Now().Format(timeLayout), tag, level, msg)
	mu.Lock()
	defer mu.Unlock()
	io.WriteString(w, line)
	if logfile != nil && w != io.Discard {
		io.WriteString(logfile, line)
	}
}

func Debug(tag string, args ...any) { write(DebugWriter, "debug", tag, fmt.Sprint(args...)) }
func Info(tag string, args ...any)  { write(InfoWriter, "info", tag, fmt.Sprint(args...)) }
func Warn(tag string, args ...any)  { write(WarnWriter, "warning", tag, fmt.Sprint(args...)) }
func Error(tag string, args ...any) { write(ErrWriter, "error", tag, fmt.Sprint(args...)) }

func Debugf(tag, format string, args ...any) {
	write(DebugWriter, "debug", tag, fmt.Sprintf(format, args...))
}

func Infof(tag, format string, args ...any) {
	write(InfoWriter, "info", tag, fmt.Sprintf(format, args...))
}

func Warnf(tag, format string, args ...any) {
	write(WarnWriter, "warning", tag, fmt.Sprintf(format, args...))
}

func Errorf(tag, format string, args ...any) {
	write(ErrWriter, "error", tag, fmt.Sprintf(format, args...))
}

// Fatal logs to the critical writer and terminates the process.
func Fatal(tag string, args ...any) {
	write(CritWriter, "critical", tag, fmt.Sprint(args...))
	os.Exit(1)
}

func Fatalf(tag, format string, args ...any) {
	write(CritWriter, "critical", tag, fmt.Sprintf(format, args...))
	os.Exit(1)
}
