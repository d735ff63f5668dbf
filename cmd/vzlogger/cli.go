// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import "flag"

var (
	flagForeground, flagRegister, flagGops, flagVersion bool
	flagConfigFile, flagLogLevel                        string
)

func cliInit() {
	flag.BoolVar(&flagForeground, "foreground", false, "Run in the foreground, do not daemonize")
	flag.BoolVar(&flagRegister, "register", false, "Register the configured channels with their middleware and exit")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagVersion, "version", false, "Show version information and exit")
	flag.StringVar(&flagConfigFile, "config", "/etc/vzlogger.conf", "Specify alternative path to the configuration file")
	flag.StringVar(&flagLogLevel, "loglevel", "", "Override the log level: [debug, info, warn, err, crit]")
	flag.Parse()
}
