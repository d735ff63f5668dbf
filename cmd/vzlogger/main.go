// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// vzlogger reads utility meters over diverse transports and forwards
// the readings to one or more time-series middlewares while exposing
// recent samples on a local HTTP surface.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/joho/godotenv"

	"github.com/volkszaehler/vzlogger/internal/config"
	"github.com/volkszaehler/vzlogger/internal/session"
	"github.com/volkszaehler/vzlogger/internal/taskmanager"
	"github.com/volkszaehler/vzlogger/pkg/log"
)

const version = "1.0"

func main() {
	cliInit()

	if flagVersion {
		fmt.Printf("vzlogger version %s\n", version)
		return
	}

	// See https://github.com/google/gops (runtime overhead is almost zero)
	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("main", "gops/agent.Listen failed: %s", err)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("main", "parsing './.env' file failed: %s", err)
	}

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		log.Fatalf("main", "%s", err)
	}

	if flagLogLevel != "" {
		log.SetLogLevel(flagLogLevel)
	} else {
		log.SetVerbosity(cfg.Verbosity)
	}
	if cfg.Log != "" {
		if err := log.SetLogFile(cfg.Log); err != nil {
			log.Fatalf("main", "cannot open log file: %s", err)
		}
	}
	if flagForeground || cfg.Foreground {
		log.Debugf("main", "running in the foreground")
	}

	provider := session.NewProvider()
	sup, err := buildSupervisor(cfg, provider)
	if err != nil {
		log.Fatalf("main", "%s", err)
	}

	if flagRegister {
		if err := sup.RegisterDevices(); err != nil {
			log.Fatalf("main", "registration failed: %s", err)
		}
		log.Infof("main", "device registration finished")
		return
	}

	started, failed := sup.Start()
	if failed > 0 && !cfg.Daemon {
		log.Fatalf("main", "%d meter(s) failed to open", failed)
	}
	if started == 0 {
		log.Fatalf("main", "no meter could be started")
	}

	var stopLocal func()
	if cfg.Local.Enabled {
		if stopLocal, err = startLocalServer(sup, cfg.Local); err != nil {
			log.Fatalf("main", "local interface: %s", err)
		}
	}

	if cfg.Daemon {
		if err := taskmanager.Start(sup); err != nil {
			log.Fatalf("main", "taskmanager: %s", err)
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM)
		sig := <-sigs
		log.Infof("main", "got signal %s, closing connections to terminate", sig)

		taskmanager.Shutdown()
	} else {
		// single shot: wait for the readers and uploaders to finish
		sup.Wait()
	}

	if stopLocal != nil {
		stopLocal()
	}
	sup.Shutdown()
}
