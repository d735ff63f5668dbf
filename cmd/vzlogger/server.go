// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/volkszaehler/vzlogger/internal/config"
	"github.com/volkszaehler/vzlogger/internal/local"
	"github.com/volkszaehler/vzlogger/internal/supervisor"
	"github.com/volkszaehler/vzlogger/pkg/log"
)

// startLocalServer brings up the read-only HTTP surface and returns
// its shutdown function.
func startLocalServer(sup *supervisor.Supervisor, cfg config.Local) (func(), error) {
	addr := fmt.Sprintf(":%d", cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		ReadTimeout: 10 * time.Second,
		// comet long-polls may hold the response open
		WriteTimeout: time.Duration(cfg.Timeout+10) * time.Second,
		Handler:      local.NewServer(sup, cfg).Handler(),
		Addr:         addr,
	}

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http", "%s", err)
		}
	}()
	log.Infof("http", "local interface listening at %s", addr)

	return func() {
		if err := server.Shutdown(context.Background()); err != nil {
			log.Warnf("http", "shutdown: %s", err)
		}
	}, nil
}
