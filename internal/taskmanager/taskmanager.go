// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskmanager schedules the periodic housekeeping jobs of the
// daemon.
package taskmanager

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/volkszaehler/vzlogger/internal/metrics"
	"github.com/volkszaehler/vzlogger/internal/supervisor"
	"github.com/volkszaehler/vzlogger/pkg/log"
)

var s gocron.Scheduler

// Start creates the scheduler and registers the housekeeping jobs.
func Start(sup *supervisor.Supervisor) error {
	var err error
	s, err = gocron.NewScheduler()
	if err != nil {
		return err
	}

	if err := registerStatsService(sup); err != nil {
		return err
	}

	s.Start()
	return nil
}

// Shutdown stops the scheduler; running jobs finish first.
func Shutdown() {
	if s != nil {
		if err := s.Shutdown(); err != nil {
			log.Warnf("main", "taskmanager shutdown: %s", err)
		}
	}
}

// registerStatsService refreshes the buffer gauges and dumps the
// buffered values at debug level once a minute.
func registerStatsService(sup *supervisor.Supervisor) error {
	_, err := s.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			for _, m := range sup.Mappings() {
				for _, ch := range m.Channels {
					buf := ch.Buffer()
					metrics.BufferSize.WithLabelValues(ch.Name()).Set(float64(buf.Len()))

					dst := make([]byte, 64)
					for {
						dump, ok := buf.Dump(dst)
						if ok {
							log.Debugf(ch.Name(), "buffer dump (size=%d keep=%d): %s",
								buf.Len(), buf.Keep(), dump)
							break
						}
						dst = make([]byte, len(dst)*2)
					}
				}
			}
		}),
	)
	return err
}
