// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package supervisor owns the meters and channels, spawns one reader
// goroutine per meter and one uploader goroutine per channel, and
// orchestrates the cooperative shutdown.
package supervisor

import (
	"sync"
	"time"

	"github.com/volkszaehler/vzlogger/internal/api"
	"github.com/volkszaehler/vzlogger/internal/channel"
	"github.com/volkszaehler/vzlogger/internal/meter"
	"github.com/volkszaehler/vzlogger/internal/session"
	"github.com/volkszaehler/vzlogger/pkg/log"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

// Sink consumes every reading after channel routing; the MQTT and push
// fan-outs implement it.
type Sink interface {
	PublishReading(ch *channel.Channel, r reading.Reading)
	Close()
}

// Options carries the process wide switches the loops act on.
type Options struct {
	Daemon        bool
	Local         bool // local HTTP surface enabled
	RetryPause    int  // seconds to sleep after a failed upload
	UploadTimeout time.Duration
}

// MeterMap pairs a meter with the channels fed from it. The channels
// share no state beyond the meter's reader goroutine.
type MeterMap struct {
	Meter    *meter.Meter
	Channels []*channel.Channel
}

// Supervisor is the map container plus the runtime machinery.
type Supervisor struct {
	maps     []*MeterMap
	provider *session.Provider
	opts     Options
	sinks    []Sink

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(opts Options, provider *session.Provider) *Supervisor {
	if opts.RetryPause <= 0 {
		opts.RetryPause = 15
	}
	return &Supervisor{
		provider: provider,
		opts:     opts,
		stop:     make(chan struct{}),
	}
}

// AddMapping registers a meter with its channels. Call before Start.
func (s *Supervisor) AddMapping(m *MeterMap) {
	s.maps = append(s.maps, m)
}

// AddSink attaches a fan-out consumer. Call before Start.
func (s *Supervisor) AddSink(sink Sink) {
	s.sinks = append(s.sinks, sink)
}

// Mappings exposes the map container to the local view.
func (s *Supervisor) Mappings() []*MeterMap { return s.maps }

// Start opens every enabled meter and spawns its reader plus one
// uploader per channel. A meter that fails to open is logged and
// skipped; the count of failures is returned so the caller can refuse
// to daemonise an entirely broken setup.
func (s *Supervisor) Start() (started, failed int) {
	for _, m := range s.maps {
		if !m.Meter.Enabled() {
			log.Debugf(m.Meter.Name(), "skipping disabled meter")
			continue
		}

		if err := m.Meter.Open(); err != nil {
			log.Errorf(m.Meter.Name(), "cannot open meter: %s", err)
			failed++
			continue
		}
		log.Debugf(m.Meter.Name(), "meter opened, starting reader")

		s.wg.Add(1)
		go s.readerLoop(m)

		// uploaders are suppressed in local-only, non-daemon mode
		if s.opts.Daemon || !s.opts.Local {
			for _, ch := range m.Channels {
				a, err := api.New(ch, s.provider, s.opts.UploadTimeout)
				if err != nil {
					log.Errorf(ch.Name(), "cannot create api client: %s", err)
					continue
				}
				s.wg.Add(1)
				go s.uploaderLoop(ch, a)
			}
		}
		started++
	}
	return started, failed
}

// Shutdown cancels every reader and uploader at its suspension point:
// the stop channel covers the sleeps, closing the meter unblocks the
// driver read, closing the channel wakes the uploader wait. Joins
// happen before the transports are dropped.
func (s *Supervisor) Shutdown() {
	close(s.stop)

	for _, m := range s.maps {
		if m.Meter.Enabled() {
			if err := m.Meter.Close(); err != nil {
				log.Warnf(m.Meter.Name(), "close: %s", err)
			}
		}
		for _, ch := range m.Channels {
			ch.Close()
		}
	}

	s.wg.Wait()

	for _, sink := range s.sinks {
		sink.Close()
	}
	log.Infof("main", "graceful shutdown completed")
}

// RegisterDevices is the alternate entry path: register every channel
// with its middleware once, then return.
func (s *Supervisor) RegisterDevices() error {
	for _, m := range s.maps {
		if !m.Meter.Enabled() {
			continue
		}
		for _, ch := range m.Channels {
			a, err := api.New(ch, s.provider, s.opts.UploadTimeout)
			if err != nil {
				return err
			}
			err = a.RegisterDevice()
			a.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Wait blocks until every reader and uploader exited. Used by the
// single-shot (non-daemon) mode.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// sleep waits the given number of seconds or until shutdown; it
// reports false when interrupted.
func (s *Supervisor) sleep(seconds int) bool {
	select {
	case <-time.After(time.Duration(seconds) * time.Second):
		return true
	case <-s.stop:
		return false
	}
}
