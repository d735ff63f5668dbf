// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package channel models one logical time series derived from a meter
// by an identifier filter.
package channel

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/volkszaehler/vzlogger/internal/buffer"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

// Config is the per-channel configuration handed in by the supervisor.
type Config struct {
	UUID             string
	API              string // volkszaehler, mysmartgrid, influxdb or null
	Middleware       string
	Identifier       reading.Identifier
	AggMode          buffer.AggMode
	AggTime          int
	AggFixedInterval bool
	Keep             int

	// influxdb api only
	Token       string
	Org         string
	Bucket      string
	Measurement string

	// mysmartgrid api only
	SecretKey string
	Device    string
	Type      string // device or sensor
	Scaler    int
	Interval  int // seconds between two messages
	Name      string
}

// Channel is owned by the supervisor and lives for the whole process.
type Channel struct {
	name string
	cfg  Config
	buf  *buffer.Buffer

	mu       sync.Mutex
	last     reading.Reading
	haveLast bool
}

// New validates the configuration and builds the channel. The name is
// assigned by the supervisor's naming sequence.
func New(name string, cfg Config) (*Channel, error) {
	if cfg.API == "" {
		cfg.API = "volkszaehler"
	}
	switch cfg.API {
	case "volkszaehler", "mysmartgrid", "influxdb", "null":
	default:
		return nil, errors.Errorf("channel %s: unknown api %q", name, cfg.API)
	}

	if cfg.UUID != "" {
		if _, err := uuid.Parse(cfg.UUID); err != nil {
			return nil, errors.Wrapf(err, "channel %s: uuid", name)
		}
	} else if cfg.API != "null" {
		return nil, errors.Errorf("channel %s: missing uuid", name)
	}

	buf := buffer.New()
	buf.SetAggMode(cfg.AggMode)
	if cfg.Keep > 0 {
		buf.SetKeep(cfg.Keep)
	}

	return &Channel{name: name, cfg: cfg, buf: buf}, nil
}

func (c *Channel) Name() string                   { return c.name }
func (c *Channel) Config() Config                 { return c.cfg }
func (c *Channel) UUID() string                   { return c.cfg.UUID }
func (c *Channel) API() string                    { return c.cfg.API }
func (c *Channel) Middleware() string             { return c.cfg.Middleware }
func (c *Channel) Identifier() reading.Identifier { return c.cfg.Identifier }
func (c *Channel) Buffer() *buffer.Buffer         { return c.buf }
func (c *Channel) AggTime() int                   { return c.cfg.AggTime }
func (c *Channel) AggFixedInterval() bool         { return c.cfg.AggFixedInterval }

// Push appends a reading to the channel buffer.
func (c *Channel) Push(r reading.Reading) {
	c.buf.Push(r)
}

// Notify wakes the channel's uploader and any local-view waiters.
func (c *Channel) Notify() {
	c.buf.Notify()
}

// Close wakes all waiters permanently during shutdown.
func (c *Channel) Close() {
	c.buf.Close()
}

// Last returns the most recent reading routed to this channel.
func (c *Channel) Last() (reading.Reading, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.haveLast
}

// SetLast records r if it is newer than the current snapshot.
func (c *Channel) SetLast(r reading.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveLast || r.Time().After(c.last.Time()) {
		c.last = r
		c.haveLast = true
	}
}
