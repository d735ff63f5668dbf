// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package meter defines the uniform driver contract all protocol
// implementations obey and the registry the supervisor resolves
// configured protocols against.
package meter

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

// Protocol is implemented by every concrete meter driver.
//
// Open acquires the transport and may perform an initial handshake; it
// must be idempotent against a prior failed open. Read blocks until up
// to len(rds) readings arrived or the driver's own timeout expired and
// reports how many slots were filled; zero readings on a benign timeout
// is not an error. Close releases the transport and restores a mutated
// line discipline. Closing the transport from another goroutine is the
// supported way to interrupt a blocked Read during shutdown.
type Protocol interface {
	Open() error
	Close() error
	Read(rds []reading.Reading) (int, error)
	AllowInterval() bool
}

// Details carries the compile-time metadata of a protocol.
type Details struct {
	Name        string
	Description string
	MaxReadings int  // upper bound of readings a single Read may return
	Periodic    bool // supervisor sleeps the interval between calls
}

// Factory builds a driver from its per-meter options.
type Factory func(opts Options) (Protocol, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]struct {
		details Details
		factory Factory
	}{}
)

// Register adds a protocol to the registry. Called from driver package
// init functions; duplicate names panic.
func Register(d Details, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[d.Name]; dup {
		panic("meter: duplicate protocol " + d.Name)
	}
	registry[d.Name] = struct {
		details Details
		factory Factory
	}{d, f}
}

// Lookup returns the metadata of a registered protocol.
func Lookup(name string) (Details, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[name]
	return e.details, ok
}

// Protocols lists all registered protocols, sorted by name.
func Protocols() []Details {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Details, 0, len(registry))
	for _, e := range registry {
		out = append(out, e.details)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Meter couples a driver instance with its registry metadata and the
// per-meter configuration the supervisor acts on.
type Meter struct {
	name    string
	details Details
	proto   Protocol
	enabled bool

	mu       sync.Mutex
	interval int // seconds; -1 when unknown
}

// New resolves the protocol, builds the driver and wraps it. The name
// is assigned by the caller; the supervisor owns the naming sequence.
func New(name, protocol string, opts Options, enabled bool, interval int) (*Meter, error) {
	registryMu.RLock()
	e, ok := registry[protocol]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("meter %s: unknown protocol %q", name, protocol)
	}

	p, err := e.factory(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "meter %s (%s)", name, protocol)
	}

	if interval <= 0 {
		interval = -1 // unknown; learned from the meter's cadence
	}
	return &Meter{
		name:     name,
		details:  e.details,
		proto:    p,
		enabled:  enabled,
		interval: interval,
	}, nil
}

func (m *Meter) Name() string     { return m.name }
func (m *Meter) Details() Details { return m.details }
func (m *Meter) Enabled() bool    { return m.enabled }

// Interval returns the polling interval in seconds, -1 when unknown.
// The reader updates it while the local view reads it, hence the lock.
func (m *Meter) Interval() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

func (m *Meter) SetInterval(s int) {
	m.mu.Lock()
	m.interval = s
	m.mu.Unlock()
}

func (m *Meter) Open() error  { return m.proto.Open() }
func (m *Meter) Close() error { return m.proto.Close() }

func (m *Meter) Read(rds []reading.Reading) (int, error) {
	return m.proto.Read(rds)
}

// AllowInterval reports whether the interval option is meaningful for
// this driver (false for self-clocking protocols).
func (m *Meter) AllowInterval() bool { return m.proto.AllowInterval() }
