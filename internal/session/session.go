// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session provides one HTTP client per destination key and
// serialises concurrent use of the same key, bounding parallelism to a
// single in-flight request per destination.
package session

import (
	"net/http"
	"sync"
)

type entry struct {
	mu     sync.Mutex // held while the handle is in use
	client *http.Client
	inUse  bool
}

// Provider is the process wide handle pool. Clients are created lazily
// on first request for a key and reused until teardown.
type Provider struct {
	mu      sync.Mutex // guards the map, never held across entry locks
	entries map[string]*entry
}

func NewProvider() *Provider {
	return &Provider{entries: map[string]*entry{}}
}

// Get returns the client for key. If another holder is currently using
// the same key the call blocks until the holder returns it.
func (p *Provider) Get(key string) *http.Client {
	p.mu.Lock()
	e, ok := p.entries[key]
	if !ok {
		e = &entry{client: &http.Client{}}
		p.entries[key] = e
	}
	p.mu.Unlock()

	// the outer lock is never held while waiting for an entry
	e.mu.Lock()
	p.mu.Lock()
	e.inUse = true
	p.mu.Unlock()
	return e.client
}

// Return hands the client back and unblocks the next waiter for the
// same key.
func (p *Provider) Return(key string, c *http.Client) {
	p.mu.Lock()
	e := p.entries[key]
	if e == nil || e.client != c {
		p.mu.Unlock()
		return
	}
	e.inUse = false
	p.mu.Unlock()

	e.mu.Unlock()
}

// InUse reports whether the key's handle is currently held.
func (p *Provider) InUse(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		return e.inUse
	}
	return false
}
