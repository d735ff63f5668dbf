// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package session

import (
	"sync"
	"testing"
	"time"
)

func TestGetReusesHandle(t *testing.T) {
	p := NewProvider()
	c1 := p.Get("k")
	p.Return("k", c1)
	c2 := p.Get("k")
	p.Return("k", c2)
	if c1 != c2 {
		t.Error("expected the same handle instance")
	}
}

func TestDistinctKeysAreIndependent(t *testing.T) {
	p := NewProvider()
	a := p.Get("a")
	// must not block even while "a" is held
	done := make(chan struct{})
	go func() {
		b := p.Get("b")
		p.Return("b", b)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Get on a different key blocked")
	}
	p.Return("a", a)
}

// Two goroutines requesting the same key: the second must block until
// the first returns the handle, and receive the same instance.
func TestSameKeySerialises(t *testing.T) {
	p := NewProvider()

	const hold = 50 * time.Millisecond
	first := p.Get("k")

	var second interface{}
	var waited time.Duration
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		start := time.Now()
		c := p.Get("k")
		waited = time.Since(start)
		second = c
		p.Return("k", c)
	}()

	time.Sleep(hold)
	p.Return("k", first)
	wg.Wait()

	if waited < hold {
		t.Errorf("second Get returned after %v, want >= %v", waited, hold)
	}
	if second != first {
		t.Error("expected the same handle instance")
	}
	if p.InUse("k") {
		t.Error("handle still marked in use")
	}
}

func TestInUse(t *testing.T) {
	p := NewProvider()
	if p.InUse("k") {
		t.Error("unknown key must not be in use")
	}
	c := p.Get("k")
	if !p.InUse("k") {
		t.Error("expected in use")
	}
	p.Return("k", c)
	if p.InUse("k") {
		t.Error("expected not in use")
	}
}
