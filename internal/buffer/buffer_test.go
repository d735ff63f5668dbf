// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package buffer

import (
	"testing"
	"time"

	"github.com/volkszaehler/vzlogger/pkg/reading"
)

func push(b *Buffer, v float64, ms int64) {
	b.Push(reading.New(v, time.UnixMilli(ms), reading.NilIdentifier()))
}

func values(b *Buffer) []float64 {
	var out []float64
	b.Each(func(r *reading.Reading) {
		if !r.Deleted() {
			out = append(out, r.Value())
		}
	})
	return out
}

func TestParseAggMode(t *testing.T) {
	for s, want := range map[string]AggMode{"": None, "none": None, "MAX": Max, "avg": Avg, "Sum": Sum} {
		got, err := ParseAggMode(s)
		if err != nil {
			t.Fatalf("%q: %v", s, err)
		}
		if got != want {
			t.Errorf("%q: got %v, want %v", s, got, want)
		}
	}
	if _, err := ParseAggMode("median"); err == nil {
		t.Error("expected error")
	}
}

// With aggregation NONE clean() must be a no-op and the surviving
// sequence must equal the input.
func TestAggregateNone(t *testing.T) {
	b := New()
	for i := 1; i <= 5; i++ {
		push(b, float64(i), int64(i*1000))
	}
	b.Aggregate(10, false)
	b.Clean()
	got := values(b)
	if len(got) != 5 {
		t.Fatalf("got %d readings", len(got))
	}
	for i, v := range got {
		if v != float64(i+1) {
			t.Errorf("reading %d: got %f", i, v)
		}
	}
}

func TestAggregateModes(t *testing.T) {
	cases := []struct {
		mode AggMode
		want float64
	}{
		{Max, 9},
		{Avg, 5},
		{Sum, 15},
	}
	for _, c := range cases {
		b := New()
		b.SetAggMode(c.mode)
		push(b, 2, 1000)
		push(b, 9, 3000)
		push(b, 4, 2000)
		b.Aggregate(0, false)

		got := values(b)
		if len(got) != 1 {
			t.Fatalf("%v: %d survivors", c.mode, len(got))
		}
		if got[0] != c.want {
			t.Errorf("%v: got %f, want %f", c.mode, got[0], c.want)
		}
		// the survivor is the latest reading by timestamp
		var ts int64
		b.Each(func(r *reading.Reading) { ts = r.UnixMilli() })
		if ts != 3000 {
			t.Errorf("%v: survivor ts %d, want 3000", c.mode, ts)
		}
	}
}

func TestAggregateFixedInterval(t *testing.T) {
	b := New()
	b.SetAggMode(Sum)
	push(b, 1, 17_000)
	push(b, 2, 19_000)
	b.Aggregate(10, true)

	var ts int64
	b.Each(func(r *reading.Reading) { ts = r.UnixMilli() })
	if ts != 10_000 {
		t.Errorf("survivor ts %d, want 10000", ts)
	}
}

func TestCleanOnlyRemovesMarked(t *testing.T) {
	b := New()
	push(b, 1, 1000)
	push(b, 2, 2000)
	push(b, 3, 3000)

	n := 0
	b.Each(func(r *reading.Reading) {
		if r.Value() == 2 {
			r.MarkDeleted()
		}
		n++
	})
	if n != 3 {
		t.Fatalf("iterated %d", n)
	}
	// length unchanged until clean
	if b.Len() != 3 {
		t.Fatalf("len %d before clean", b.Len())
	}
	b.Clean()
	got := values(b)
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("got %v", got)
	}
}

func TestUndelete(t *testing.T) {
	b := New()
	push(b, 1, 1000)
	b.Each(func(r *reading.Reading) { r.MarkDeleted() })
	b.Undelete()
	b.Clean()
	if b.Len() != 1 {
		t.Fatalf("len %d", b.Len())
	}
}

func TestWaitNotify(t *testing.T) {
	b := New()
	done := make(chan bool, 1)
	go func() {
		done <- b.Wait()
	}()

	time.Sleep(10 * time.Millisecond)
	push(b, 1, 1000)
	b.Notify()

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("Wait returned false")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake up")
	}
}

func TestWaitClose(t *testing.T) {
	b := New()
	done := make(chan bool, 1)
	go func() {
		done <- b.Wait()
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Wait must return false on close")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not wake up on close")
	}
}

func TestWaitTimeout(t *testing.T) {
	b := New()
	start := time.Now()
	if b.WaitTimeout(20 * time.Millisecond) {
		t.Fatal("expected timeout")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("returned too early")
	}
}

func TestLast(t *testing.T) {
	b := New()
	for i := 1; i <= 5; i++ {
		push(b, float64(i), int64(i*1000))
	}
	got := b.Last(3)
	if len(got) != 3 || got[0].Value() != 3 || got[2].Value() != 5 {
		t.Fatalf("got %v", got)
	}
}

func TestDump(t *testing.T) {
	b := New()
	push(b, 1.5, 1000)
	push(b, 2.25, 2000)

	dst := make([]byte, 64)
	s, ok := b.Dump(dst)
	if !ok {
		t.Fatal("expected fit")
	}
	if s != "{1.5000,2.2500}" {
		t.Errorf("got %q", s)
	}

	if _, ok := b.Dump(make([]byte, 4)); ok {
		t.Error("expected overflow")
	}
}
