// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package channel

import (
	"testing"
	"time"

	"github.com/volkszaehler/vzlogger/pkg/reading"
)

const testUUID = "a97e9039-49ad-49b9-b4c5-5df2d1dc4e3f"

func TestNewValidation(t *testing.T) {
	if _, err := New("chn0", Config{UUID: "not-a-uuid", API: "volkszaehler"}); err == nil {
		t.Error("expected error for malformed uuid")
	}
	if _, err := New("chn0", Config{API: "volkszaehler"}); err == nil {
		t.Error("expected error for missing uuid")
	}
	if _, err := New("chn0", Config{UUID: testUUID, API: "smtp"}); err == nil {
		t.Error("expected error for unknown api")
	}
	// null channels may omit the uuid
	if _, err := New("chn0", Config{API: "null"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDefaultAPI(t *testing.T) {
	ch, err := New("chn0", Config{UUID: testUUID})
	if err != nil {
		t.Fatal(err)
	}
	if ch.API() != "volkszaehler" {
		t.Errorf("got %q", ch.API())
	}
}

func TestSetLastKeepsNewest(t *testing.T) {
	ch, err := New("chn0", Config{API: "null"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ch.Last(); ok {
		t.Fatal("fresh channel must have no last reading")
	}

	newer := reading.New(2, time.UnixMilli(2000), reading.NilIdentifier())
	older := reading.New(1, time.UnixMilli(1000), reading.NilIdentifier())

	ch.SetLast(newer)
	ch.SetLast(older) // must not replace the newer snapshot

	last, ok := ch.Last()
	if !ok || last.Value() != 2 {
		t.Errorf("got %v ok=%v", last, ok)
	}
}
