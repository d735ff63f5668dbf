// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package reading

import (
	"testing"
	"time"

	"github.com/volkszaehler/vzlogger/pkg/obis"
)

func TestIdentifierMatches(t *testing.T) {
	a := NewObisIdentifier(obis.MustParse("1-0:1.8.0*255"))
	b := NewObisIdentifier(obis.MustParse("1.8.0"))
	if !a.Matches(b) || !b.Matches(a) {
		t.Error("obis identifiers with wildcards must match both ways")
	}

	if a.Matches(NewStringIdentifier("1-0:1.8.0*255")) {
		t.Error("different kinds must not match")
	}

	if !NilIdentifier().Matches(NilIdentifier()) {
		t.Error("nil must match nil")
	}
	if NilIdentifier().Matches(a) {
		t.Error("nil must not match obis")
	}
}

func TestChannelIdentifierSign(t *testing.T) {
	power, err := ParseIdentifier("fluksov2", "sensor0/power")
	if err != nil {
		t.Fatal(err)
	}
	cons, err := ParseIdentifier("fluksov2", "sensor0/consumption")
	if err != nil {
		t.Fatal(err)
	}
	if power.Matches(cons) {
		t.Error("power and consumption on channel 0 must differ")
	}
	if got := power.String(); got != "sensor0/power" {
		t.Errorf("got %q", got)
	}
	if got := cons.String(); got != "sensor0/consumption" {
		t.Errorf("got %q", got)
	}
}

func TestParseIdentifierDispatch(t *testing.T) {
	id, err := ParseIdentifier("d0", "counter")
	if err != nil {
		t.Fatal(err)
	}
	if id.Kind() != KindObis {
		t.Errorf("d0 alias should yield an obis identifier, got kind %d", id.Kind())
	}

	id, err = ParseIdentifier("file", "temp-sensor")
	if err != nil {
		t.Fatal(err)
	}
	if id.Kind() != KindString {
		t.Errorf("got kind %d", id.Kind())
	}

	id, err = ParseIdentifier("random", "")
	if err != nil {
		t.Fatal(err)
	}
	if id.Kind() != KindNil {
		t.Errorf("got kind %d", id.Kind())
	}

	if _, err := ParseIdentifier("fluksov2", "sensor0/bogus"); err == nil {
		t.Error("expected error for invalid channel type")
	}
}

func TestReadingTime(t *testing.T) {
	ts := time.UnixMilli(1500)
	r := New(2.5, ts, NilIdentifier())
	if r.UnixMilli() != 1500 {
		t.Errorf("got %d", r.UnixMilli())
	}
	sec, usec := r.Seconds()
	if sec != 1 || usec != 500000 {
		t.Errorf("got %d s %d us", sec, usec)
	}
}

func TestTimeFromSeconds(t *testing.T) {
	ts := TimeFromSeconds(1.5)
	if ts.UnixMilli() != 1500 {
		t.Errorf("got %d", ts.UnixMilli())
	}
}

func TestDeleteMarker(t *testing.T) {
	r := New(1, time.Now(), NilIdentifier())
	if r.Deleted() {
		t.Fatal("fresh reading must not be deleted")
	}
	r.MarkDeleted()
	if !r.Deleted() {
		t.Fatal("expected deleted")
	}
	r.Undelete()
	if r.Deleted() {
		t.Fatal("expected undeleted")
	}
}
