// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package obis

import (
	"math/rand"
	"testing"
)

func TestParseFull(t *testing.T) {
	o, err := Parse("1-0:1.8.0*255")
	if err != nil {
		t.Fatal(err)
	}
	want := Obis{1, 0, 1, 8, 0, 255}
	if o != want {
		t.Errorf("got %v, want %v", o, want)
	}
}

func TestParseShort(t *testing.T) {
	o, err := Parse("1.8.0")
	if err != nil {
		t.Fatal(err)
	}
	want := Obis{Wildcard, Wildcard, 1, 8, 0, Wildcard}
	if o != want {
		t.Errorf("got %v, want %v", o, want)
	}
}

func TestParseAmpersand(t *testing.T) {
	o, err := Parse("1-0:2.8.1&3")
	if err != nil {
		t.Fatal(err)
	}
	want := Obis{1, 0, 2, 8, 1, 3}
	if o != want {
		t.Errorf("got %v, want %v", o, want)
	}
}

func TestParseSpecialLetters(t *testing.T) {
	o, err := Parse("C.F.L")
	if err != nil {
		t.Fatal(err)
	}
	want := Obis{Wildcard, Wildcard, 96, 97, 98, Wildcard}
	if o != want {
		t.Errorf("got %v, want %v", o, want)
	}
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{"", "1", "1-0:", "x.y", "1,8"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestAliasLookup(t *testing.T) {
	o, err := New("power")
	if err != nil {
		t.Fatal(err)
	}
	want := Obis{1, 0, 1, 7, Wildcard, Wildcard}
	if o != want {
		t.Errorf("got %v, want %v", o, want)
	}

	// alias lookup is case sensitive
	if _, err := New("Power"); err == nil {
		t.Error("expected error for unknown alias")
	}
}

// Round trip over the text form must preserve every non-wildcard group.
func TestUnparseRoundtrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		var o Obis
		for j := range o {
			o[j] = byte(r.Intn(255)) // stay below the wildcard
		}
		p, err := Parse(o.String())
		if err != nil {
			t.Fatalf("%v: %v", o, err)
		}
		if p != o {
			t.Fatalf("roundtrip %v -> %q -> %v", o, o.String(), p)
		}
	}
}

func TestMatchWildcard(t *testing.T) {
	a := MustParse("1-0:1.8.0*255")
	b := MustParse("1.8.0")
	if !a.Match(b) {
		t.Error("wildcard groups must match")
	}
	c := MustParse("2.8.0")
	if a.Match(c) {
		t.Error("distinct indicators must not match")
	}
}

// Match must be symmetric under wildcards.
func TestMatchSymmetry(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		var a, b Obis
		for j := range a {
			a[j] = byte(r.Intn(256))
			b[j] = byte(r.Intn(256))
		}
		if a.Match(b) != b.Match(a) {
			t.Fatalf("asymmetric match: %v vs %v", a, b)
		}
	}
}

func TestIsValid(t *testing.T) {
	if !MustParse("1-0:1.8.0").IsValid() {
		t.Error("expected valid")
	}
	if (Obis{10, 0, 1, 8, 0, 0}).IsValid() {
		t.Error("media group 10 must be invalid")
	}
	if (Obis{1, 65, 1, 8, 0, 0}).IsValid() {
		t.Error("channel group above 64 must be invalid")
	}
}
