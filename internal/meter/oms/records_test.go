// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package oms

import (
	"testing"
)

func TestIntDecode(t *testing.T) {
	cases := []struct {
		data []byte
		want int64
	}{
		{[]byte{0xd2, 0x04, 0x00, 0x00}, 1234},
		{[]byte{0xff}, -1},
		{[]byte{0xff, 0xff}, -1},
		{[]byte{0x2c, 0x01}, 300},
		{[]byte{0x00, 0x00, 0x80}, -8388608},
	}
	for _, c := range cases {
		if got := intDecode(c.data); got != c.want {
			t.Errorf("intDecode(%x) = %d, want %d", c.data, got, c.want)
		}
	}
}

func TestBCDDecode(t *testing.T) {
	cases := []struct {
		data []byte
		want int64
	}{
		{[]byte{0x42}, 42},
		{[]byte{0x34, 0x12}, 1234},
		{[]byte{0x56, 0x34, 0x12}, 123456},
	}
	for _, c := range cases {
		if got := bcdDecode(c.data); got != c.want {
			t.Errorf("bcdDecode(%x) = %d, want %d", c.data, got, c.want)
		}
	}
}

func TestParseRecordsSkipsFiller(t *testing.T) {
	b := []byte{0x2f, 0x2f, 0x01, 0x13, 0x07, 0x2f, 0x2f}
	recs, err := parseRecords(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].dif != 0x01 || recs[0].vif != 0x13 {
		t.Errorf("got dif %x vif %x", recs[0].dif, recs[0].vif)
	}
	if recs[0].value() != 7 {
		t.Errorf("got value %f", recs[0].value())
	}
}

func TestParseRecordsVIFEChain(t *testing.T) {
	b := []byte{0x04, 0x83, 0x3c, 0x64, 0x00, 0x00, 0x00}
	recs, err := parseRecords(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || len(recs[0].vifes) != 1 || recs[0].vifes[0] != 0x3c {
		t.Fatalf("got %+v", recs)
	}
	if recs[0].value() != 100 {
		t.Errorf("got value %f", recs[0].value())
	}
}

func TestParseRecordsTruncated(t *testing.T) {
	if _, err := parseRecords([]byte{0x04, 0x03, 0x01}); err == nil {
		t.Error("expected error for truncated data")
	}
	if _, err := parseRecords([]byte{0x04}); err == nil {
		t.Error("expected error for missing VIF")
	}
}

func TestParseRecordsUnsupportedDIF(t *testing.T) {
	// 0x0d is variable length
	if _, err := parseRecords([]byte{0x0d, 0x13, 0x00}); err == nil {
		t.Error("expected error for variable length DIF")
	}
}

func TestBCDRecordValue(t *testing.T) {
	recs, err := parseRecords([]byte{0x0c, 0x13, 0x78, 0x56, 0x34, 0x12})
	if err != nil {
		t.Fatal(err)
	}
	if got := recs[0].value(); got != 12345678 {
		t.Errorf("got %f", got)
	}
}

func TestCP48Time(t *testing.T) {
	b := cp48Record(30, 15, 12, 24, 6, 2023)[2:]
	got := cp48Time(b)
	if got <= 1.0 {
		t.Fatalf("got %f", got)
	}

	// invalid flag set
	b[1] |= 0x80
	if cp48Time(b) != 0 {
		t.Error("invalid time must decode to zero")
	}
}
