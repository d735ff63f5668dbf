// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package oms

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/volkszaehler/vzlogger/internal/meter"
	"github.com/volkszaehler/vzlogger/pkg/obis"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

const testKey = "0078580E79544B145D1A96D0F7E777FA"

type fakeTransport struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func (t *fakeTransport) Read(p []byte) (int, error) {
	n, err := t.in.Read(p)
	if err == io.EOF {
		return 0, nil // timeout
	}
	return n, err
}

func (t *fakeTransport) Write(p []byte) (int, error) { return t.out.Write(p) }
func (t *fakeTransport) Close() error                { return nil }

func newTestDriver(t *testing.T) (*OMS, *fakeTransport) {
	t.Helper()
	p, err := NewFromOptions(meter.Options{"device": "/dev/null", "key": testKey})
	require.NoError(t, err)
	o := p.(*OMS)
	ft := &fakeTransport{}
	o.t = ft
	return o, ft
}

// sndNKE is the short frame 10 40 F0 30 16.
var sndNKE = []byte{0x10, 0x40, 0xf0, 0x30, 0x16}

// buildSNDUD wraps encrypted user data blocks into a CI=0x5B long
// frame addressed per the 12 byte OMS header.
func buildSNDUD(t *testing.T, plaintext []byte) []byte {
	t.Helper()
	require.Equal(t, 0, len(plaintext)%16)
	blocks := len(plaintext) / 16

	header := []byte{
		0x01, 0x02, 0x03, 0x04, // identification
		0x2d, 0x2c, // manufacturer
		0x01,                    // version
		0x02,                    // medium
		0x07,                    // access number
		0x00,                    // status
		byte(blocks << 4), 0x05, // configuration word, mode 5
	}

	var iv [16]byte
	iv[0], iv[1] = header[4], header[5]
	copy(iv[2:6], header[0:4])
	iv[6], iv[7] = header[6], header[7]
	for i := 8; i < 16; i++ {
		iv[i] = header[8]
	}

	key, err := hex.DecodeString(testKey)
	require.NoError(t, err)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(ciphertext, plaintext)

	body := append([]byte{0x53, 0x01, 0x5b}, header...)
	body = append(body, ciphertext...)

	f := []byte{0x68, byte(len(body)), byte(len(body)), 0x68}
	f = append(f, body...)
	f = append(f, checksum(body), 0x16)
	return f
}

// energyRecord is DIF=0x04 VIF=0x03 (energy import total) with a 32
// bit little endian value.
func energyRecord(value uint32) []byte {
	rec := []byte{0x04, 0x03, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(rec[2:], value)
	return rec
}

// cp48Record is DIF=0x06 VIF=0x6D carrying the given wall clock.
func cp48Record(sec, min, hour, mday, mon, year int) []byte {
	y := year - 2000
	return []byte{
		0x06, 0x6d,
		byte(sec),
		byte(min),
		byte(hour),
		byte(mday) | byte(y&0x07)<<5,
		byte(mon) | byte(y&0x78)<<1,
		0x00,
	}
}

func pad(b []byte) []byte {
	for len(b)%16 != 0 {
		b = append(b, idleFiller)
	}
	return b
}

func TestMode5Decryption(t *testing.T) {
	o, ft := newTestDriver(t)

	plaintext := pad(append([]byte{0x2f, 0x2f}, energyRecord(1234)...))
	ft.in.Write(sndNKE)
	ft.in.Write(buildSNDUD(t, plaintext))

	rds := make([]reading.Reading, 10)
	n, err := o.Read(rds)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.True(t, rds[0].Identifier().Matches(
		reading.NewObisIdentifier(obis.MustParse("1-0:1.8.0"))))
	require.Equal(t, 1234.0, rds[0].Value())

	// one ACK for SND_NKE, one for SND_UD
	require.Equal(t, []byte{0xe5, 0xe5}, ft.out.Bytes())
}

func TestAllRecognisedVIFs(t *testing.T) {
	o, ft := newTestDriver(t)

	records := []byte{0x2f, 0x2f}
	records = append(records, energyRecord(100)...)                            // 1.8.0
	records = append(records, 0x04, 0x83, 0x3c, 0x64, 0x00, 0x00, 0x00)        // 2.8.0
	records = append(records, 0x04, 0x2b, 0xc8, 0x00, 0x00, 0x00)              // 1.7.0
	records = append(records, 0x04, 0xab, 0x3c, 0x2c, 0x01, 0x00, 0x00)        // 2.7.0

	ft.in.Write(sndNKE)
	ft.in.Write(buildSNDUD(t, pad(records)))

	rds := make([]reading.Reading, 10)
	n, err := o.Read(rds)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	want := []struct {
		code  string
		value float64
	}{
		{"1.8.0", 100},
		{"2.8.0", 100},
		{"1.7.0", 200},
		{"2.7.0", 300},
	}
	for i, w := range want {
		require.True(t, rds[i].Identifier().Matches(
			reading.NewObisIdentifier(obis.MustParse(w.code))), "reading %d", i)
		require.Equal(t, w.value, rds[i].Value(), "reading %d", i)
	}
}

func TestDuplicateTimestampSuppression(t *testing.T) {
	o, ft := newTestDriver(t)

	telegram := pad(append(append([]byte{0x2f, 0x2f},
		cp48Record(30, 15, 12, 24, 6, 2023)...),
		energyRecord(42)...))

	ft.in.Write(sndNKE)
	ft.in.Write(buildSNDUD(t, telegram))

	rds := make([]reading.Reading, 10)
	n, err := o.Read(rds)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 42.0, rds[0].Value())

	// the identical telegram again: suppressed entirely
	ft.in.Write(buildSNDUD(t, telegram))
	n, err = o.Read(rds)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestSanityCheckRejectsWrongKey(t *testing.T) {
	p, err := NewFromOptions(meter.Options{
		"device": "/dev/null",
		"key":    "00000000000000000000000000000000",
	})
	require.NoError(t, err)
	o := p.(*OMS)
	ft := &fakeTransport{}
	o.t = ft

	plaintext := pad(append([]byte{0x2f, 0x2f}, energyRecord(1)...))
	ft.in.Write(buildSNDUD(t, plaintext)) // encrypted with testKey

	rds := make([]reading.Reading, 10)
	n, err := o.Read(rds)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	// the frame is still acknowledged
	require.Equal(t, []byte{0xe5}, ft.out.Bytes())
}

func TestKeyValidation(t *testing.T) {
	if _, err := NewFromOptions(meter.Options{"device": "/dev/x", "key": "too-short"}); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := NewFromOptions(meter.Options{"device": "/dev/x", "key": "zz78580E79544B145D1A96D0F7E777FA"}); err == nil {
		t.Error("expected error for non-hex key")
	}
	if _, err := NewFromOptions(meter.Options{"key": testKey}); err == nil {
		t.Error("expected error for missing device")
	}
}

func TestUnknownFrameReturnsZero(t *testing.T) {
	o, ft := newTestDriver(t)
	// control 0x20 is neither SND_NKE nor SND_UD
	ft.in.Write([]byte{0x10, 0x20, 0x01, 0x21, 0x16})

	rds := make([]reading.Reading, 10)
	n, err := o.Read(rds)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 0, ft.out.Len())
}
