// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/volkszaehler/vzlogger/internal/channel"
	"github.com/volkszaehler/vzlogger/internal/session"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

func newMsgChannel(t *testing.T, middleware, typ string) *channel.Channel {
	t.Helper()
	ch, err := channel.New("chn0", channel.Config{
		UUID:       testUUID,
		API:        "mysmartgrid",
		Middleware: middleware,
		Identifier: reading.NilIdentifier(),
		SecretKey:  "secret-key",
		Device:     "c97e9039-49ad-49b9-b4c5-5df2d1dc4e3f",
		Type:       typ,
	})
	require.NoError(t, err)
	return ch
}

func TestMySmartGridValidation(t *testing.T) {
	ch, err := channel.New("chn0", channel.Config{
		UUID:       testUUID,
		API:        "mysmartgrid",
		Middleware: "http://msg",
		Identifier: reading.NilIdentifier(),
	})
	require.NoError(t, err)
	if _, err := NewMySmartGrid(ch, session.NewProvider(), time.Second); err == nil {
		t.Error("expected error for missing secretKey")
	}
}

func TestMySmartGridSensorMeasurements(t *testing.T) {
	type seen struct {
		path   string
		body   []byte
		digest string
	}
	var requests []seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, seen{r.URL.Path, body, r.Header.Get("X-Digest")})
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := newMsgChannel(t, srv.URL, "sensor")
	m, err := NewMySmartGrid(ch, session.NewProvider(), time.Second)
	require.NoError(t, err)

	// counter readings: the first becomes the baseline
	ch.Push(reading.New(1000, time.Unix(100, 0), reading.NilIdentifier()))
	ch.Push(reading.New(1010, time.Unix(200, 0), reading.NilIdentifier()))
	ch.Push(reading.New(1025, time.Unix(300, 0), reading.NilIdentifier()))
	require.NoError(t, m.Send())

	require.Len(t, requests, 1)
	req := requests[0]
	require.Equal(t, "/sensor/"+stripDashes(testUUID), req.path)

	var payload struct {
		Measurements [][]int64 `json:"measurements"`
	}
	require.NoError(t, json.Unmarshal(req.body, &payload))
	require.Equal(t, [][]int64{{200, 10}, {300, 25}}, payload.Measurements)

	// body is signed with the device secret
	mac := hmac.New(sha1.New, []byte("secret-key"))
	mac.Write(req.body)
	require.Equal(t, hex.EncodeToString(mac.Sum(nil)), req.digest)

	require.Equal(t, 0, ch.Buffer().Len())
}

func TestMySmartGridDeviceHeartbeat(t *testing.T) {
	var bodies [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := newMsgChannel(t, srv.URL, "device")
	m, err := NewMySmartGrid(ch, session.NewProvider(), time.Second)
	require.NoError(t, err)
	m.interval = 0 // no rate limit in the test

	// first message registers the device key
	require.NoError(t, m.Send())
	require.Len(t, bodies, 1)
	require.Contains(t, string(bodies[0]), `"key":"secret-key"`)

	// subsequent messages are heartbeats
	require.NoError(t, m.Send())
	require.Len(t, bodies, 2)
	require.Contains(t, string(bodies[1]), `"uptime"`)
}

func TestMySmartGridFailureRetains(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := newMsgChannel(t, srv.URL, "sensor")
	m, err := NewMySmartGrid(ch, session.NewProvider(), time.Second)
	require.NoError(t, err)

	ch.Push(reading.New(1000, time.Unix(100, 0), reading.NilIdentifier()))
	ch.Push(reading.New(1010, time.Unix(200, 0), reading.NilIdentifier()))
	require.Error(t, m.Send())

	// buffer entries stay undeleted for the retry
	n := 0
	ch.Buffer().Each(func(r *reading.Reading) {
		require.False(t, r.Deleted())
		n++
	})
	require.Equal(t, 0, n) // snapshot already moved them to the local queue
}
