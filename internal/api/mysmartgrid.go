// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/volkszaehler/vzlogger/internal/channel"
	"github.com/volkszaehler/vzlogger/internal/session"
	"github.com/volkszaehler/vzlogger/pkg/log"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

// MySmartGrid speaks the msg API: sensor channels post differential
// counter measurements, device channels post registration and
// heartbeat messages. Every body is authenticated with an HMAC-SHA1
// digest over the payload, keyed with the device secret.
type MySmartGrid struct {
	ch       *channel.Channel
	provider *session.Provider
	timeout  time.Duration

	middleware string
	secretKey  string
	deviceID   string
	sensor     bool // else device
	scaler     int
	interval   int

	firstTS      int64 // seconds; also the rate limit anchor
	firstCounter int64
	lastCounter  int64
	values       []reading.Reading
}

func NewMySmartGrid(ch *channel.Channel, provider *session.Provider, timeout time.Duration) (*MySmartGrid, error) {
	cfg := ch.Config()
	if cfg.Middleware == "" {
		return nil, errors.Errorf("channel %s: missing middleware", ch.Name())
	}
	if cfg.SecretKey == "" {
		return nil, errors.Errorf("channel %s: missing secretKey", ch.Name())
	}
	if cfg.Device == "" {
		return nil, errors.Errorf("channel %s: missing device", ch.Name())
	}

	m := &MySmartGrid{
		ch:         ch,
		provider:   provider,
		timeout:    timeout,
		middleware: strings.TrimRight(cfg.Middleware, "/"),
		secretKey:  cfg.SecretKey,
		deviceID:   stripDashes(cfg.Device),
		scaler:     cfg.Scaler,
		interval:   cfg.Interval,
	}
	if m.scaler == 0 {
		m.scaler = 1
	}
	if m.interval <= 0 {
		m.interval = 300
	}

	switch cfg.Type {
	case "sensor":
		m.sensor = true
	case "device":
	default:
		return nil, errors.Errorf("channel %s: bad value for channel type %q", ch.Name(), cfg.Type)
	}

	return m, nil
}

// uuid returns the channel uuid without dashes, the form the msg API
// expects in urls.
func (m *MySmartGrid) uuid() string { return stripDashes(m.ch.UUID()) }

func stripDashes(s string) string { return strings.ReplaceAll(s, "-", "") }

func (m *MySmartGrid) Send() error {
	now := time.Now().Unix()
	if m.firstTS > 0 && now-m.firstTS < int64(m.interval) {
		log.Debugf(m.ch.Name(), "mysmartgrid: skip message")
		return nil
	}

	prevTS, prevFirst, prevLast := m.firstTS, m.firstCounter, m.lastCounter

	var url string
	var body []byte
	if m.sensor {
		url = fmt.Sprintf("%s/sensor/%s", m.middleware, m.uuid())
		body = m.measurementsBody()
	} else {
		url = fmt.Sprintf("%s/device/%s", m.middleware, m.uuid())
		body = m.deviceBody()
	}
	if body == nil {
		log.Debugf(m.ch.Name(), "JSON request body is empty, nothing to send now")
		return nil
	}

	if err := m.post(url, body); err != nil {
		// rewind the send state so the retry renders the same message
		m.firstTS, m.firstCounter, m.lastCounter = prevTS, prevFirst, prevLast
		m.ch.Buffer().Undelete()
		return err
	}
	m.values = m.values[:0]
	return nil
}

// RegisterDevice registers the device, sends a heartbeat and
// configures the sensor, as the registration entry path requires.
func (m *MySmartGrid) RegisterDevice() error {
	deviceURL := fmt.Sprintf("%s/device/%s", m.middleware, m.deviceID)

	reg, _ := json.Marshal(map[string]string{"key": m.secretKey})
	if err := m.post(deviceURL, reg); err != nil {
		return errors.Wrap(err, "device registration")
	}

	if err := m.post(deviceURL, m.heartbeatBody()); err != nil {
		return errors.Wrap(err, "heartbeat")
	}

	sensorURL := fmt.Sprintf("%s/sensor/%s", m.middleware, m.uuid())
	sensor, _ := json.Marshal(map[string]any{
		"config": map[string]any{
			"device":   m.deviceID,
			"function": m.ch.Config().Name,
			"enable":   1,
		},
	})
	if err := m.post(sensorURL, sensor); err != nil {
		return errors.Wrap(err, "sensor registration")
	}
	return nil
}

func (m *MySmartGrid) Close() error { return nil }

// deviceBody drains the buffer and yields the registration message on
// the first call, heartbeats afterwards.
func (m *MySmartGrid) deviceBody() []byte {
	buf := m.ch.Buffer()
	buf.Each(func(r *reading.Reading) { r.MarkDeleted() })
	buf.Clean()

	first := m.firstTS == 0
	m.firstTS = time.Now().Unix()
	if first {
		body, _ := json.Marshal(map[string]string{"key": m.secretKey})
		return body
	}
	return m.heartbeatBody()
}

func (m *MySmartGrid) heartbeatBody() []byte {
	body, _ := json.Marshal(map[string]any{
		"memtotal":   128,
		"version":    "1.0.0",
		"memcached":  128,
		"membuffers": 12,
		"memfree":    1,
		"uptime":     1,
		"reset":      1,
	})
	return body
}

// measurementsBody snapshots the buffer and renders differential
// counter tuples: the first counter value becomes the baseline, later
// tuples carry value minus baseline at second resolution.
func (m *MySmartGrid) measurementsBody() []byte {
	buf := m.ch.Buffer()
	aggregate(m.ch)

	var lastTS int64
	if len(m.values) > 0 {
		lastTS = m.values[len(m.values)-1].Time().Unix()
	}
	buf.Each(func(r *reading.Reading) {
		if r.Deleted() {
			return
		}
		if r.Time().Unix() > lastTS {
			m.values = append(m.values, *r)
			lastTS = r.Time().Unix()
		}
		r.MarkDeleted()
	})
	buf.Clean()

	if len(m.values) < 1 || (len(m.values) < 2 && m.firstCounter == 0) {
		return nil
	}

	tuples := make([][]int64, 0, len(m.values))
	for i := range m.values {
		ts := m.values[i].Time().Unix()
		value := int64(m.values[i].Value() * float64(m.scaler))

		if m.firstCounter < 1 {
			m.firstCounter = value
			m.lastCounter = value
			continue
		}
		if m.firstTS < ts {
			m.firstTS = ts
			tuples = append(tuples, []int64{ts, value - m.firstCounter})
			m.lastCounter = value
		}
	}

	body, _ := json.Marshal(map[string]any{"measurements": tuples})
	return body
}

// post sends one signed request through the session provider.
func (m *MySmartGrid) post(url string, body []byte) error {
	log.Debugf(m.ch.Name(), "JSON request body: %s", body)

	client := m.provider.Get(m.middleware)
	defer m.provider.Return(m.middleware, client)

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Version", "1.0")
	req.Header.Set("X-Digest", m.digest(body))

	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "middleware request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if msg, _ := parseException(data); msg != "" {
			log.Errorf(m.ch.Name(), "error from middleware: %s", msg)
		}
		return errors.Errorf("middleware returned status %d", resp.StatusCode)
	}
	return nil
}

// digest computes the hex HMAC-SHA1 of the body under the device
// secret.
func (m *MySmartGrid) digest(body []byte) string {
	mac := hmac.New(sha1.New, []byte(m.secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
