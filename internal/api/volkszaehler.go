// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"bytes"
	"context"
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

const userAgent = "vzlogger/1.0"

// Volkszaehler posts bare [[t_ms, value], ...] tuple arrays to
// {middleware}/data/{uuid}.json. The session provider serialises
// concurrent uploads against the same middleware.
type Volkszaehler struct {
	ch       *channel.Channel
	provider *session.Provider
	url      string
	timeout  time.Duration

	// highest timestamp acknowledged by the middleware; the snapshot
	// monotonicity guard keys off it
	lastTimestamp int64
}

func NewVolkszaehler(ch *channel.Channel, provider *session.Provider, timeout time.Duration) (*Volkszaehler, error) {
	if ch.Middleware() == "" {
		return nil, errors.Errorf("channel %s: missing middleware", ch.Name())
	}
	return &Volkszaehler{
		ch:       ch,
		provider: provider,
		url:      fmt.Sprintf("%s/data/%s.json", strings.TrimRight(ch.Middleware(), "/"), ch.UUID()),
		timeout:  timeout,
	}, nil
}

// LastTimestamp returns the most recent acknowledged timestamp in
// milliseconds.
func (v *Volkszaehler) LastTimestamp() int64 { return v.lastTimestamp }

func (v *Volkszaehler) Send() error {
	buf := v.ch.Buffer()
	aggregate(v.ch)

	batch := snapshot(buf, v.lastTimestamp)
	if len(batch) == 0 {
		buf.Clean()
		log.Debugf(v.ch.Name(), "JSON request body is empty, nothing to send now")
		return nil
	}

	body, err := json.Marshal(tuples(batch))
	if err != nil {
		buf.Undelete()
		return errors.Wrap(err, "marshal tuples")
	}
	log.Debugf(v.ch.Name(), "JSON request body: %s", body)

	client := v.provider.Get(v.ch.Middleware())
	status, respBody, err := v.post(client, body)
	v.provider.Return(v.ch.Middleware(), client)

	if err == nil && status >= 200 && status < 300 {
		log.Debugf(v.ch.Name(), "request succeeded with code %d", status)
		v.lastTimestamp = batch[len(batch)-1].UnixMilli()
		buf.Clean()
		return nil
	}

	// failed: retain everything for the retry
	buf.Undelete()

	if err != nil {
		return errors.Wrap(err, "middleware request")
	}

	if msg, dup := parseException(respBody); dup {
		// the middleware already stores the oldest tuple; drop it to
		// break the poison pill loop
		log.Warnf(v.ch.Name(), "middleware says duplicated value, removing first entry")
		v.dropOldest(batch[0])
		buf.Clean()
	} else if msg != "" {
		log.Errorf(v.ch.Name(), "error from middleware: %s", msg)
	}
	return errors.Errorf("middleware returned status %d", status)
}

func (v *Volkszaehler) post(client *http.Client, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	// defeat lighttpd's 100-continue handling
	req.Header.Set("Expect", "")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

// dropOldest permanently deletes the buffer entry matching the oldest
// snapshot reading.
func (v *Volkszaehler) dropOldest(oldest reading.Reading) {
	dropped := false
	v.ch.Buffer().Each(func(r *reading.Reading) {
		if !dropped && !r.Deleted() && r.UnixMilli() == oldest.UnixMilli() && r.Value() == oldest.Value() {
			r.MarkDeleted()
			dropped = true
		}
	})
}

func (v *Volkszaehler) RegisterDevice() error {
	// the volkszaehler middleware has no device registration
	log.Infof(v.ch.Name(), "device registration is not required for the volkszaehler api")
	return nil
}

func (v *Volkszaehler) Close() error { return nil }

// tuples renders the wire format: integer milliseconds and the value.
func tuples(batch []reading.Reading) [][]json.Number {
	out := make([][]json.Number, 0, len(batch))
	for i := range batch {
		out = append(out, []json.Number{
			json.Number(fmt.Sprintf("%d", batch[i].UnixMilli())),
			json.Number(fmt.Sprintf("%g", batch[i].Value())),
		})
	}
	return out
}

// parseException decodes the middleware error body and reports whether
// it signals a duplicate entry.
func parseException(body []byte) (msg string, duplicate bool) {
	var exc struct {
		Exception struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"exception"`
	}
	if err := json.Unmarshal(body, &exc); err != nil {
		return "", false
	}
	if exc.Exception.Type == "" && exc.Exception.Message == "" {
		return "", false
	}
	msg = fmt.Sprintf("%q: %q", exc.Exception.Type, exc.Exception.Message)
	return msg, strings.Contains(exc.Exception.Message, "Duplicate entry")
}
