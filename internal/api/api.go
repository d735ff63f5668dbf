// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api implements the remote middleware clients the per-channel
// uploaders drive.
package api

import (
	"time"

	"github.com/pkg/errors"

	"github.com/volkszaehler/vzlogger/internal/buffer"
	"github.com/volkszaehler/vzlogger/internal/channel"
	"github.com/volkszaehler/vzlogger/internal/session"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

// DefaultTimeout bounds a single POST to the middleware.
const DefaultTimeout = 30 * time.Second

// API is one remote endpoint serving a channel. Send runs a single
// upload cycle over the channel's buffer: snapshot, transfer, mark or
// retain. It is at-least-once; the remote side deduplicates.
type API interface {
	Send() error
	RegisterDevice() error
	Close() error
}

// New builds the client configured for the channel.
func New(ch *channel.Channel, provider *session.Provider, timeout time.Duration) (API, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	switch ch.API() {
	case "volkszaehler":
		return NewVolkszaehler(ch, provider, timeout)
	case "mysmartgrid":
		return NewMySmartGrid(ch, provider, timeout)
	case "influxdb":
		return NewInfluxDB(ch)
	case "null":
		return NewNull(ch), nil
	}
	return nil, errors.Errorf("unknown api %q", ch.API())
}

// snapshot copies the not yet acknowledged readings whose timestamp is
// strictly newer than lastTS out of the buffer and marks everything
// visited as deleted. The caller cleans on success or undeletes to
// retry.
func snapshot(buf *buffer.Buffer, lastTS int64) []reading.Reading {
	var batch []reading.Reading
	buf.Each(func(r *reading.Reading) {
		if r.Deleted() {
			return
		}
		if r.UnixMilli() > lastTS {
			batch = append(batch, *r)
		}
		r.MarkDeleted()
	})
	return batch
}

// aggregate collapses the buffer per the channel's aggregation window
// before a snapshot is taken.
func aggregate(ch *channel.Channel) {
	ch.Buffer().Aggregate(ch.AggTime(), ch.AggFixedInterval())
}
