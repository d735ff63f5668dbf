// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"

	"github.com/volkszaehler/vzlogger/internal/channel"
	"github.com/volkszaehler/vzlogger/pkg/log"
)

// InfluxDB writes readings as points through the blocking write api,
// tagged with the channel uuid.
type InfluxDB struct {
	ch     *channel.Channel
	client influxdb2.Client
	write  influxapi.WriteAPIBlocking

	measurement   string
	lastTimestamp int64
}

func NewInfluxDB(ch *channel.Channel) (*InfluxDB, error) {
	if ch.Middleware() == "" {
		return nil, errors.Errorf("channel %s: missing middleware (influxdb server url)", ch.Name())
	}

	cfg := ch.Config()
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = "vz"
	}

	client := influxdb2.NewClient(ch.Middleware(), cfg.Token)
	return &InfluxDB{
		ch:          ch,
		client:      client,
		write:       client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
	}, nil
}

func (i *InfluxDB) Send() error {
	buf := i.ch.Buffer()
	aggregate(i.ch)

	batch := snapshot(buf, i.lastTimestamp)
	if len(batch) == 0 {
		buf.Clean()
		return nil
	}

	pts := make([]*write.Point, 0, len(batch))
	for idx := range batch {
		pts = append(pts, write.NewPoint(
			i.measurement,
			map[string]string{"uuid": i.ch.UUID()},
			map[string]interface{}{"value": batch[idx].Value()},
			batch[idx].Time(),
		))
	}

	if err := i.write.WritePoint(context.Background(), pts...); err != nil {
		buf.Undelete()
		return errors.Wrap(err, "influxdb write")
	}

	log.Debugf(i.ch.Name(), "wrote %d points", len(pts))
	i.lastTimestamp = batch[len(batch)-1].UnixMilli()
	buf.Clean()
	return nil
}

func (i *InfluxDB) RegisterDevice() error { return nil }

func (i *InfluxDB) Close() error {
	i.client.Close()
	return nil
}
