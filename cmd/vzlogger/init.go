// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/volkszaehler/vzlogger/internal/buffer"
	"github.com/volkszaehler/vzlogger/internal/channel"
	"github.com/volkszaehler/vzlogger/internal/config"
	"github.com/volkszaehler/vzlogger/internal/meter"
	"github.com/volkszaehler/vzlogger/internal/mqtt"
	"github.com/volkszaehler/vzlogger/internal/push"
	"github.com/volkszaehler/vzlogger/internal/session"
	"github.com/volkszaehler/vzlogger/internal/supervisor"
	"github.com/volkszaehler/vzlogger/pkg/log"
	"github.com/volkszaehler/vzlogger/pkg/reading"

	// register the protocol drivers
	_ "github.com/volkszaehler/vzlogger/internal/meter/d0"
	_ "github.com/volkszaehler/vzlogger/internal/meter/file"
	_ "github.com/volkszaehler/vzlogger/internal/meter/oms"
	_ "github.com/volkszaehler/vzlogger/internal/meter/random"
)

// buildSupervisor turns the parsed configuration into the runtime
// object graph. Meter and channel names come from sequences owned
// here, so they stay unique across the process without global state.
func buildSupervisor(cfg *config.Config, provider *session.Provider) (*supervisor.Supervisor, error) {
	sup := supervisor.New(supervisor.Options{
		Daemon:        cfg.Daemon,
		Local:         cfg.Local.Enabled,
		RetryPause:    cfg.Retry,
		UploadTimeout: time.Duration(cfg.Timeout) * time.Second,
	}, provider)

	chseq := 0
	for i, mc := range cfg.Meters {
		name := fmt.Sprintf("mtr%d", i)

		mtr, err := meter.New(name, mc.Protocol, meter.Options(mc.Options), mc.Enabled, mc.Interval)
		if err != nil {
			return nil, err
		}
		if mc.Interval > 0 && !mtr.AllowInterval() {
			log.Warnf(name, "the interval option is not supported by the %s protocol", mc.Protocol)
		}

		mapping := &supervisor.MeterMap{Meter: mtr}
		for _, cc := range mc.Channels {
			chname := fmt.Sprintf("chn%d", chseq)
			chseq++

			id := reading.NilIdentifier()
			if cc.Identifier != "" {
				if id, err = reading.ParseIdentifier(mc.Protocol, cc.Identifier); err != nil {
					return nil, errors.Wrapf(err, "channel %s", chname)
				}
			}

			aggmode, err := buffer.ParseAggMode(cc.AggMode)
			if err != nil {
				return nil, errors.Wrapf(err, "channel %s", chname)
			}

			ch, err := channel.New(chname, channel.Config{
				UUID:             cc.UUID,
				API:              cc.API,
				Middleware:       cc.Middleware,
				Identifier:       id,
				AggMode:          aggmode,
				AggTime:          cc.AggTime,
				AggFixedInterval: cc.AggFixedInterval,
				Keep:             cfg.Local.Buffer,
				Token:            cc.Token,
				Org:              cc.Org,
				Bucket:           cc.Bucket,
				Measurement:      cc.Measurement,
				SecretKey:        cc.SecretKey,
				Device:           cc.Device,
				Type:             cc.Type,
				Scaler:           cc.Scaler,
				Interval:         cc.Interval,
				Name:             cc.Name,
			})
			if err != nil {
				return nil, err
			}
			mapping.Channels = append(mapping.Channels, ch)
		}

		sup.AddMapping(mapping)
	}

	if len(cfg.Push) > 0 {
		urls := make([]string, 0, len(cfg.Push))
		for _, p := range cfg.Push {
			urls = append(urls, p.URL)
		}
		sup.AddSink(push.NewServer(urls, provider, time.Duration(cfg.Timeout)*time.Second))
		log.Infof("push", "forwarding to %d middleware(s)", len(urls))
	}

	if cfg.MQTT != nil && cfg.MQTT.Enabled {
		client, err := mqtt.New(cfg.MQTT)
		if err != nil {
			return nil, err
		}
		sup.AddSink(client)
	}

	return sup, nil
}
