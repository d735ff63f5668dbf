// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mqtt publishes every routed reading to a broker, one topic
// per channel and identifier.
package mqtt

import (
	"fmt"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/volkszaehler/vzlogger/internal/channel"
	"github.com/volkszaehler/vzlogger/internal/config"
	"github.com/volkszaehler/vzlogger/pkg/log"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

const connectTimeout = 10 * time.Second

// Client wraps the paho connection. It implements the supervisor's
// Sink.
type Client struct {
	c         paho.Client
	topic     string
	retain    bool
	qos       byte
	timestamp bool
}

// New connects to the broker. A refused connection is an error; the
// caller decides whether that is fatal.
func New(cfg *config.MQTT) (*Client, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, errors.New("mqtt: host and port required")
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return nil, errors.Errorf("mqtt: invalid qos %d", cfg.QoS)
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "vzlogger"
	}
	topic = strings.TrimRight(topic, "/")

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(fmt.Sprintf("vzlogger_%d", os.Getpid())).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)
	if cfg.User != "" {
		opts.SetUsername(cfg.User).SetPassword(cfg.Pass)
	}

	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		err := token.Error()
		if err == nil {
			err = errors.New("connect timed out")
		}
		return nil, errors.Wrap(err, "mqtt connect")
	}
	log.Infof("mqtt", "connected to %s:%d", cfg.Host, cfg.Port)

	return &Client{
		c:         c,
		topic:     topic,
		retain:    cfg.Retain,
		qos:       byte(cfg.QoS),
		timestamp: cfg.Timestamp,
	}, nil
}

// PublishReading emits the reading under
// <topic>/<channel>/<identifier>.
func (m *Client) PublishReading(ch *channel.Channel, r reading.Reading) {
	topic := fmt.Sprintf("%s/%s/%s", m.topic, ch.Name(), r.Identifier())

	var payload string
	if m.timestamp {
		payload = fmt.Sprintf("[%d,%g]", r.UnixMilli(), r.Value())
	} else {
		payload = fmt.Sprintf("%g", r.Value())
	}

	token := m.c.Publish(topic, m.qos, m.retain, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Warnf("mqtt", "publish %s failed: %s", topic, err)
		}
	}()
}

// Close disconnects cleanly.
func (m *Client) Close() {
	m.c.Disconnect(250)
	log.Debugf("mqtt", "disconnected")
}
