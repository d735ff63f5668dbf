// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config mirrors the JSON configuration file.
type Config struct {
	Daemon     bool   `json:"daemon"`
	Foreground bool   `json:"foreground"`
	Log        string `json:"log"`
	Retry      int    `json:"retry"`
	Timeout    int    `json:"timeout"` // upload timeout, seconds
	Verbosity  int    `json:"verbosity"`

	Local  Local         `json:"local"`
	Push   []Push        `json:"push"`
	MQTT   *MQTT         `json:"mqtt"`
	Meters []MeterConfig `json:"meters"`
}

// Local configures the read-only HTTP surface.
type Local struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
	Timeout int  `json:"timeout"` // comet long-poll bound, seconds
	Buffer  int  `json:"buffer"`  // readings kept visible per channel
	Index   bool `json:"index"`   // expose the channel index on /
}

// Push configures one push middleware destination.
type Push struct {
	URL string `json:"url"`
}

// MQTT configures the broker fan-out.
type MQTT struct {
	Enabled   bool   `json:"enabled"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	User      string `json:"user"`
	Pass      string `json:"pass"`
	Topic     string `json:"topic"`
	Retain    bool   `json:"retain"`
	QoS       int    `json:"qos"`
	Timestamp bool   `json:"timestamp"`
}

// ChannelConfig is one logical time series of a meter.
type ChannelConfig struct {
	UUID             string `json:"uuid"`
	Middleware       string `json:"middleware"`
	Identifier       string `json:"identifier"`
	API              string `json:"api"`
	AggMode          string `json:"aggmode"`
	AggTime          int    `json:"aggtime"`
	AggFixedInterval bool   `json:"aggfixedinterval"`

	// influxdb api only
	Token       string `json:"token"`
	Org         string `json:"org"`
	Bucket      string `json:"bucket"`
	Measurement string `json:"measurement"`

	// mysmartgrid api only
	SecretKey string `json:"secretKey"`
	Device    string `json:"device"`
	Type      string `json:"type"`
	Scaler    int    `json:"scaler"`
	Interval  int    `json:"interval"`
	Name      string `json:"name"`
}

// MeterConfig holds the common meter keys; everything else on the
// meter object is protocol specific and passes through as Options.
type MeterConfig struct {
	Protocol string
	Enabled  bool
	Interval int
	Channels []ChannelConfig
	Options  map[string]any
}

var meterKnownKeys = map[string]bool{
	"protocol": true, "enabled": true, "interval": true,
	"channels": true, "channel": true,
}

// UnmarshalJSON splits the known keys from the protocol specific ones.
func (m *MeterConfig) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var aux struct {
		Protocol string          `json:"protocol"`
		Enabled  bool            `json:"enabled"`
		Interval int             `json:"interval"`
		Channels []ChannelConfig `json:"channels"`
		Channel  *ChannelConfig  `json:"channel"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	m.Protocol = aux.Protocol
	m.Enabled = aux.Enabled
	m.Interval = aux.Interval
	m.Channels = aux.Channels
	if aux.Channel != nil {
		m.Channels = append(m.Channels, *aux.Channel)
	}

	m.Options = map[string]any{}
	for k, v := range raw {
		if meterKnownKeys[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		m.Options[k] = val
	}
	return nil
}

// Load reads, validates and decodes the configuration file. Any error
// is fatal at start-up.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(raw)
}

// Parse validates and decodes an in-memory configuration.
func Parse(raw []byte) (*Config, error) {
	if err := Validate(raw); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}

	cfg := &Config{
		Retry: 15,
		Local: Local{Port: 8080, Timeout: 30, Buffer: 600},
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if len(cfg.Meters) == 0 {
		return nil, errors.New("at least one meter required in config")
	}
	for i := range cfg.Meters {
		if cfg.Meters[i].Protocol == "" {
			return nil, errors.Errorf("meter %d: missing protocol", i)
		}
	}
	return cfg, nil
}
