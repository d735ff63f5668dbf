// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes internal counters on the local HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vzlogger_readings_total",
		Help: "Readings produced per meter.",
	}, []string{"meter"})

	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vzlogger_uploads_total",
		Help: "Upload cycles per channel and result.",
	}, []string{"channel", "result"})

	BufferSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vzlogger_buffer_readings",
		Help: "Readings currently buffered per channel.",
	}, []string{"channel"})
)
