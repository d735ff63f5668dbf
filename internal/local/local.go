// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package local serves the read-only introspection surface: the
// last-known-good reading and recent samples per channel, plus the
// internal metrics.
package local

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/volkszaehler/vzlogger/internal/channel"
	"github.com/volkszaehler/vzlogger/internal/config"
	"github.com/volkszaehler/vzlogger/internal/supervisor"
	"github.com/volkszaehler/vzlogger/pkg/log"
)

const generator = "vzlogger"
const version = "1.0"

// Server renders the live per-channel state of the supervisor.
type Server struct {
	sup *supervisor.Supervisor
	cfg config.Local
}

func NewServer(sup *supervisor.Supervisor, cfg config.Local) *Server {
	return &Server{sup: sup, cfg: cfg}
}

// Handler builds the router with compression, panic recovery and
// request logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/{uuid}.json", s.handleChannel).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))

	return handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Debugf("http", "%s %s (%d, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode,
			time.Since(params.TimeStamp).Milliseconds())
	})
}

type channelState struct {
	UUID     string      `json:"uuid"`
	Last     *float64    `json:"last,omitempty"`
	LastTime *int64      `json:"lastTime,omitempty"`
	Interval int         `json:"interval"`
	Protocol string      `json:"protocol"`
	Tuples   [][]float64 `json:"tuples,omitempty"`
}

type response struct {
	Version   string          `json:"version"`
	Generator string          `json:"generator"`
	Data      []channelState  `json:"data"`
	Exception *localException `json:"exception,omitempty"`
}

type localException struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (s *Server) state(m *supervisor.MeterMap, ch *channel.Channel) channelState {
	st := channelState{
		UUID:     ch.UUID(),
		Interval: m.Meter.Interval(),
		Protocol: m.Meter.Details().Name,
	}
	if last, ok := ch.Last(); ok {
		v := last.Value()
		ts := last.UnixMilli()
		st.Last = &v
		st.LastTime = &ts
	}
	for _, r := range ch.Buffer().Last(ch.Buffer().Keep()) {
		st.Tuples = append(st.Tuples, []float64{float64(r.UnixMilli()), r.Value()})
	}
	return st
}

// handleChannel serves one channel by uuid. mode=comet blocks until
// new data arrived or the configured timeout passed.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	comet := r.URL.Query().Get("mode") == "comet"

	resp := response{Version: version, Generator: generator, Data: []channelState{}}
	found := false

	for _, m := range s.sup.Mappings() {
		for _, ch := range m.Channels {
			if ch.UUID() != uuid {
				continue
			}
			found = true
			if comet && s.cfg.Timeout > 0 {
				ch.Buffer().WaitTimeout(time.Duration(s.cfg.Timeout) * time.Second)
			}
			resp.Data = append(resp.Data, s.state(m, ch))
		}
	}

	status := http.StatusOK
	if !found {
		status = http.StatusNotFound
	}
	writeJSON(w, status, resp)
}

// handleIndex serves all channels, gated by the index option.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	resp := response{Version: version, Generator: generator, Data: []channelState{}}

	if !s.cfg.Index {
		resp.Exception = &localException{Message: "channel index is disabled", Code: 0}
		writeJSON(w, http.StatusNotFound, resp)
		return
	}

	for _, m := range s.sup.Mappings() {
		for _, ch := range m.Channels {
			resp.Data = append(resp.Data, s.state(m, ch))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("http", "encode response: %s", err)
	}
}
