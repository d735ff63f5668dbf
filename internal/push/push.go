// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package push forwards routed readings to additional middlewares in
// the aggregated {"data":[{"uuid","tuples"}]} shape.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/volkszaehler/vzlogger/internal/channel"
	"github.com/volkszaehler/vzlogger/internal/session"
	"github.com/volkszaehler/vzlogger/pkg/log"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

// waitTimeout bounds one wait for data so the sender loop can observe
// shutdown.
const waitTimeout = 5 * time.Second

type tuple struct {
	ms    int64
	value float64
}

// DataList collects tuples per uuid until the sender drains them.
type DataList struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   map[string][]tuple
	closed bool
}

func NewDataList() *DataList {
	l := &DataList{data: map[string][]tuple{}}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Add enqueues one tuple and wakes the sender.
func (l *DataList) Add(uuid string, ms int64, value float64) {
	l.mu.Lock()
	l.data[uuid] = append(l.data[uuid], tuple{ms, value})
	l.mu.Unlock()
	l.cond.Broadcast()
}

func (l *DataList) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()
}

// waitForData blocks until tuples arrived, the list closed or the
// timeout passed; it drains and returns the collected map, nil on
// timeout.
func (l *DataList) waitForData() map[string][]tuple {
	expired := false
	t := time.AfterFunc(waitTimeout, func() {
		l.mu.Lock()
		expired = true
		l.mu.Unlock()
		l.cond.Broadcast()
	})
	defer t.Stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.data) == 0 && !l.closed && !expired {
		l.cond.Wait()
	}
	if len(l.data) == 0 {
		return nil
	}
	out := l.data
	l.data = map[string][]tuple{}
	return out
}

// Server drives the sender loop against all configured destinations.
// It implements the supervisor's Sink.
type Server struct {
	list     *DataList
	urls     []string
	provider *session.Provider
	timeout  time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewServer(urls []string, provider *session.Provider, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &Server{
		list:     NewDataList(),
		urls:     urls,
		provider: provider,
		timeout:  timeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// PublishReading enqueues a routed reading for all push destinations.
func (s *Server) PublishReading(ch *channel.Channel, r reading.Reading) {
	if ch.UUID() == "" {
		return
	}
	s.list.Add(ch.UUID(), r.UnixMilli(), r.Value())
}

// Close stops the sender loop and waits for it to finish.
func (s *Server) Close() {
	close(s.stop)
	s.list.close()
	<-s.done
}

func (s *Server) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		dataMap := s.list.waitForData()
		if dataMap == nil {
			continue // timeout, check stop again
		}

		body := generateJSON(dataMap)
		log.Debugf("push", "push: %s", body)

		for _, url := range s.urls {
			if err := s.send(url, body); err != nil {
				log.Errorf("push", "send to %s failed: %s", url, err)
			}
		}
	}
}

// send posts the body through the session provider, serialising
// against other users of the same destination.
func (s *Server) send(url string, body []byte) error {
	client := s.provider.Get(url)
	defer s.provider.Return(url, client)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

type pushEntry struct {
	UUID   string      `json:"uuid"`
	Tuples [][]float64 `json:"tuples"`
}

// generateJSON renders the aggregated body with deterministic uuid
// order.
func generateJSON(dataMap map[string][]tuple) []byte {
	uuids := make([]string, 0, len(dataMap))
	for u := range dataMap {
		uuids = append(uuids, u)
	}
	sort.Strings(uuids)

	var payload struct {
		Data []pushEntry `json:"data"`
	}
	payload.Data = make([]pushEntry, 0, len(uuids))
	for _, u := range uuids {
		e := pushEntry{UUID: u}
		for _, t := range dataMap[u] {
			e.Tuples = append(e.Tuples, []float64{float64(t.ms), t.value})
		}
		payload.Data = append(payload.Data, e)
	}

	body, _ := json.Marshal(payload)
	return body
}
