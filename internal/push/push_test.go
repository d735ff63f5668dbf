// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package push

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/volkszaehler/vzlogger/internal/channel"
	"github.com/volkszaehler/vzlogger/internal/session"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

func TestGenerateJSON(t *testing.T) {
	dm := map[string][]tuple{
		"b": {{2000, 2}},
		"a": {{1000, 1.5}, {1500, 2}},
	}
	got := string(generateJSON(dm))
	want := `{"data":[{"uuid":"a","tuples":[[1000,1.5],[1500,2]]},{"uuid":"b","tuples":[[2000,2]]}]}`
	require.Equal(t, want, got)
}

func TestWaitForDataClose(t *testing.T) {
	l := NewDataList()
	start := time.Now()
	go func() {
		time.Sleep(10 * time.Millisecond)
		l.close()
	}()
	if dm := l.waitForData(); dm != nil {
		t.Fatalf("got %v", dm)
	}
	if time.Since(start) > time.Second {
		t.Fatal("close did not wake the waiter")
	}
}

func TestServerPostsAggregatedBody(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
	}))
	defer srv.Close()

	s := NewServer([]string{srv.URL}, session.NewProvider(), time.Second)

	ch, err := channel.New("chn0", channel.Config{
		UUID:       "a97e9039-49ad-49b9-b4c5-5df2d1dc4e3f",
		API:        "null",
		Identifier: reading.NilIdentifier(),
	})
	require.NoError(t, err)

	s.PublishReading(ch, reading.New(1.5, time.UnixMilli(1000), reading.NilIdentifier()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) > 0
	}, 2*time.Second, 10*time.Millisecond)

	s.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, bodies[0], `"uuid":"a97e9039-49ad-49b9-b4c5-5df2d1dc4e3f"`)
	require.Contains(t, bodies[0], `[1000,1.5]`)
}
