// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package api

import (
	"github.com/volkszaehler/vzlogger/internal/channel"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

// Null discards readings. It still drains the buffer so channels that
// only feed the local view or the fan-out sinks do not grow without
// bound.
type Null struct {
	ch *channel.Channel
}

func NewNull(ch *channel.Channel) *Null {
	return &Null{ch: ch}
}

func (n *Null) Send() error {
	buf := n.ch.Buffer()
	aggregate(n.ch)
	buf.Each(func(r *reading.Reading) { r.MarkDeleted() })
	buf.Clean()
	return nil
}

func (n *Null) RegisterDevice() error { return nil }
func (n *Null) Close() error          { return nil }
