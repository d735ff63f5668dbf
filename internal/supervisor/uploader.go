// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package supervisor

import (
	"github.com/volkszaehler/vzlogger/internal/api"
	"github.com/volkszaehler/vzlogger/internal/channel"
	"github.com/volkszaehler/vzlogger/internal/metrics"
	"github.com/volkszaehler/vzlogger/pkg/log"
)

// uploaderLoop waits on the channel's condition variable and runs one
// upload cycle per wake-up. A failed upload retains the buffer and
// pauses before the next attempt.
func (s *Supervisor) uploaderLoop(ch *channel.Channel, a api.API) {
	defer s.wg.Done()
	defer a.Close()

	log.Debugf(ch.Name(), "using %s api", ch.API())

	for {
		if !ch.Buffer().Wait() {
			// closed; flush what is still buffered, best effort
			if err := a.Send(); err != nil {
				log.Warnf(ch.Name(), "final upload failed: %s", err)
			}
			break
		}

		err := a.Send()
		metrics.BufferSize.WithLabelValues(ch.Name()).Set(float64(ch.Buffer().Len()))
		if err != nil {
			metrics.UploadsTotal.WithLabelValues(ch.Name(), "error").Inc()
			log.Errorf(ch.Name(), "upload failed: %s", err)
			if s.opts.Daemon {
				log.Infof(ch.Name(), "waiting %d secs for next request due to previous failure",
					s.opts.RetryPause)
				if !s.sleep(s.opts.RetryPause) {
					break
				}
			}
		} else {
			metrics.UploadsTotal.WithLabelValues(ch.Name(), "ok").Inc()
		}

		if !s.opts.Daemon {
			break
		}
	}

	log.Debugf(ch.Name(), "stopped logging")
}
