// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package supervisor

import (
	"time"

	"github.com/volkszaehler/vzlogger/internal/metrics"
	"github.com/volkszaehler/vzlogger/pkg/log"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

// readerLoop fetches readings from one meter and demultiplexes them
// onto the meter's channels under the identifier match predicate. A
// reading may land on several channels when their identifiers overlap
// through wildcards; a reading matching no channel is discarded.
func (s *Supervisor) readerLoop(m *MeterMap) {
	defer s.wg.Done()

	mtr := m.Meter
	details := mtr.Details()
	vec := make([]reading.Reading, details.MaxReadings)
	log.Debugf(mtr.Name(), "number of readings per call: %d", details.MaxReadings)

	for {
		if s.stopped() {
			break
		}

		last := time.Now()
		n, err := mtr.Read(vec)
		if err != nil {
			if s.stopped() {
				break
			}
			// transport errors are fatal for this meter only
			log.Errorf(mtr.Name(), "read failed, stopping meter: %s", err)
			break
		}
		delta := int(time.Since(last).Seconds())

		if n > 0 {
			log.Debugf(mtr.Name(), "got %d new readings from meter", n)
			metrics.ReadingsTotal.WithLabelValues(mtr.Name()).Add(float64(n))
		}

		// learn the meter's natural cadence
		if !details.Periodic && delta > 0 && delta != mtr.Interval() {
			log.Debugf(mtr.Name(), "updating interval to %d", delta)
			mtr.SetInterval(delta)
		}

		for _, ch := range m.Channels {
			added := false
			for i := 0; i < n; i++ {
				if !vec[i].Identifier().Matches(ch.Identifier()) {
					continue
				}
				ch.SetLast(vec[i])
				log.Debugf(ch.Name(), "adding reading to queue (value=%.2f ts=%d)",
					vec[i].Value(), vec[i].UnixMilli())
				ch.Push(vec[i])
				added = true

				for _, sink := range s.sinks {
					sink.PublishReading(ch, vec[i])
				}
			}
			if added {
				metrics.BufferSize.WithLabelValues(ch.Name()).Set(float64(ch.Buffer().Len()))
			}
			// notify the uploader and local-view waiters even without
			// new readings, so single-shot runs terminate
			ch.Notify()
		}

		if !s.opts.Daemon && !s.opts.Local {
			break // single shot
		}
		if details.Periodic && mtr.Interval() > 0 {
			log.Infof(mtr.Name(), "next reading in %d seconds", mtr.Interval())
			if !s.sleep(mtr.Interval()) {
				break
			}
		}
	}

	// in single-shot mode the uploaders finish once the buffers close
	if !s.opts.Daemon && !s.opts.Local {
		for _, ch := range m.Channels {
			ch.Close()
		}
	}

	log.Debugf(mtr.Name(), "stopped reading")
}
