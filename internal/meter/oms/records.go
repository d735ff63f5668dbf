// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package oms

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

const (
	difExtension = 0x80
	difDataMask  = 0x0f
	vifExtension = 0x80
	vifNoExtMask = 0x7f

	idleFiller = 0x2f
)

// record is one variable data record: data information block, value
// information block and the raw data bytes.
type record struct {
	dif   byte
	difes []byte
	vif   byte
	vifes []byte
	data  []byte
}

// dataLength maps the DIF data field onto the record's data byte
// count. Variable length (0x0d) and the special functions are not
// supported and abort the walk.
func dataLength(dif byte) (int, bool) {
	switch dif & difDataMask {
	case 0x00, 0x08:
		return 0, true
	case 0x01, 0x09:
		return 1, true
	case 0x02, 0x0a:
		return 2, true
	case 0x03, 0x0b:
		return 3, true
	case 0x04, 0x0c:
		return 4, true
	case 0x05:
		return 4, true
	case 0x06, 0x0e:
		return 6, true
	case 0x07:
		return 8, true
	}
	return 0, false
}

// parseRecords walks the variable data structure of a decrypted
// payload. Idle filler bytes (0x2F) between records are skipped.
func parseRecords(b []byte) ([]record, error) {
	var out []record
	i := 0
	for i < len(b) {
		if b[i] == idleFiller {
			i++
			continue
		}

		var rec record
		rec.dif = b[i]
		i++
		last := rec.dif
		for last&difExtension != 0 {
			if i >= len(b) {
				return out, errors.New("record truncated in DIFE chain")
			}
			rec.difes = append(rec.difes, b[i])
			last = b[i]
			i++
		}

		if i >= len(b) {
			return out, errors.New("record truncated after DIF")
		}
		rec.vif = b[i]
		i++
		last = rec.vif
		for last&vifExtension != 0 {
			if i >= len(b) {
				return out, errors.New("record truncated after VIF")
			}
			rec.vifes = append(rec.vifes, b[i])
			last = b[i]
			i++
		}

		n, ok := dataLength(rec.dif)
		if !ok {
			return out, errors.Errorf("unsupported DIF 0x%x", rec.dif)
		}
		if i+n > len(b) {
			return out, errors.New("record data truncated")
		}
		rec.data = b[i : i+n]
		i += n

		out = append(out, rec)
	}
	return out, nil
}

// intDecode reads a little-endian signed integer of n bytes.
func intDecode(b []byte) int64 {
	var v int64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | int64(b[i])
	}
	// sign extend
	shift := uint(64 - 8*len(b))
	return v << shift >> shift
}

// bcdDecode reads packed BCD, least significant byte first.
func bcdDecode(b []byte) int64 {
	var v int64
	for i := len(b) - 1; i >= 0; i-- {
		v = v*100 + int64(b[i]>>4)*10 + int64(b[i]&0x0f)
	}
	return v
}

// value decodes the record data into a float per the DIF/VIF rules.
// Date records yield zero; only the CP48 time point converts to
// seconds since the Unix epoch.
func (rec *record) value() float64 {
	vif := rec.vif & vifNoExtMask
	var vife byte
	if len(rec.vifes) > 0 {
		vife = rec.vifes[0] & vifNoExtMask
	}

	switch rec.dif & difDataMask {
	case 0x00:
		return 0
	case 0x01:
		return float64(intDecode(rec.data[:1]))
	case 0x02:
		if vif == 0x6c {
			return 0 // date only, unused
		}
		return float64(intDecode(rec.data[:2]))
	case 0x03:
		return float64(intDecode(rec.data[:3]))
	case 0x04:
		if vif == 0x6d || (rec.vif == 0xfd && (vife == 0x30 || vife == 0x70)) {
			return 0 // CP32 date/time, unused
		}
		return float64(intDecode(rec.data[:4]))
	case 0x05:
		return float64(math.Float32frombits(uint32(intDecode(rec.data[:4]))))
	case 0x06:
		if vif == 0x6d {
			return cp48Time(rec.data)
		}
		return float64(intDecode(rec.data[:6]))
	case 0x07:
		return float64(intDecode(rec.data[:8]))
	case 0x09:
		return float64(bcdDecode(rec.data[:1]))
	case 0x0a:
		return float64(bcdDecode(rec.data[:2]))
	case 0x0b:
		return float64(bcdDecode(rec.data[:3]))
	case 0x0c:
		return float64(bcdDecode(rec.data[:4]))
	case 0x0e:
		return float64(bcdDecode(rec.data[:6]))
	}
	return 0
}

// cp48Time decodes the 48 bit time point (CP48) into seconds since the
// Unix epoch, or zero when the invalid flag is set.
func cp48Time(b []byte) float64 {
	if len(b) < 6 {
		return 0
	}
	if b[1]&0x80 == 0x80 {
		return 0 // time invalid
	}

	sec := int(b[0] & 0x3f)
	min := int(b[1] & 0x3f)
	hour := int(b[2] & 0x1f)
	mday := int(b[3] & 0x1f)
	mon := time.Month(b[4] & 0x0f)
	year := 2000 + int((b[3]&0xe0)>>5|(b[4]&0xf0)>>1)

	t := time.Date(year, mon, mday, hour, min, sec, 0, time.Local)
	return float64(t.Unix())
}
