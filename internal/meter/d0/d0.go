// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package d0 implements the plaintext protocol according to
// DIN EN 62056-21 (D0). The protocol uses OBIS codes to identify the
// readout data.
package d0

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/volkszaehler/vzlogger/internal/meter"
	"github.com/volkszaehler/vzlogger/pkg/log"
	"github.com/volkszaehler/vzlogger/pkg/obis"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

func init() {
	meter.Register(meter.Details{
		Name:        "d0",
		Description: "DLMS/IEC 62056-21 plaintext protocol",
		MaxReadings: 32,
		Periodic:    false,
	}, NewFromOptions)
}

// syncLimit bounds the bytes skipped while aligning to a telegram
// boundary in wait_sync mode.
const syncLimit = 1024

const (
	maxVendor = 3
	maxIdent  = 16
	maxObis   = 16
	maxValue  = 32
	maxUnit   = 16
)

var validBauds = map[int]bool{
	50: true, 75: true, 110: true, 134: true, 150: true, 200: true,
	300: true, 600: true, 1200: true, 1800: true, 2400: true, 4800: true,
	9600: true, 19200: true, 38400: true, 57600: true, 115200: true,
	230400: true,
}

// D0 reads line-oriented telegrams from a serial device or TCP socket.
type D0 struct {
	name string

	host   string
	device string

	baud     int
	baudRead int
	parity   serial.Parity
	dataBits int

	pull    []byte
	ack     []byte
	autoAck bool

	waitSyncEnd bool

	t transport
}

// NewFromOptions builds the driver from the per-meter configuration.
func NewFromOptions(opts meter.Options) (meter.Protocol, error) {
	d := &D0{name: "d0", baud: 9600, parity: serial.EvenParity, dataBits: 7}

	var err error
	if d.host, err = opts.String("host", ""); err != nil {
		return nil, err
	}
	if d.device, err = opts.String("device", ""); err != nil {
		return nil, err
	}
	if d.host == "" && d.device == "" {
		return nil, errors.New("missing device or host")
	}

	if hexSeq, err := opts.String("pullseq", ""); err != nil {
		return nil, err
	} else if hexSeq != "" {
		if d.pull, err = hex.DecodeString(hexSeq); err != nil {
			return nil, errors.Wrap(err, "pullseq")
		}
	}

	ackSeq, err := opts.String("ackseq", "")
	if err != nil {
		return nil, err
	}
	if ackSeq == "auto" {
		d.autoAck = true
	} else if ackSeq != "" {
		if d.ack, err = hex.DecodeString(ackSeq); err != nil {
			return nil, errors.Wrap(err, "ackseq")
		}
	}

	if d.baud, err = opts.Int("baudrate", 9600); err != nil {
		return nil, err
	}
	if !validBauds[d.baud] {
		return nil, errors.Errorf("invalid baudrate %d", d.baud)
	}
	if d.baudRead, err = opts.Int("baudrate_read", d.baud); err != nil {
		return nil, err
	}
	if !validBauds[d.baudRead] {
		return nil, errors.Errorf("invalid baudrate_read %d", d.baudRead)
	}

	parity, err := opts.String("parity", "7e1")
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(parity) {
	case "7e1":
		d.parity, d.dataBits = serial.EvenParity, 7
	case "8n1":
		d.parity, d.dataBits = serial.NoParity, 8
	case "7n1":
		d.parity, d.dataBits = serial.NoParity, 7
	case "7o1":
		d.parity, d.dataBits = serial.OddParity, 7
	default:
		return nil, errors.Errorf("invalid parity %q", parity)
	}

	waitSync, err := opts.String("wait_sync", "")
	if err != nil {
		return nil, err
	}
	switch waitSync {
	case "":
	case "end":
		d.waitSyncEnd = true
	default:
		return nil, errors.Errorf("invalid wait_sync %q", waitSync)
	}

	return d, nil
}

func (d *D0) AllowInterval() bool { return true }

// Open acquires the transport. A transport left over from a failed
// prior open is closed first.
func (d *D0) Open() error {
	if d.t != nil {
		d.t.Close()
		d.t = nil
	}

	var err error
	if d.device != "" {
		d.t, err = openSerial(d.device, d.baud, d.parity, d.dataBits)
	} else {
		d.t, err = openTCP(d.host)
	}
	return err
}

func (d *D0) Close() error {
	if d.t == nil {
		return nil
	}
	err := d.t.Close()
	d.t = nil
	return err
}

// readByte fetches a single byte. ok is false on a benign timeout.
func (d *D0) readByte(b *byte) (ok bool, err error) {
	var buf [1]byte
	n, err := d.t.Read(buf[:])
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	*b = buf[0]
	return true, nil
}

// ackSpeed encodes the requested data-phase baud rate for the
// synthesised acknowledge sequence.
func ackSpeed(baud int) byte {
	switch baud {
	case 300:
		return '0'
	case 600:
		return '1'
	case 1200:
		return '2'
	case 2400:
		return '3'
	case 4800:
		return '4'
	case 9600:
		return '5'
	case 19200:
		return '6'
	}
	return '5'
}

type context int

const (
	ctxStart context = iota
	ctxVendor
	ctxBaudrate
	ctxIdentification
	ctxAck
	ctxObisCode
	ctxValue
	ctxUnit
	ctxEndLine
	ctxEnd
)

// Read parses one telegram and fills rds with the extracted readings.
// A timed out or abandoned telegram yields zero readings; the loop is
// expected to call again.
func (d *D0) Read(rds []reading.Reading) (int, error) {
	if d.t == nil {
		return 0, errors.New("d0: not open")
	}

	if len(d.pull) > 0 {
		if err := d.t.SetSpeed(d.baud); err != nil {
			return 0, errors.Wrap(err, "set baudrate")
		}
		n, err := d.t.Write(d.pull)
		if err != nil {
			return 0, errors.Wrap(err, "send pull sequence")
		}
		log.Debugf(d.name, "sent pull sequence (len:%d is:%d)", len(d.pull), n)
	}

	if d.waitSyncEnd {
		skipped := 0
		for {
			var b byte
			ok, err := d.readByte(&b)
			if err != nil {
				return 0, err
			}
			if !ok {
				log.Errorf(d.name, "read timed out while waiting for sync")
				return 0, nil
			}
			if b == '!' {
				d.waitSyncEnd = false
				log.Debugf(d.name, "found wait_sync end, skipped %d bytes", skipped)
				break
			}
			skipped++
			if skipped > syncLimit {
				d.waitSyncEnd = false
				log.Errorf(d.name, "stopped searching for sync after %d bytes without success", skipped)
				break
			}
		}
	}

	var (
		ctx      = ctxStart
		vendor   []byte
		baudCode byte
		ident    []byte
		obisCode []byte
		value    []byte
		unit     []byte
		endseq   []byte
		tuples   int
		lastbyte byte
	)

	for {
		var b byte
		ok, err := d.readByte(&b)
		if err != nil {
			return 0, err
		}
		if !ok {
			log.Errorf(d.name, "read timed out, context: %d, last byte 0x%x", ctx, lastbyte)
			return 0, nil
		}
		lastbyte = b

		if b == '?' || b == '!' {
			ctx = ctxEnd
		}

		switch ctx {
		case ctxStart:
			// strip the initial "/", tolerate extra newlines
			if b != '\r' && b != '\n' {
				vendor = vendor[:0]
				tuples = 0
				ctx = ctxVendor
			}

		case ctxVendor:
			if b == '\r' || b == '\n' || b == '/' {
				vendor = vendor[:0]
				tuples = 0
				break
			}
			if !isAlpha(b) {
				log.Errorf(d.name, "vendor id needs to be alphabetic, got 0x%x", b)
				return 0, nil
			}
			vendor = append(vendor, b)
			if len(vendor) >= maxVendor {
				ctx = ctxBaudrate
			}

		case ctxBaudrate:
			baudCode = b
			ident = ident[:0]
			ctx = ctxIdentification

		case ctxIdentification:
			if b == '\r' || b == '\n' {
				log.Debugf(d.name, "pull answer (vendor=%s, baudrate=%c, identification=%s)",
					vendor, baudCode, ident)
				ctx = ctxAck
				break
			}
			if !isPrint(b) {
				log.Errorf(d.name, "binary character 0x%x in identification", b)
				return 0, nil
			}
			if len(ident) >= maxIdent {
				log.Errorf(d.name, "identification exceeds %d bytes", maxIdent)
				return 0, nil
			}
			ident = append(ident, b)

		case ctxAck:
			ack := d.ack
			if d.autoAck {
				ack = []byte{0x06, 0x30, ackSpeed(d.baudRead), 0x30, 0x0d, 0x0a}
			}
			if len(ack) > 0 {
				n, err := d.t.Write(ack)
				if err != nil {
					return 0, errors.Wrap(err, "send ack sequence")
				}
				if err := d.t.Drain(); err != nil {
					return 0, errors.Wrap(err, "drain ack")
				}
				if d.baudRead != d.baud {
					if err := d.t.SetSpeed(d.baudRead); err != nil {
						return 0, errors.Wrap(err, "switch to read baudrate")
					}
				}
				log.Debugf(d.name, "sent ack sequence (len:%d is:%d)", len(ack), n)
			}
			obisCode = obisCode[:0]
			ctx = ctxObisCode

		case ctxObisCode:
			if b == '\r' || b == '\n' || b == 0x02 { // skip STX
				break
			}
			if b == '(' {
				value = value[:0]
				ctx = ctxValue
				break
			}
			if len(obisCode) >= maxObis {
				log.Errorf(d.name, "obis code exceeds %d bytes", maxObis)
				return 0, nil
			}
			obisCode = append(obisCode, b)

		case ctxValue:
			if b == '*' || b == ')' {
				if b == ')' {
					unit = unit[:0]
					ctx = ctxEndLine
				} else {
					unit = unit[:0]
					ctx = ctxUnit
				}
				break
			}
			if len(value) >= maxValue {
				log.Errorf(d.name, "value exceeds %d bytes", maxValue)
				return 0, nil
			}
			value = append(value, b)

		case ctxUnit:
			if b == ')' {
				ctx = ctxEndLine
				break
			}
			if len(unit) >= maxUnit {
				log.Errorf(d.name, "unit exceeds %d bytes", maxUnit)
				return 0, nil
			}
			unit = append(unit, b)

		case ctxEndLine:
			// historical value groups following the first are dropped
			if b == '\r' || b == '\n' {
				if tuples < len(rds) && len(obisCode) > 0 && len(value) > 0 {
					log.Debugf(d.name, "parsed reading (OBIS code=%s, value=%s, unit=%s)",
						obisCode, value, unit)
					// Only electricity and abstract groups pass. This
					// filter is deliberate; before widening it, check
					// Landis+Gyr meters emitting F-group error lines.
					if obisCode[0] == '1' || obisCode[0] == '2' || obisCode[0] == 'C' {
						if o, err := obis.Parse(string(obisCode)); err != nil {
							log.Warnf(d.name, "dropping line: %s", err)
						} else {
							rds[tuples] = reading.New(
								parseDouble(value),
								time.Now(),
								reading.NewObisIdentifier(o),
							)
							tuples++
						}
					}
				}
				obisCode = obisCode[:0]
				ctx = ctxObisCode
			}

		case ctxEnd:
			endseq = append(endseq, b)
			if endseq[0] == '?' {
				if len(endseq) >= 2 && endseq[1] == '!' {
					// pull sequence "/?!" was echoed again, resync
					log.Debugf(d.name, "resyncing to vendor after ?!")
					ctx = ctxVendor
					endseq = endseq[:0]
					vendor = vendor[:0]
				}
				break
			}
			log.Debugf(d.name, "read telegram with %d tuples (vendor=%s, baudrate=%c, identification=%s)",
				tuples, vendor, baudCode, ident)
			return tuples, nil
		}
	}
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isPrint(b byte) bool {
	return b >= 0x20 && b < 0x7f
}

// parseDouble mimics strtod: the longest numeric prefix parses, junk
// after it is tolerated.
func parseDouble(b []byte) float64 {
	s := strings.TrimSpace(string(b))
	end := 0
	seenDot := false
	for end < len(s) {
		c := s[end]
		if c >= '0' && c <= '9' {
			end++
			continue
		}
		if (c == '+' || c == '-') && end == 0 {
			end++
			continue
		}
		if c == '.' && !seenDot {
			seenDot = true
			end++
			continue
		}
		break
	}
	var v float64
	if end > 0 {
		if f, err := strconv.ParseFloat(s[:end], 64); err == nil {
			v = f
		}
	}
	return v
}
