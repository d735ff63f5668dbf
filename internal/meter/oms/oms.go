// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package oms implements OMS (M-Bus) based meter support. The local
// device acts as the M-Bus slave: it never polls, it reacts to the
// frames the meter sends. For the spec see
// http://oms-group.org/fileadmin/pdf/OMS-Spec_Vol2_Primary_v301.pdf
package oms

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"io"
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
		Name:        "oms",
		Description: "OMS (wireless M-Bus) protocol",
		MaxReadings: 10,
		Periodic:    false,
	}, NewFromOptions)
}

const readTimeout = 5 * time.Second

// OMS decodes encrypted SND_UD telegrams and acknowledges the link
// layer as a slave.
type OMS struct {
	name string

	device string
	baud   int
	key    []byte

	useLocalTime  bool
	lastTimestamp float64

	t io.ReadWriteCloser
}

// NewFromOptions builds the driver. A missing or malformed AES key is
// fatal at construction.
func NewFromOptions(opts meter.Options) (meter.Protocol, error) {
	o := &OMS{name: "oms", baud: 9600}

	var err error
	if o.device, err = opts.RequireString("device"); err != nil {
		return nil, err
	}
	if o.baud, err = opts.Int("baudrate", 9600); err != nil {
		return nil, err
	}
	if o.useLocalTime, err = opts.Bool("use_local_time", false); err != nil {
		return nil, err
	}

	key, err := opts.RequireString("key")
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, errors.Errorf("key length needs to be 32, got %d", len(key))
	}
	if o.key, err = hex.DecodeString(key); err != nil {
		return nil, errors.Wrap(err, "key")
	}

	return o, nil
}

// AllowInterval is false: the meter clocks itself.
func (o *OMS) AllowInterval() bool { return false }

func (o *OMS) Open() error {
	if o.t != nil {
		o.t.Close()
		o.t = nil
	}
	// M-Bus runs 8E1 on the wire
	port, err := serial.Open(o.device, &serial.Mode{
		BaudRate: o.baud,
		Parity:   serial.EvenParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return errors.Wrapf(err, "open %s", o.device)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return errors.Wrapf(err, "set read timeout on %s", o.device)
	}
	o.t = port
	return nil
}

func (o *OMS) Close() error {
	if o.t == nil {
		return nil
	}
	err := o.t.Close()
	o.t = nil
	return err
}

// Read runs the slave side of the link layer: acknowledge SND_NKE,
// acknowledge and decode SND_UD, return to the caller on anything
// else. Frame, crypto and parse errors are non-fatal; the loop simply
// yields zero readings and waits for the next telegram.
func (o *OMS) Read(rds []reading.Reading) (int, error) {
	if o.t == nil {
		return 0, errors.New("oms: not open")
	}

	ret := 0
	gotSNDNKE := false
	expectFrame := true

	for expectFrame {
		f, err := readFrame(o.t)
		if err != nil {
			if err != errTimeout {
				log.Debugf(o.name, "frame error: %s", err)
			}
			break
		}
		log.Debugf(o.name, "got valid mbus frame: type=%d control=%x ci=%x address=%x",
			f.typ, f.control, f.ci, f.address)

		switch {
		case f.isSNDUD():
			if !gotSNDNKE {
				log.Debugf(o.name, "got SND_UD without SND_NKE")
			}
			ret += o.decodeSNDUD(f, rds[ret:])
			if err := writeAck(o.t); err != nil {
				log.Errorf(o.name, "send ack failed: %s", err)
				expectFrame = false
			}

		case f.isSNDNKE():
			gotSNDNKE = true
			if err := writeAck(o.t); err != nil {
				log.Errorf(o.name, "send ack failed: %s", err)
				expectFrame = false
			}

		default:
			log.Debugf(o.name, "wrong frame received, waiting for SND_NKE or SND_UD")
			expectFrame = false
		}
	}

	return ret, nil
}

// decodeSNDUD handles CI=0x5B user data: 12 byte header followed by
// AES-128-CBC encrypted blocks in encryption mode 5.
func (o *OMS) decodeSNDUD(f *frame, rds []reading.Reading) int {
	if f.ci != 0x5b {
		log.Debugf(o.name, "unsupported CI=%x", f.ci)
		return 0
	}
	if len(f.data) < 14 {
		log.Debugf(o.name, "SND_UD too short (%d bytes)", len(f.data))
		return 0
	}

	// control word, bytes 10 and 11 of the header
	cwLow := f.data[10]
	cwHigh := f.data[11]
	if cwHigh&0x0f != 5 {
		log.Debugf(o.name, "unsupported encryption mode %d", cwHigh&0x0f)
		return 0
	}
	blocks := int(cwLow >> 4)
	if blocks == 0 || 12+16*blocks > len(f.data) {
		log.Debugf(o.name, "implausible encrypted block count %d", blocks)
		return 0
	}
	log.Debugf(o.name, "AES with dynamic IV for %d 16-byte blocks plus %d unencrypted bytes",
		blocks, len(f.data)-12-16*blocks)

	// IV: M-field, identification, version, medium, then the access
	// number repeated eight times
	var iv [16]byte
	iv[0] = f.data[4]
	iv[1] = f.data[5]
	iv[2] = f.data[0]
	iv[3] = f.data[1]
	iv[4] = f.data[2]
	iv[5] = f.data[3]
	iv[6] = f.data[6]
	iv[7] = f.data[7]
	for i := 8; i < 16; i++ {
		iv[i] = f.data[8]
	}

	if err := o.decrypt(f.data[12:12+16*blocks], iv[:]); err != nil {
		log.Errorf(o.name, "decrypt failed: %s", err)
		return 0
	}

	if f.data[12] != 0x2f || f.data[13] != 0x2f {
		log.Errorf(o.name, "encryption sanity check failed")
		return 0
	}
	log.Debugf(o.name, "successfully decrypted a frame")

	records, err := parseRecords(f.data[12:])
	if err != nil {
		log.Debugf(o.name, "record walk stopped: %s", err)
	}
	log.Debugf(o.name, "got %d data records", len(records))

	timeFromMeter := 0.0
	ret := 0
	for _, rec := range records {
		vif := rec.vif
		dif := rec.dif

		switch vif {
		case 0x6d: // time point
			t := rec.value()
			if t > 1.0 && t == o.lastTimestamp {
				// duplicated timestamp received; drop the entire
				// telegram to keep rebroadcasters from flooding
				log.Debugf(o.name, "ignoring telegram due to duplicated timestamp %f", t)
				return 0
			}
			if t > 1.0 {
				o.lastTimestamp = t
				timeFromMeter = t
			}

		case 0x03: // energy import total, Wh
			if dif == 0x04 {
				ret += o.emit(rds[ret:], "1.8.0", rec.value(), timeFromMeter)
			}
		case 0x83: // energy export total
			if dif == 0x04 && len(rec.vifes) == 1 && rec.vifes[0] == 0x3c {
				ret += o.emit(rds[ret:], "2.8.0", rec.value(), timeFromMeter)
			}
		case 0x2b: // power import
			if dif == 0x04 {
				ret += o.emit(rds[ret:], "1.7.0", rec.value(), timeFromMeter)
			}
		case 0xab: // power export
			if dif == 0x04 && len(rec.vifes) == 1 && rec.vifes[0] == 0x3c {
				ret += o.emit(rds[ret:], "2.7.0", rec.value(), timeFromMeter)
			}
		}
	}

	return ret
}

func (o *OMS) emit(rds []reading.Reading, code string, value, timeFromMeter float64) int {
	if len(rds) == 0 {
		return 0
	}
	ts := time.Now()
	if timeFromMeter > 1.0 && !o.useLocalTime {
		ts = reading.TimeFromSeconds(timeFromMeter)
	}
	ob, err := obis.Parse(code)
	if err != nil {
		log.Errorf(o.name, "obis %s: %s", code, err)
		return 0
	}
	log.Debugf(o.name, "obis %s %f", code, value)
	rds[0] = reading.New(value, ts, reading.NewObisIdentifier(ob))
	return 1
}

// decrypt runs AES-128-CBC in place without padding.
func (o *OMS) decrypt(ciphertext, iv []byte) error {
	block, err := aes.NewCipher(o.key)
	if err != nil {
		return err
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return errors.New("ciphertext is not block aligned")
	}
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(ciphertext, ciphertext)
	return nil
}
