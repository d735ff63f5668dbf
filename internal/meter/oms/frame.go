// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package oms

import (
	"io"

	"github.com/pkg/errors"
)

// M-Bus link layer constants (EN 13757-2).
const (
	frameAckStart   = 0xe5
	frameShortStart = 0x10
	frameLongStart  = 0x68
	frameStop       = 0x16

	maskSNDNKE = 0x40
	maskSNDUD  = 0x53
)

var errTimeout = errors.New("oms: read timed out")

type frameType int

const (
	frameAck frameType = iota
	frameShort
	frameLong
)

// frame is one decoded M-Bus link layer frame. Data holds the user
// data following the control information byte; it is empty for short
// and ack frames.
type frame struct {
	typ     frameType
	control byte
	ci      byte
	address byte
	data    []byte
}

func (f *frame) isSNDNKE() bool { return f.control&maskSNDNKE == maskSNDNKE && f.control&maskSNDUD != maskSNDUD }
func (f *frame) isSNDUD() bool  { return f.control&maskSNDUD == maskSNDUD }

// readFull reads exactly len(p) bytes. A zero byte read signals the
// transport timeout and aborts the frame.
func readFull(r io.Reader, p []byte) error {
	got := 0
	for got < len(p) {
		n, err := r.Read(p[got:])
		if err != nil {
			if err == io.EOF {
				return errTimeout
			}
			return err
		}
		if n == 0 {
			return errTimeout
		}
		got += n
	}
	return nil
}

func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

// readFrame decodes the next ack, short or long frame from the stream,
// verifying length fields and checksum.
func readFrame(r io.Reader) (*frame, error) {
	var start [1]byte
	if err := readFull(r, start[:]); err != nil {
		return nil, err
	}

	switch start[0] {
	case frameAckStart:
		return &frame{typ: frameAck}, nil

	case frameShortStart:
		var rest [3]byte // C A CS, stop follows
		if err := readFull(r, rest[:]); err != nil {
			return nil, err
		}
		var stop [1]byte
		if err := readFull(r, stop[:]); err != nil {
			return nil, err
		}
		if stop[0] != frameStop {
			return nil, errors.Errorf("short frame: bad stop byte 0x%x", stop[0])
		}
		if cs := checksum(rest[:2]); cs != rest[2] {
			return nil, errors.Errorf("short frame: checksum 0x%x, expected 0x%x", rest[2], cs)
		}
		return &frame{typ: frameShort, control: rest[0], address: rest[1]}, nil

	case frameLongStart:
		var head [3]byte // L L 0x68
		if err := readFull(r, head[:]); err != nil {
			return nil, err
		}
		if head[0] != head[1] {
			return nil, errors.Errorf("long frame: length fields differ (%d != %d)", head[0], head[1])
		}
		if head[2] != frameLongStart {
			return nil, errors.Errorf("long frame: bad second start byte 0x%x", head[2])
		}
		length := int(head[0])
		if length < 3 {
			return nil, errors.Errorf("long frame: length %d too small", length)
		}

		body := make([]byte, length+2) // C A CI data... CS stop
		if err := readFull(r, body); err != nil {
			return nil, err
		}
		if body[length+1] != frameStop {
			return nil, errors.Errorf("long frame: bad stop byte 0x%x", body[length+1])
		}
		if cs := checksum(body[:length]); cs != body[length] {
			return nil, errors.Errorf("long frame: checksum 0x%x, expected 0x%x", body[length], cs)
		}
		return &frame{
			typ:     frameLong,
			control: body[0],
			address: body[1],
			ci:      body[2],
			data:    body[3:length],
		}, nil
	}

	return nil, errors.Errorf("unexpected frame start byte 0x%x", start[0])
}

// writeAck sends the single byte acknowledge.
func writeAck(w io.Writer) error {
	_, err := w.Write([]byte{frameAckStart})
	return err
}
