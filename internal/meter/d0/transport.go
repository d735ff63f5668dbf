// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package d0

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// readTimeout bounds a single byte read. A timed out read returns zero
// bytes, which abandons the current telegram.
const readTimeout = 5 * time.Second

// transport abstracts the serial device or TCP socket the meter is
// attached to. SetSpeed is a no-op for sockets.
type transport interface {
	io.ReadWriteCloser
	SetSpeed(baud int) error
	Drain() error
}

type serialTransport struct {
	port   serial.Port
	parity serial.Parity
	bits   int
}

func openSerial(device string, baud int, parity serial.Parity, bits int) (*serialTransport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   parity,
		DataBits: bits,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", device)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "set read timeout on %s", device)
	}
	return &serialTransport{port: port, parity: parity, bits: bits}, nil
}

func (t *serialTransport) Read(p []byte) (int, error)  { return t.port.Read(p) }
func (t *serialTransport) Write(p []byte) (int, error) { return t.port.Write(p) }
func (t *serialTransport) Close() error                { return t.port.Close() }
func (t *serialTransport) Drain() error                { return t.port.Drain() }

func (t *serialTransport) SetSpeed(baud int) error {
	return t.port.SetMode(&serial.Mode{
		BaudRate: baud,
		Parity:   t.parity,
		DataBits: t.bits,
		StopBits: serial.OneStopBit,
	})
}

type tcpTransport struct {
	conn net.Conn
}

func openTCP(addr string) (*tcpTransport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", addr)
	}
	return &tcpTransport{conn: conn}, nil
}

func (t *tcpTransport) Read(p []byte) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(p)
	if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
		return n, nil // zero bytes signal the timeout to the parser
	}
	return n, err
}

func (t *tcpTransport) Write(p []byte) (int, error) { return t.conn.Write(p) }
func (t *tcpTransport) Close() error                { return t.conn.Close() }
func (t *tcpTransport) SetSpeed(int) error          { return nil }
func (t *tcpTransport) Drain() error                { return nil }
