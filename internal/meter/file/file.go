// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package file reads values from a plain file or FIFO, one reading per
// line. An optional format string names where the identifier, value
// and timestamp sit on each line.
package file

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/volkszaehler/vzlogger/internal/meter"
	"github.com/volkszaehler/vzlogger/pkg/log"
	"github.com/volkszaehler/vzlogger/pkg/reading"
)

func init() {
	meter.Register(meter.Details{
		Name:        "file",
		Description: "Read from file or fifo",
		MaxReadings: 32,
		Periodic:    true,
	}, NewFromOptions)
}

type File struct {
	path   string
	rewind bool
	re     *regexp.Regexp
	groups []string

	f *os.File
}

// NewFromOptions builds the driver. The format option uses $i, $v and
// $t placeholders for identifier, value and timestamp; everything else
// matches literally. Without a format every line is a bare value.
func NewFromOptions(opts meter.Options) (meter.Protocol, error) {
	f := &File{}

	var err error
	if f.path, err = opts.RequireString("path"); err != nil {
		return nil, err
	}
	if f.rewind, err = opts.Bool("rewind", false); err != nil {
		return nil, err
	}

	format, err := opts.String("format", "")
	if err != nil {
		return nil, err
	}
	if format != "" {
		if f.re, f.groups, err = compileFormat(format); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// compileFormat turns "$i:$v" style formats into a line regexp.
func compileFormat(format string) (*regexp.Regexp, []string, error) {
	var sb strings.Builder
	var groups []string
	sb.WriteString("^")
	for i := 0; i < len(format); i++ {
		if format[i] == '$' && i+1 < len(format) {
			switch format[i+1] {
			case 'v':
				sb.WriteString(`([-+0-9.eE]+)`)
				groups = append(groups, "v")
			case 'i':
				sb.WriteString(`(\S+)`)
				groups = append(groups, "i")
			case 't':
				sb.WriteString(`([0-9.]+)`)
				groups = append(groups, "t")
			default:
				return nil, nil, errors.Errorf("unknown format token $%c", format[i+1])
			}
			i++
			continue
		}
		sb.WriteString(regexp.QuoteMeta(format[i : i+1]))
	}
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, nil, errors.Wrap(err, "format")
	}
	return re, groups, nil
}

func (f *File) AllowInterval() bool { return true }

func (f *File) Open() error {
	if f.f != nil {
		f.f.Close()
		f.f = nil
	}
	file, err := os.Open(f.path)
	if err != nil {
		return errors.Wrapf(err, "open %s", f.path)
	}
	f.f = file
	return nil
}

func (f *File) Close() error {
	if f.f == nil {
		return nil
	}
	err := f.f.Close()
	f.f = nil
	return err
}

func (f *File) Read(rds []reading.Reading) (int, error) {
	if f.f == nil {
		return 0, errors.New("file: not open")
	}

	if f.rewind {
		if _, err := f.f.Seek(0, 0); err != nil {
			return 0, errors.Wrap(err, "rewind")
		}
	}

	n := 0
	scanner := bufio.NewScanner(f.f)
	for scanner.Scan() && n < len(rds) {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var r reading.Reading
		ok := false
		if f.re == nil {
			if v, err := strconv.ParseFloat(line, 64); err == nil {
				r = reading.New(v, time.Now(), reading.NewStringIdentifier(""))
				ok = true
			}
		} else {
			r, ok = f.parseLine(line)
		}

		if !ok {
			log.Warnf("file", "dropping malformed line %q", line)
			continue
		}
		rds[n] = r
		n++
	}

	return n, scanner.Err()
}

func (f *File) parseLine(line string) (reading.Reading, bool) {
	m := f.re.FindStringSubmatch(line)
	if m == nil {
		return reading.Reading{}, false
	}

	var value float64
	ts := time.Now()
	id := reading.NewStringIdentifier("")
	haveValue := false

	for i, g := range f.groups {
		s := m[i+1]
		switch g {
		case "v":
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return reading.Reading{}, false
			}
			value = v
			haveValue = true
		case "i":
			id = reading.NewStringIdentifier(s)
		case "t":
			sec, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return reading.Reading{}, false
			}
			ts = reading.TimeFromSeconds(sec)
		}
	}

	if !haveValue {
		return reading.Reading{}, false
	}
	return reading.New(value, ts, id), true
}
