// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package obis implements OBIS identifiers as specified in DIN EN 62056-61.
package obis

import (
	"fmt"

	"github.com/pkg/errors"
)

// Wildcard matches any value at its position during comparison.
const Wildcard = 0xff

// Special characters in the C, D and E groups carry fixed codes
// according to DIN EN 62056-61.
const (
	scC = 96
	scF = 97
	scL = 98
	scP = 99
)

// Obis is a six byte identifier: media, channel, indicator, mode,
// quantities and storage (groups A to F).
type Obis [6]byte

// Alias maps a human readable name onto a concrete identifier. Aliases
// are only used to resolve identifiers written in configuration files;
// they never affect channel routing.
type Alias struct {
	ID          Obis
	Name        string
	Description string
}

var aliases = []Alias{
	/* general */
	{Obis{1, 0, 1, 7, Wildcard, Wildcard}, "power", "Wirkleistung  (Summe)"},
	{Obis{1, 0, 21, 7, Wildcard, Wildcard}, "power-l1", "Wirkleistung  (Phase 1)"},
	{Obis{1, 0, 41, 7, Wildcard, Wildcard}, "power-l2", "Wirkleistung  (Phase 2)"},
	{Obis{1, 0, 61, 7, Wildcard, Wildcard}, "power-l3", "Wirkleistung  (Phase 3)"},

	{Obis{1, 0, 12, 7, Wildcard, Wildcard}, "voltage", "Spannung      (Mittelwert)"},
	{Obis{1, 0, 32, 7, Wildcard, Wildcard}, "voltage-l1", "Spannung      (Phase 1)"},
	{Obis{1, 0, 52, 7, Wildcard, Wildcard}, "voltage-l2", "Spannung      (Phase 2)"},
	{Obis{1, 0, 72, 7, Wildcard, Wildcard}, "voltage-l3", "Spannung      (Phase 3)"},

	{Obis{1, 0, 11, 7, Wildcard, Wildcard}, "current", "Stromstaerke  (Summe)"},
	{Obis{1, 0, 31, 7, Wildcard, Wildcard}, "current-l1", "Stromstaerke  (Phase 1)"},
	{Obis{1, 0, 51, 7, Wildcard, Wildcard}, "current-l2", "Stromstaerke  (Phase 2)"},
	{Obis{1, 0, 71, 7, Wildcard, Wildcard}, "current-l3", "Stromstaerke  (Phase 3)"},

	{Obis{1, 0, 14, 7, 0, Wildcard}, "frequency", "Netzfrequenz"},
	{Obis{1, 0, 12, 7, 0, Wildcard}, "powerfactor", "Leistungsfaktor"},

	{Obis{0, 0, 96, 1, Wildcard, Wildcard}, "device", "Zaehler Seriennr."},
	{Obis{1, 0, 96, 5, 5, Wildcard}, "status", "Zaehler Status"},

	{Obis{1, 0, 1, 8, Wildcard, Wildcard}, "counter", "Zaehlerstand Wirkleistung"},
	{Obis{1, 0, 2, 8, Wildcard, Wildcard}, "counter-out", "Zaehlerstand Lieferg."},

	/* ESYQ3B (Easymeter Q3B) */
	{Obis{1, 0, 1, 8, 1, Wildcard}, "esy-counter-t1", "Active Power Counter Tariff 1"},
	{Obis{1, 0, 1, 8, 2, Wildcard}, "esy-counter-t2", "Active Power Counter Tariff 2"},

	/* HAG eHZ010C_EHZ1WA02 (Hager eHz) */
	{Obis{1, 0, 0, 0, 0, Wildcard}, "hag-id", "Eigentumsnr."},
	{Obis{1, 0, 96, 50, 0, 0}, "hag-status", "Netz Status"},
	{Obis{1, 0, 96, 50, 0, 1}, "hag-frequency", "Netz Periode"},
	{Obis{1, 0, 96, 50, 0, 2}, "hag-temp", "aktuelle Chiptemperatur"},
	{Obis{1, 0, 96, 50, 0, 3}, "hag-temp-min", "minimale Chiptemperatur"},
	{Obis{1, 0, 96, 50, 0, 4}, "hag-temp-avg", "gemittelte Chiptemperatur"},
	{Obis{1, 0, 96, 50, 0, 5}, "hag-temp-max", "maximale Chiptemperatur"},
	{Obis{1, 0, 96, 50, 0, 6}, "hag-check", "Kontrollnr."},
	{Obis{1, 0, 96, 50, 0, 7}, "hag-diag", "Diagnose"},
}

// Aliases returns the static alias table.
func Aliases() []Alias { return aliases }

// Parse decodes the text form "A-B:C.D.E*F". The groups A, B, E and F
// are optional and default to the wildcard; C and D are mandatory. "&"
// is accepted in place of "*". The letters C, F, L and P expand to the
// special codes 96 to 99.
func Parse(s string) (Obis, error) {
	const (
		fieldA = iota
		fieldB
		fieldC
		fieldD
		fieldE
		fieldF
	)

	o := Obis{Wildcard, Wildcard, Wildcard, Wildcard, Wildcard, Wildcard}
	num := 0
	field := -1

	for i := 0; i < len(s); i++ {
		b := s[i]
		switch {
		case b >= '0' && b <= '9':
			num = num*10 + int(b-'0')
		case b == 'C':
			num = scC
		case b == 'F':
			num = scF
		case b == 'L':
			num = scL
		case b == 'P':
			num = scP
		default:
			switch {
			case b == '-' && field < fieldA:
				field = fieldA
			case b == ':' && field < fieldB:
				field = fieldB
			case b == '.' && field < fieldD:
				if field < fieldC {
					field = fieldC
				} else {
					field = fieldD
				}
			case (b == '*' || b == '&') && field == fieldD:
				field = fieldE
			default:
				return Obis{}, errors.Errorf("obis: unexpected byte %q in %q", b, s)
			}
			o[field] = byte(num)
			num = 0
		}
	}

	field++
	o[field] = byte(num)

	if field < fieldD {
		return Obis{}, errors.Errorf("obis: groups C and D are mandatory in %q", s)
	}
	return o, nil
}

// New resolves s either as text form or as an alias name.
func New(s string) (Obis, error) {
	o, err := Parse(s)
	if err == nil {
		return o, nil
	}
	for _, a := range aliases {
		if a.Name == s {
			return a.ID, nil
		}
	}
	return Obis{}, errors.Errorf("obis: cannot resolve %q", s)
}

// MustParse is New for static identifiers; it panics on error.
func MustParse(s string) Obis {
	o, err := New(s)
	if err != nil {
		panic(err)
	}
	return o
}

// Match reports bytewise equality where the wildcard on either side
// matches any value. This is the routing predicate used when readings
// are demultiplexed onto channels.
func (o Obis) Match(other Obis) bool {
	for i := 0; i < 6; i++ {
		if o[i] == other[i] || o[i] == Wildcard || other[i] == Wildcard {
			continue
		}
		return false
	}
	return true
}

// String emits all six groups as decimals.
func (o Obis) String() string {
	return fmt.Sprintf("%d-%d:%d.%d.%d*%d", o[0], o[1], o[2], o[3], o[4], o[5])
}

// IsNull reports the zero identifier.
func (o Obis) IsNull() bool {
	return o == Obis{}
}

// IsManufacturerSpecific reports whether any group lies in a
// manufacturer defined range.
func (o Obis) IsManufacturerSpecific() bool {
	return (o[1] >= 128 && o[1] <= 199) ||
		(o[2] >= 128 && o[2] <= 199) ||
		o[2] == 240 ||
		(o[3] >= 128 && o[3] <= 254) ||
		(o[4] >= 128 && o[4] <= 254) ||
		(o[5] >= 128 && o[5] <= 254)
}

// IsValid runs a basic sanity check; OBIS codes are not strictly
// defined, so only A, B and F are range checked.
func (o Obis) IsValid() bool {
	if o[0] > 9 {
		return false
	}
	if o[1] > 64 {
		return false
	}
	if o[5] != Wildcard && o[5] > 99 {
		return false
	}
	return true
}
