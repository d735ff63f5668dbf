// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package reading

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/volkszaehler/vzlogger/pkg/obis"
)

// Kind tags the identifier variant.
type Kind int

const (
	KindNil Kind = iota
	KindObis
	KindString
	KindChannel
)

// Identifier is a tagged union over the identifier variants a protocol
// may attach to a reading. The zero value is the nil identifier, which
// matches only other nil identifiers.
type Identifier struct {
	kind    Kind
	obis    obis.Obis
	str     string
	channel int
}

// NewObisIdentifier wraps an OBIS code.
func NewObisIdentifier(o obis.Obis) Identifier {
	return Identifier{kind: KindObis, obis: o}
}

// NewStringIdentifier wraps an opaque token; equality is byte exact.
func NewStringIdentifier(s string) Identifier {
	return Identifier{kind: KindString, str: s}
}

// NewChannelIdentifier wraps a physical channel index. The sign encodes
// the direction (positive for power, negative for consumption) and the
// magnitude is the channel number plus one, so that channel 0 keeps a
// distinguishable sign.
func NewChannelIdentifier(ch int) Identifier {
	return Identifier{kind: KindChannel, channel: ch}
}

// NilIdentifier matches only other nil identifiers.
func NilIdentifier() Identifier {
	return Identifier{kind: KindNil}
}

// Kind returns the variant tag.
func (id Identifier) Kind() Kind { return id.kind }

// Obis returns the wrapped OBIS code; only meaningful for KindObis.
func (id Identifier) Obis() obis.Obis { return id.obis }

// Matches is the routing predicate: identifiers of different kinds
// never match, OBIS comparison honours wildcards, the other variants
// compare exactly.
func (id Identifier) Matches(other Identifier) bool {
	if id.kind != other.kind {
		return false
	}
	switch id.kind {
	case KindObis:
		return id.obis.Match(other.obis)
	case KindString:
		return id.str == other.str
	case KindChannel:
		return id.channel == other.channel
	default:
		return true
	}
}

func (id Identifier) String() string {
	switch id.kind {
	case KindObis:
		return id.obis.String()
	case KindString:
		return id.str
	case KindChannel:
		typ := "power"
		ch := id.channel
		if ch < 0 {
			typ = "consumption"
			ch = -ch
		}
		return fmt.Sprintf("sensor%d/%s", ch-1, typ)
	default:
		return "nil"
	}
}

// ParseIdentifier resolves the textual identifier of a channel
// configuration in the context of a meter protocol: OBIS codes for d0,
// sml and oms, the sensor{n}/{power|consumption} form for fluksov2, opaque
// strings for file and exec. Protocols without identifiers get the nil
// identifier.
func ParseIdentifier(protocol, s string) (Identifier, error) {
	switch protocol {
	case "d0", "sml", "oms":
		o, err := obis.New(s)
		if err != nil {
			return Identifier{}, err
		}
		return NewObisIdentifier(o), nil

	case "fluksov2":
		var ch int
		var typ string
		if _, err := fmt.Sscanf(s, "sensor%d/%s", &ch, &typ); err != nil {
			return Identifier{}, errors.Wrapf(err, "parse channel identifier %q", s)
		}
		ch++ // distinguish +0 from -0
		switch strings.ToLower(typ) {
		case "consumption":
			ch = -ch
		case "power":
		default:
			return Identifier{}, errors.Errorf("invalid channel type %q", typ)
		}
		return NewChannelIdentifier(ch), nil

	case "file", "exec":
		return NewStringIdentifier(s), nil

	default:
		return NilIdentifier(), nil
	}
}
