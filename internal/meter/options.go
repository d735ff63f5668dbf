// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package meter

import "github.com/pkg/errors"

// Options carries the protocol specific keys of one meter's
// configuration. Values arrive as decoded JSON, so numbers are
// float64.
type Options map[string]any

// String returns a string option or the fallback if absent.
func (o Options) String(key, fallback string) (string, error) {
	v, ok := o[key]
	if !ok {
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Errorf("option %q: expected string", key)
	}
	return s, nil
}

// RequireString returns a mandatory string option.
func (o Options) RequireString(key string) (string, error) {
	v, ok := o[key]
	if !ok {
		return "", errors.Errorf("missing required option %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Errorf("option %q: expected string", key)
	}
	return s, nil
}

// Int returns an integer option or the fallback if absent.
func (o Options) Int(key string, fallback int) (int, error) {
	v, ok := o[key]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	}
	return 0, errors.Errorf("option %q: expected number", key)
}

// Bool returns a boolean option or the fallback if absent.
func (o Options) Bool(key string, fallback bool) (bool, error) {
	v, ok := o[key]
	if !ok {
		return fallback, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.Errorf("option %q: expected bool", key)
	}
	return b, nil
}

// Float returns a float option or the fallback if absent.
func (o Options) Float(key string, fallback float64) (float64, error) {
	v, ok := o[key]
	if !ok {
		return fallback, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, errors.Errorf("option %q: expected number", key)
	}
	return f, nil
}
