// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate checks the raw configuration against the schema.
func Validate(instance []byte) error {
	sch, err := jsonschema.CompileString("schema.json", configSchema)
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return err
	}
	return sch.Validate(v)
}
