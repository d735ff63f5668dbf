// Copyright (C) the volkszaehler.org project.
// All rights reserved. This file is part of vzlogger.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

// configSchema is checked before the typed decode so configuration
// mistakes surface with a path instead of a go unmarshal error.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "daemon":     { "type": "boolean" },
    "foreground": { "type": "boolean" },
    "log":        { "type": "string" },
    "retry":      { "type": "integer", "minimum": 0 },
    "timeout":    { "type": "integer", "minimum": 0 },
    "verbosity":  { "type": "integer", "minimum": 0 },
    "local": {
      "type": "object",
      "properties": {
        "enabled": { "type": "boolean" },
        "port":    { "type": "integer", "minimum": 1, "maximum": 65535 },
        "timeout": { "type": "integer", "minimum": 0 },
        "buffer":  { "type": "integer", "minimum": 0 },
        "index":   { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "push": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": { "url": { "type": "string" } },
        "required": ["url"],
        "additionalProperties": false
      }
    },
    "mqtt": {
      "type": "object",
      "properties": {
        "enabled":   { "type": "boolean" },
        "host":      { "type": "string" },
        "port":      { "type": "integer" },
        "user":      { "type": "string" },
        "pass":      { "type": "string" },
        "topic":     { "type": "string" },
        "retain":    { "type": "boolean" },
        "qos":       { "type": "integer", "minimum": 0, "maximum": 2 },
        "timestamp": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "meters": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "protocol": { "type": "string" },
          "enabled":  { "type": "boolean" },
          "interval": { "type": "integer" },
          "channel":  { "$ref": "#/definitions/channel" },
          "channels": {
            "type": "array",
            "items": { "$ref": "#/definitions/channel" }
          }
        },
        "required": ["protocol"]
      }
    }
  },
  "required": ["meters"],
  "additionalProperties": false,
  "definitions": {
    "channel": {
      "type": "object",
      "properties": {
        "uuid":             { "type": "string" },
        "middleware":       { "type": "string" },
        "identifier":       { "type": "string" },
        "api":              { "enum": ["volkszaehler", "mysmartgrid", "influxdb", "null"] },
        "aggmode":          { "type": "string" },
        "aggtime":          { "type": "integer" },
        "aggfixedinterval": { "type": "boolean" },
        "token":            { "type": "string" },
        "org":              { "type": "string" },
        "bucket":           { "type": "string" },
        "measurement":      { "type": "string" },
        "secretKey":        { "type": "string" },
        "device":           { "type": "string" },
        "type":             { "enum": ["device", "sensor"] },
        "scaler":           { "type": "integer" },
        "interval":         { "type": "integer" },
        "name":             { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`
