// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package object

import (
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/dynexp/services/runtime/exception"
)

// paramsValidate validates params structs. Safe for concurrent use.
var paramsValidate = validator.New(validator.WithRequiredStructEnabled())

// DecodeParams decodes the raw params of an Object definition into dst, a
// pointer to a struct with yaml and validate tags, and validates it.
//
// Example:
//
//	type Params struct {
//	    Noise      float64       `yaml:"noise" validate:"gte=0,lte=1"`
//	    StreamSize uint64        `yaml:"stream_size" validate:"min=1"`
//	    Interval   time.Duration `yaml:"update_interval"`
//	}
//	var p Params
//	err := object.DecodeParams(def.Params, &p)
func DecodeParams(raw map[string]any, dst any) error {
	if raw != nil {
		b, err := yaml.Marshal(raw)
		if err != nil {
			return exception.Wrap(exception.KindInvalidArgument, err, "encoding params")
		}
		if err := yaml.Unmarshal(b, dst); err != nil {
			return exception.Wrap(exception.KindInvalidArgument, err, "decoding params")
		}
	}
	if err := paramsValidate.Struct(dst); err != nil {
		return exception.Wrap(exception.KindInvalidArgument, err, "invalid params")
	}
	return nil
}
