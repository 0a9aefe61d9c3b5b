// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lockin

import (
	"context"
	"errors"

	"github.com/AleutianAI/dynexp/services/runtime/object"
)

// Settings are the instrument params that can be changed on a running
// instrument. Nil fields are left alone.
type Settings struct {
	Sensitivity  *float64 `yaml:"sensitivity" validate:"omitempty,gt=0"`
	Phase        *float64 `yaml:"phase" validate:"omitempty,gte=-360,lte=360"`
	TimeConstant *float64 `yaml:"time_constant" validate:"omitempty,gt=0"`
}

// DecodeSettings extracts Settings from Object params. Other keys are
// ignored.
func DecodeSettings(raw map[string]any) (Settings, error) {
	var s Settings
	err := object.DecodeParams(raw, &s)
	return s, err
}

// Apply sends every set field to ctl. All fields are tried; the errors are
// joined.
func (s Settings) Apply(ctx context.Context, ctl Controller) error {
	var errs []error
	if s.Sensitivity != nil {
		errs = append(errs, ctl.SetSensitivity(ctx, *s.Sensitivity))
	}
	if s.Phase != nil {
		errs = append(errs, ctl.SetPhase(ctx, *s.Phase))
	}
	if s.TimeConstant != nil {
		errs = append(errs, ctl.SetTimeConstant(ctx, *s.TimeConstant))
	}
	return errors.Join(errs...)
}

// IsZero reports whether no field is set.
func (s Settings) IsZero() bool {
	return s.Sensitivity == nil && s.Phase == nil && s.TimeConstant == nil
}
