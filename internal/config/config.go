// Package config validates the daemon's runtime parameters (spec.md §6
// CLI flags).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RunConfig holds the validated parameters for the `run` subcommand.
type RunConfig struct {
	ZDevice    string        `validate:"omitempty"`
	SCD30I2C   int           `validate:"omitempty,gte=-1"`
	CO2Limit   int           `validate:"required,gt=0"`
	CO2Diff    int           `validate:"required,gt=0"`
	ManualSecs time.Duration `validate:"required,gt=0"`
}

// Validate checks the struct tags above and the cross-field invariant
// that the hysteresis band stays below the turn-on limit.
func (c RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.CO2Diff >= c.CO2Limit {
		return fmt.Errorf("config: co2_diff (%d) must be less than co2_limit (%d)", c.CO2Diff, c.CO2Limit)
	}
	return nil
}

// CalibrateConfig holds the validated parameters for the `calibrate`
// subcommand.
type CalibrateConfig struct {
	ZDevice  string `validate:"omitempty"`
	SCD30I2C int    `validate:"omitempty,gte=-1"`
	SCD30PPM int    `validate:"omitempty,gt=0"`
}

func (c CalibrateConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ResetConfig holds the validated parameters for the `reset`
// subcommand.
type ResetConfig struct {
	ZDevice  string `validate:"omitempty"`
	Switches int    `validate:"required,gt=0"`
}

func (c ResetConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
