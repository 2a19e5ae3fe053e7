// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import (
	"fmt"
	"math"
)

// AnomalyType represents different types of reading anomalies
type AnomalyType int

const (
	AnomalyVoltageRange AnomalyType = iota
	AnomalyFrequencyRange
	AnomalyPowerFactorRange
	AnomalyPowerExceedsApparent
	AnomalyEnergyRollback
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyVoltageRange:
		return "VOLTAGE_RANGE"
	case AnomalyFrequencyRange:
		return "FREQUENCY_RANGE"
	case AnomalyPowerFactorRange:
		return "POWER_FACTOR_RANGE"
	case AnomalyPowerExceedsApparent:
		return "POWER_EXCEEDS_APPARENT"
	case AnomalyEnergyRollback:
		return "ENERGY_ROLLBACK"
	default:
		return "UNKNOWN"
	}
}

// ValidationError represents a reading that failed a plausibility check
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Limits bounds the plausible values of a reading
type Limits struct {
	MinVolts     float64
	MaxVolts     float64
	MinFrequency float64
	MaxFrequency float64

	// PowerTolerance is the fraction by which |W| may exceed V*A before
	// it is flagged
	PowerTolerance float64
}

// DefaultLimits covers 100-240 V mains at 50 or 60 Hz
func DefaultLimits() Limits {
	return Limits{
		MinVolts:       80,
		MaxVolts:       280,
		MinFrequency:   45,
		MaxFrequency:   65,
		PowerTolerance: 0.05,
	}
}

// ValidateReading checks a reading against limits. prev may be nil; when
// given, energy counters are checked for rollback.
// Returns a slice of validation errors (empty if the reading is valid)
func ValidateReading(r Reading, prev *Reading, limits Limits) []ValidationError {
	errors := []ValidationError{}

	if r.Volts < limits.MinVolts || r.Volts > limits.MaxVolts {
		errors = append(errors, ValidationError{
			Type:    AnomalyVoltageRange,
			Message: fmt.Sprintf("Voltage %.1f V outside %.0f-%.0f V", r.Volts, limits.MinVolts, limits.MaxVolts),
			Details: map[string]interface{}{"value": r.Volts, "min": limits.MinVolts, "max": limits.MaxVolts},
		})
	}

	if r.Frequency < limits.MinFrequency || r.Frequency > limits.MaxFrequency {
		errors = append(errors, ValidationError{
			Type:    AnomalyFrequencyRange,
			Message: fmt.Sprintf("Frequency %.3f Hz outside %.0f-%.0f Hz", r.Frequency, limits.MinFrequency, limits.MaxFrequency),
			Details: map[string]interface{}{"value": r.Frequency, "min": limits.MinFrequency, "max": limits.MaxFrequency},
		})
	}

	for ch, pf := range []float64{r.PowerFactor1, r.PowerFactor2} {
		if pf < -1 || pf > 1 {
			errors = append(errors, ValidationError{
				Type:    AnomalyPowerFactorRange,
				Message: fmt.Sprintf("Channel %d power factor %.3f outside -1..1", ch+1, pf),
				Details: map[string]interface{}{"channel": ch + 1, "value": pf},
			})
		}
	}

	channels := []struct {
		watts, amps float64
	}{
		{r.Watts1, r.Amps1},
		{r.Watts2, r.Amps2},
	}
	for i, c := range channels {
		apparent := math.Abs(r.Volts * c.amps)
		if math.Abs(c.watts) > apparent*(1+limits.PowerTolerance)+1 {
			errors = append(errors, ValidationError{
				Type: AnomalyPowerExceedsApparent,
				Message: fmt.Sprintf("Channel %d active power %.1f W exceeds V*A %.1f VA",
					i+1, c.watts, apparent),
				Details: map[string]interface{}{"channel": i + 1, "watts": c.watts, "apparent": apparent},
			})
		}
	}

	if prev != nil {
		counters := []struct {
			name      string
			now, then uint64
		}{
			{"import_energy1", r.ImportEnergy1, prev.ImportEnergy1},
			{"import_energy2", r.ImportEnergy2, prev.ImportEnergy2},
			{"export_energy1", r.ExportEnergy1, prev.ExportEnergy1},
			{"export_energy2", r.ExportEnergy2, prev.ExportEnergy2},
		}
		for _, c := range counters {
			if c.now < c.then {
				errors = append(errors, ValidationError{
					Type:    AnomalyEnergyRollback,
					Message: fmt.Sprintf("Counter %s went backwards: %d -> %d", c.name, c.then, c.now),
					Details: map[string]interface{}{"counter": c.name, "previous": c.then, "current": c.now},
				})
			}
		}
	}

	return errors
}
