package models

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	dErrors "patientsync/pkg/domain-errors"
)

const (
	maxNameLength   = 100
	maxUnitLength   = 10
	maxEthnicLength = 100
)

// CreatePatientRequest is the inbound body of POST /patients.
type CreatePatientRequest struct {
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	DOB              string `json:"dob"`
	Sex              string `json:"sex"`
	EthnicBackground string `json:"ethnic_background"`
}

// Normalize trims whitespace from every field.
func (r *CreatePatientRequest) Normalize() {
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
	r.DOB = strings.TrimSpace(r.DOB)
	r.Sex = strings.ToLower(strings.TrimSpace(r.Sex))
	r.EthnicBackground = strings.TrimSpace(r.EthnicBackground)
}

// Validate checks the request and returns the parsed date of birth. now is the
// request time used for the future-date check.
func (r *CreatePatientRequest) Validate(now time.Time) (time.Time, error) {
	if err := ValidateName("first name", r.FirstName); err != nil {
		return time.Time{}, err
	}
	if err := ValidateName("last name", r.LastName); err != nil {
		return time.Time{}, err
	}
	dob, err := ParseDOB(r.DOB)
	if err != nil {
		return time.Time{}, err
	}
	if dob.After(now) {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "date of birth cannot be in the future")
	}
	if err := ValidateProfile(r.Sex, r.EthnicBackground); err != nil {
		return time.Time{}, err
	}
	return dob, nil
}

// ValidateProfile checks an already normalized sex and ethnic background.
func ValidateProfile(sex, ethnicBackground string) error {
	if !Sex(sex).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "sex must be one of male, female, other")
	}
	if ethnicBackground == "" {
		return dErrors.New(dErrors.CodeValidation, "ethnic background is required")
	}
	if len(ethnicBackground) > maxEthnicLength {
		return dErrors.New(dErrors.CodeValidation, "ethnic background is too long")
	}
	return nil
}

// ValidateName requires a non-empty value of letters and spaces.
func ValidateName(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return dErrors.New(dErrors.CodeValidation, field+" is required")
	}
	if len(value) > maxNameLength {
		return dErrors.New(dErrors.CodeValidation, field+" is too long")
	}
	for _, r := range value {
		if r != ' ' && !unicode.IsLetter(r) {
			return dErrors.New(dErrors.CodeValidation, field+" can only contain letters and spaces")
		}
	}
	return nil
}

// Measurement is a value with its unit, e.g. {"value": 70.5, "unit": "kg"}.
type Measurement struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit"`
}

// ProcessRequest is the inbound body of POST /patients/{id}/process.
type ProcessRequest struct {
	Weight *Measurement `json:"weight"`
	Height *Measurement `json:"height"`
}

// Validate requires both measurements with a value and a short unit.
func (r *ProcessRequest) Validate() error {
	if err := validateMeasurement("weight", r.Weight); err != nil {
		return err
	}
	return validateMeasurement("height", r.Height)
}

func validateMeasurement(field string, m *Measurement) error {
	switch {
	case m == nil:
		return dErrors.New(dErrors.CodeValidation, field+" is required")
	case m.Value == nil:
		return dErrors.New(dErrors.CodeValidation, field+".value is required")
	case strings.TrimSpace(m.Unit) == "":
		return dErrors.New(dErrors.CodeValidation, field+".unit is required")
	case len(m.Unit) > maxUnitLength:
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s.unit must be at most %d characters", field, maxUnitLength))
	}
	return nil
}
