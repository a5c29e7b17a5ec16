package models

import (
	"time"

	"github.com/google/uuid"
)

// Provenance records which store(s) a canonical record came from.
type Provenance string

const (
	ProvenanceLocal      Provenance = "local"
	ProvenanceThirdParty Provenance = "third_party"
	ProvenanceBoth       Provenance = "both"
)

// Sex is the closed set accepted for patients.
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
	SexOther  Sex = "other"
)

// IsValid reports whether s is one of the accepted values.
func (s Sex) IsValid() bool {
	switch s {
	case SexMale, SexFemale, SexOther:
		return true
	}
	return false
}

// LocalPatient is a patient persisted in the local store. ThirdPartyID is set
// only when the registry accepted the record or the record was copied from it.
type LocalPatient struct {
	ID               uuid.UUID
	ThirdPartyID     string
	FirstName        string
	LastName         string
	DOB              time.Time
	Sex              Sex
	EthnicBackground string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Patient is the canonical record callers see regardless of origin.
// DOB is kept as a string because registry-only records are passed through
// in whatever format the registry uses.
type Patient struct {
	ID               string     `json:"id"`
	ThirdPartyID     *string    `json:"third_party_id"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	DOB              string     `json:"dob"`
	Sex              string     `json:"sex"`
	EthnicBackground string     `json:"ethnic_background"`
	Source           Provenance `json:"source"`
	CanDelete        bool       `json:"can_delete"`
	CreatedAt        *time.Time `json:"created_at"`
}

// Canonical converts a stored patient into the canonical shape.
func (p *LocalPatient) Canonical() Patient {
	created := p.CreatedAt
	out := Patient{
		ID:               p.ID.String(),
		FirstName:        p.FirstName,
		LastName:         p.LastName,
		DOB:              p.DOB.Format(time.RFC3339),
		Sex:              string(p.Sex),
		EthnicBackground: p.EthnicBackground,
		Source:           ProvenanceLocal,
		CanDelete:        true,
		CreatedAt:        &created,
	}
	if p.ThirdPartyID != "" {
		tpID := p.ThirdPartyID
		out.ThirdPartyID = &tpID
		out.Source = ProvenanceBoth
	}
	return out
}
