package models

import (
	"fmt"

	dErrors "patientsync/pkg/domain-errors"
)

// Sources summarizes where a unified page's records came from.
type Sources struct {
	LocalCount      int  `json:"local_count"`
	ThirdPartyCount int  `json:"third_party_count"`
	ThirdPartyError bool `json:"third_party_error"`
}

// UnifiedPage is one page of the merged patient listing.
type UnifiedPage struct {
	Patients []Patient `json:"patients"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PerPage  int       `json:"per_page"`
	Sources  Sources   `json:"sources"`
}

// Stats counts provenance tags over a merged page.
type Stats struct {
	TotalPatients   int `json:"total_patients"`
	LocalCount      int `json:"local_count"`
	ThirdPartyCount int `json:"third_party_count"`
	LocalOnlyCount  int `json:"local_only_count"`
	SyncedCount     int `json:"synced_count"`
}

// CreateResult is the outcome of a create. The local write always succeeded;
// ThirdPartySync says whether the registry accepted the forward. Patient is
// the local canonical record, linked to the registry id on success; the
// registry's own response body is not echoed.
type CreateResult struct {
	Patient
	LocalID         string `json:"local_id"`
	ThirdPartySync  bool   `json:"third_party_sync"`
	ThirdPartyError string `json:"third_party_error,omitempty"`
}

// DeleteResult is the body of a successful delete.
type DeleteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// IDKind tells a lookup how to interpret the id it was given.
type IDKind string

const (
	// IDKindAuto tries the local primary key (when the id is a UUID), then the
	// local third-party id, then the registry.
	IDKindAuto IDKind = "auto"
	// IDKindLocal only consults the local primary key.
	IDKindLocal IDKind = "local"
	// IDKindThirdParty consults the local third-party id, then the registry.
	IDKindThirdParty IDKind = "third_party"
)

// ParseIDKind accepts "", "auto", "local" and "third_party".
func ParseIDKind(s string) (IDKind, error) {
	switch IDKind(s) {
	case "", IDKindAuto:
		return IDKindAuto, nil
	case IDKindLocal, IDKindThirdParty:
		return IDKind(s), nil
	}
	return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown id kind %q", s))
}
