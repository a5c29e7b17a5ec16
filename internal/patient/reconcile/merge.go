package reconcile

import (
	"crypto/rand"
	"encoding/hex"

	"patientsync/internal/patient/models"
	"patientsync/internal/registry"
)

// FallbackIDPrefix marks synthesized ids for registry records that arrived
// without one.
const FallbackIDPrefix = "ext_fallback_"

// MergePage combines the local records with one registry page. remoteErr is
// the error from fetching that page; when set (or remote is nil) the page
// degrades to local records only and Sources.ThirdPartyError is true.
//
// Output order is fixed: every local record first in store order, then the
// registry-only records in registry order.
func MergePage(local []*models.LocalPatient, remote *registry.PatientPage, remoteErr error, requestedPage int) *models.UnifiedPage {
	patients := make([]models.Patient, 0, len(local))
	for _, p := range local {
		if p == nil {
			continue
		}
		patients = append(patients, p.Canonical())
	}
	localCount := len(patients)

	remoteFailed := remoteErr != nil || remote == nil
	thirdPartyCount := 0
	if !remoteFailed {
		matcher := NewMatcher(local)
		for _, rp := range remote.Patients {
			if _, ok := matcher.Match(rp.ID); ok {
				// already represented by the local record tagged both
				continue
			}
			patients = append(patients, FromRemote(rp))
			thirdPartyCount++
		}
	}

	out := &models.UnifiedPage{
		Patients: patients,
		Total:    len(patients),
		Page:     requestedPage,
		PerPage:  len(patients),
		Sources: models.Sources{
			LocalCount:      localCount,
			ThirdPartyCount: thirdPartyCount,
			ThirdPartyError: remoteFailed,
		},
	}
	if !remoteFailed {
		if remote.Page > 0 {
			out.Page = remote.Page
		}
		if remote.PerPage > 0 {
			out.PerPage = remote.PerPage
		}
	}
	return out
}

// FromRemote wraps a registry patient into the canonical shape. Registry-only
// records cannot be deleted here and carry no created_at.
func FromRemote(rp registry.RemotePatient) models.Patient {
	id := rp.ID
	if id == "" {
		id = fallbackID()
	}
	tpID := id
	return models.Patient{
		ID:               id,
		ThirdPartyID:     &tpID,
		FirstName:        rp.FirstName,
		LastName:         rp.LastName,
		DOB:              rp.DOB,
		Sex:              rp.Sex,
		EthnicBackground: rp.EthnicBackground,
		Source:           models.ProvenanceThirdParty,
		CanDelete:        false,
		CreatedAt:        nil,
	}
}

// Summarize counts provenance tags over a merged page.
func Summarize(page *models.UnifiedPage) models.Stats {
	stats := models.Stats{
		TotalPatients:   len(page.Patients),
		LocalCount:      page.Sources.LocalCount,
		ThirdPartyCount: page.Sources.ThirdPartyCount,
	}
	for _, p := range page.Patients {
		switch p.Source {
		case models.ProvenanceLocal:
			stats.LocalOnlyCount++
		case models.ProvenanceBoth:
			stats.SyncedCount++
		}
	}
	return stats
}

func fallbackID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return FallbackIDPrefix + hex.EncodeToString(b[:])
}
