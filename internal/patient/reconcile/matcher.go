// Package reconcile matches local patients with registry patients and merges
// both sides into one canonical listing.
package reconcile

import (
	"patientsync/internal/patient/models"
)

// Matcher answers "is this registry id already represented locally?" for one
// fetched page. It indexes local records by third-party id once, which is
// observably identical to scanning the local list per remote record.
type Matcher struct {
	byThirdPartyID map[string]*models.LocalPatient
}

// NewMatcher indexes the local records that carry a third-party id.
func NewMatcher(local []*models.LocalPatient) *Matcher {
	m := &Matcher{byThirdPartyID: make(map[string]*models.LocalPatient, len(local))}
	for _, p := range local {
		if p == nil || p.ThirdPartyID == "" {
			continue
		}
		// first record wins, mirroring a front-to-back scan
		if _, seen := m.byThirdPartyID[p.ThirdPartyID]; !seen {
			m.byThirdPartyID[p.ThirdPartyID] = p
		}
	}
	return m
}

// Match returns the local record whose third-party id equals remoteID.
// An empty remoteID never matches.
func (m *Matcher) Match(remoteID string) (*models.LocalPatient, bool) {
	if remoteID == "" {
		return nil, false
	}
	p, ok := m.byThirdPartyID[remoteID]
	return p, ok
}
