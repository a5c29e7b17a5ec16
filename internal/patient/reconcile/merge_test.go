package reconcile

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patientsync/internal/patient/models"
	"patientsync/internal/registry"
)

func localPatient(first, thirdPartyID string) *models.LocalPatient {
	return &models.LocalPatient{
		ID:               uuid.New(),
		ThirdPartyID:     thirdPartyID,
		FirstName:        first,
		LastName:         "Local",
		DOB:              time.Date(1990, 5, 15, 0, 0, 0, 0, time.UTC),
		Sex:              models.SexOther,
		EthnicBackground: "unspecified",
		CreatedAt:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func remotePatient(id, first string) registry.RemotePatient {
	return registry.RemotePatient{ID: id, FirstName: first, LastName: "Remote", DOB: "1980-01-01", Sex: "male", EthnicBackground: "unspecified"}
}

func TestMatcher(t *testing.T) {
	a := localPatient("Ann", "tp-1")
	b := localPatient("Bea", "")
	dup := localPatient("Dup", "tp-1")
	m := NewMatcher([]*models.LocalPatient{a, b, dup, nil})

	got, ok := m.Match("tp-1")
	require.True(t, ok)
	assert.Same(t, a, got, "first local record wins")

	_, ok = m.Match("tp-2")
	assert.False(t, ok)

	_, ok = m.Match("")
	assert.False(t, ok, "empty id never matches records without a third-party id")
}

func TestMergePage(t *testing.T) {
	t.Run("matched pair yields exactly one record tagged both", func(t *testing.T) {
		synced := localPatient("Ann", "tp-1")
		page := &registry.PatientPage{Patients: []registry.RemotePatient{remotePatient("tp-1", "Ann")}}

		out := MergePage([]*models.LocalPatient{synced}, page, nil, 1)

		require.Len(t, out.Patients, 1)
		assert.Equal(t, synced.ID.String(), out.Patients[0].ID)
		assert.Equal(t, models.ProvenanceBoth, out.Patients[0].Source)
		assert.True(t, out.Patients[0].CanDelete)
		assert.Equal(t, 1, out.Sources.LocalCount)
		assert.Equal(t, 0, out.Sources.ThirdPartyCount)
		assert.False(t, out.Sources.ThirdPartyError)
	})

	t.Run("local records first then registry-only in registry order", func(t *testing.T) {
		l1 := localPatient("Zed", "")
		l2 := localPatient("Amy", "tp-2")
		page := &registry.PatientPage{Patients: []registry.RemotePatient{
			remotePatient("tp-9", "Yan"),
			remotePatient("tp-2", "Amy"),
			remotePatient("tp-3", "Bob"),
		}}

		out := MergePage([]*models.LocalPatient{l1, l2}, page, nil, 1)

		ids := make([]string, 0, len(out.Patients))
		for _, p := range out.Patients {
			ids = append(ids, p.ID)
		}
		assert.Equal(t, []string{l1.ID.String(), l2.ID.String(), "tp-9", "tp-3"}, ids)
		assert.Equal(t, models.ProvenanceLocal, out.Patients[0].Source)
		assert.Equal(t, models.ProvenanceBoth, out.Patients[1].Source)
		assert.Equal(t, 2, out.Sources.LocalCount)
		assert.Equal(t, 2, out.Sources.ThirdPartyCount)
		assert.Equal(t, 4, out.Total)
	})

	t.Run("registry-only records are shaped for display", func(t *testing.T) {
		out := MergePage(nil, &registry.PatientPage{Patients: []registry.RemotePatient{remotePatient("tp-5", "Cat")}}, nil, 1)

		require.Len(t, out.Patients, 1)
		p := out.Patients[0]
		assert.Equal(t, "tp-5", p.ID)
		require.NotNil(t, p.ThirdPartyID)
		assert.Equal(t, "tp-5", *p.ThirdPartyID)
		assert.Equal(t, models.ProvenanceThirdParty, p.Source)
		assert.False(t, p.CanDelete)
		assert.Nil(t, p.CreatedAt)
		assert.Equal(t, "1980-01-01", p.DOB)
	})

	t.Run("missing registry id gets a fallback id", func(t *testing.T) {
		out := MergePage(nil, &registry.PatientPage{Patients: []registry.RemotePatient{remotePatient("", "Nid")}}, nil, 1)

		require.Len(t, out.Patients, 1)
		assert.True(t, strings.HasPrefix(out.Patients[0].ID, FallbackIDPrefix))
		assert.Len(t, out.Patients[0].ID, len(FallbackIDPrefix)+8)
		assert.Equal(t, out.Patients[0].ID, *out.Patients[0].ThirdPartyID)
	})

	t.Run("registry failure degrades to local only", func(t *testing.T) {
		l := localPatient("Ann", "tp-1")

		out := MergePage([]*models.LocalPatient{l}, nil, errors.New("registry down"), 3)

		require.Len(t, out.Patients, 1)
		assert.True(t, out.Sources.ThirdPartyError)
		assert.Equal(t, 0, out.Sources.ThirdPartyCount)
		assert.Equal(t, 3, out.Page)
		assert.Equal(t, 1, out.PerPage)
	})

	t.Run("page metadata comes from the registry when present", func(t *testing.T) {
		out := MergePage(nil, &registry.PatientPage{Page: 2, PerPage: 20}, nil, 2)
		assert.Equal(t, 2, out.Page)
		assert.Equal(t, 20, out.PerPage)
		assert.NotNil(t, out.Patients)
	})
}

func TestSummarize(t *testing.T) {
	page := MergePage(
		[]*models.LocalPatient{localPatient("Ann", ""), localPatient("Bea", "tp-1"), localPatient("Cy", "")},
		&registry.PatientPage{Patients: []registry.RemotePatient{remotePatient("tp-1", "Bea"), remotePatient("tp-7", "Dee")}},
		nil, 1,
	)

	stats := Summarize(page)
	assert.Equal(t, models.Stats{
		TotalPatients:   4,
		LocalCount:      3,
		ThirdPartyCount: 1,
		LocalOnlyCount:  2,
		SyncedCount:     1,
	}, stats)
}
