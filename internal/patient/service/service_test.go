package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Store,Registry,AuditPublisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"patientsync/internal/audit"
	"patientsync/internal/patient/models"
	"patientsync/internal/patient/service/mocks"
	"patientsync/internal/patient/store"
	"patientsync/internal/registry"
	dErrors "patientsync/pkg/domain-errors"
	"patientsync/pkg/platform/sentinel"
	"patientsync/pkg/requestcontext"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func outage() error {
	return &registry.Error{Category: registry.ErrorProviderOutage, Status: http.StatusInternalServerError, Message: "registry unreachable"}
}

func notFound() error {
	return &registry.Error{Category: registry.ErrorNotFound, Status: http.StatusNotFound, Message: "registry returned status 404"}
}

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	store    *mocks.MockStore
	registry *mocks.MockRegistry
	audit    *mocks.MockAuditPublisher
	service  *Service
	ctx      context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.registry = mocks.NewMockRegistry(s.ctrl)
	s.audit = mocks.NewMockAuditPublisher(s.ctrl)
	s.service = New(s.store, s.registry, WithLogger(quietLogger()), WithAuditPublisher(s.audit))
	s.ctx = requestcontext.WithTime(context.Background(), fixedNow)
}

func (s *ServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func ada() models.CreatePatientRequest {
	return models.CreatePatientRequest{
		FirstName:        "Ada",
		LastName:         "Lovelace",
		DOB:              "1990-05-15T00:00:00.000Z",
		Sex:              "female",
		EthnicBackground: "unspecified",
	}
}

func storedFrom(p *models.LocalPatient) *models.LocalPatient {
	out := *p
	out.ID = uuid.New()
	out.CreatedAt = fixedNow
	out.UpdatedAt = fixedNow
	return &out
}

func (s *ServiceSuite) TestListMergesBothSources() {
	synced := &models.LocalPatient{ID: uuid.New(), ThirdPartyID: "tp-1", FirstName: "Ann", CreatedAt: fixedNow}
	s.store.EXPECT().List(gomock.Any()).Return([]*models.LocalPatient{synced}, nil)
	s.registry.EXPECT().ListPatients(gomock.Any(), 2).Return(&registry.PatientPage{
		Patients: []registry.RemotePatient{{ID: "tp-1"}, {ID: "tp-2", FirstName: "Bob"}},
		Page:     2,
		PerPage:  10,
	}, nil)

	page, err := s.service.List(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(page.Patients, 2)
	s.Equal(models.ProvenanceBoth, page.Patients[0].Source)
	s.Equal("tp-2", page.Patients[1].ID)
	s.Equal(2, page.Page)
	s.Equal(10, page.PerPage)
	s.False(page.Sources.ThirdPartyError)
}

func (s *ServiceSuite) TestListDegradesWhenRegistryFails() {
	local := &models.LocalPatient{ID: uuid.New(), FirstName: "Ann", CreatedAt: fixedNow}
	s.store.EXPECT().List(gomock.Any()).Return([]*models.LocalPatient{local}, nil)
	s.registry.EXPECT().ListPatients(gomock.Any(), 1).Return(nil, outage())

	page, err := s.service.List(s.ctx, 1)
	s.Require().NoError(err)
	s.Len(page.Patients, 1)
	s.True(page.Sources.ThirdPartyError)
	s.Equal(0, page.Sources.ThirdPartyCount)
}

func (s *ServiceSuite) TestListLocalFailureIsInternal() {
	s.store.EXPECT().List(gomock.Any()).Return(nil, errors.New("db down"))
	s.registry.EXPECT().ListPatients(gomock.Any(), 1).Return(&registry.PatientPage{}, nil).AnyTimes()

	_, err := s.service.List(s.ctx, 1)
	s.Require().Error(err)
	s.Equal(http.StatusInternalServerError, dErrors.HTTPStatus(err))
}

func (s *ServiceSuite) TestListRejectsBadPage() {
	for _, page := range []int{0, -1} {
		_, err := s.service.List(s.ctx, page)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	}
}

func (s *ServiceSuite) TestStatsCountsRequestedPage() {
	s.store.EXPECT().List(gomock.Any()).Return([]*models.LocalPatient{
		{ID: uuid.New(), CreatedAt: fixedNow},
		{ID: uuid.New(), ThirdPartyID: "tp-1", CreatedAt: fixedNow},
	}, nil)
	s.registry.EXPECT().ListPatients(gomock.Any(), 3).Return(&registry.PatientPage{
		Patients: []registry.RemotePatient{{ID: "tp-1"}, {ID: "tp-9"}},
	}, nil)

	stats, err := s.service.Stats(s.ctx, 3)
	s.Require().NoError(err)
	s.Equal(models.Stats{TotalPatients: 3, LocalCount: 2, ThirdPartyCount: 1, LocalOnlyCount: 1, SyncedCount: 1}, *stats)
}

func (s *ServiceSuite) TestGetAutoPrefersLocalPrimaryKey() {
	id := uuid.New()
	s.store.EXPECT().FindByID(gomock.Any(), id).Return(&models.LocalPatient{ID: id, FirstName: "Ann"}, nil)

	p, err := s.service.Get(s.ctx, id.String(), models.IDKindAuto)
	s.Require().NoError(err)
	s.Equal(id.String(), p.ID)
	s.Equal(models.ProvenanceLocal, p.Source)
}

func (s *ServiceSuite) TestGetAutoFallsThroughToRegistry() {
	id := uuid.New()
	gomock.InOrder(
		s.store.EXPECT().FindByID(gomock.Any(), id).Return(nil, sentinel.ErrNotFound),
		s.store.EXPECT().FindByThirdPartyID(gomock.Any(), id.String()).Return(nil, sentinel.ErrNotFound),
		s.registry.EXPECT().GetPatient(gomock.Any(), id.String()).Return(&registry.RemotePatient{ID: id.String(), FirstName: "Remote"}, nil),
	)

	p, err := s.service.Get(s.ctx, id.String(), models.IDKindAuto)
	s.Require().NoError(err)
	s.Equal(models.ProvenanceThirdParty, p.Source)
	s.False(p.CanDelete)
	s.Nil(p.CreatedAt)
}

func (s *ServiceSuite) TestGetNonUUIDChecksThirdPartyIDFirst() {
	s.store.EXPECT().FindByThirdPartyID(gomock.Any(), "tp-1").
		Return(&models.LocalPatient{ID: uuid.New(), ThirdPartyID: "tp-1"}, nil)

	p, err := s.service.Get(s.ctx, "tp-1", models.IDKindAuto)
	s.Require().NoError(err)
	s.Equal(models.ProvenanceBoth, p.Source)
}

func (s *ServiceSuite) TestGetRemoteWithoutIDUsesRequestedID() {
	s.store.EXPECT().FindByThirdPartyID(gomock.Any(), "tp-5").Return(nil, sentinel.ErrNotFound)
	s.registry.EXPECT().GetPatient(gomock.Any(), "tp-5").Return(&registry.RemotePatient{FirstName: "Nid"}, nil)

	p, err := s.service.Get(s.ctx, "tp-5", models.IDKindThirdParty)
	s.Require().NoError(err)
	s.Equal("tp-5", p.ID)
}

func (s *ServiceSuite) TestGetLocalKindNeverCallsRegistry() {
	_, err := s.service.Get(s.ctx, "tp-1", models.IDKindLocal)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	id := uuid.New()
	s.store.EXPECT().FindByID(gomock.Any(), id).Return(nil, sentinel.ErrNotFound)
	_, err = s.service.Get(s.ctx, id.String(), models.IDKindLocal)
	s.Equal(http.StatusNotFound, dErrors.HTTPStatus(err))
}

func (s *ServiceSuite) TestGetRegistryFailures() {
	s.store.EXPECT().FindByThirdPartyID(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound).Times(2)
	s.registry.EXPECT().GetPatient(gomock.Any(), "missing").Return(nil, notFound())
	s.registry.EXPECT().GetPatient(gomock.Any(), "down").Return(nil, outage())

	_, err := s.service.Get(s.ctx, "missing", models.IDKindAuto)
	s.Equal(http.StatusNotFound, dErrors.HTTPStatus(err))
	s.Equal("patient not found", dErrors.MessageOf(err))

	_, err = s.service.Get(s.ctx, "down", models.IDKindAuto)
	s.Equal(http.StatusInternalServerError, dErrors.HTTPStatus(err))
	s.True(dErrors.HasCode(err, dErrors.CodeUpstream))
}

func (s *ServiceSuite) TestGetLocalStoreFailureIsInternal() {
	s.store.EXPECT().FindByThirdPartyID(gomock.Any(), "tp-1").Return(nil, errors.New("db down"))

	_, err := s.service.Get(s.ctx, "tp-1", models.IDKindThirdParty)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestCreateSyncsWithRegistry() {
	var stored *models.LocalPatient
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p *models.LocalPatient) (*models.LocalPatient, error) {
			stored = storedFrom(p)
			return stored, nil
		})
	s.registry.EXPECT().CreatePatient(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req registry.CreatePatientRequest) (*registry.RemotePatient, error) {
			s.Equal(time.Date(1990, 5, 15, 0, 0, 0, 0, time.UTC), req.DOB)
			s.Equal("Lovelace", req.LastName)
			return &registry.RemotePatient{ID: "tp-100", FirstName: "Augusta"}, nil
		})
	s.store.EXPECT().SetThirdPartyID(gomock.Any(), gomock.Any(), "tp-100").DoAndReturn(
		func(_ context.Context, id uuid.UUID, tp string) (*models.LocalPatient, error) {
			out := *stored
			out.ThirdPartyID = tp
			return &out, nil
		})
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e audit.Event) error {
			s.Equal(audit.ActionPatientCreated, e.Action)
			s.Equal("tp-100", e.ThirdPartyID)
			return nil
		})

	res, err := s.service.Create(s.ctx, ada())
	s.Require().NoError(err)
	s.True(res.ThirdPartySync)
	s.Empty(res.ThirdPartyError)
	s.Equal(models.ProvenanceBoth, res.Source)
	s.Equal(stored.ID.String(), res.LocalID)
	s.Require().NotNil(res.ThirdPartyID)
	s.Equal("tp-100", *res.ThirdPartyID)
	s.Equal("Ada", res.FirstName, "the local record is returned, not the registry body")
}

// TestCreateWithUnreachableRegistry is the Ada Lovelace scenario: the local
// write stands and the caller still gets 201 material.
func (s *ServiceSuite) TestCreateWithUnreachableRegistry() {
	var stored *models.LocalPatient
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p *models.LocalPatient) (*models.LocalPatient, error) {
			stored = storedFrom(p)
			return stored, nil
		})
	s.registry.EXPECT().CreatePatient(gomock.Any(), gomock.Any()).Return(nil, outage())
	var actions []audit.Action
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e audit.Event) error {
			actions = append(actions, e.Action)
			return nil
		}).Times(2)

	res, err := s.service.Create(s.ctx, ada())
	s.Require().NoError(err)
	s.False(res.ThirdPartySync)
	s.Equal("registry unreachable", res.ThirdPartyError)
	s.Equal(models.ProvenanceLocal, res.Source)
	s.Nil(res.ThirdPartyID)
	s.True(res.CanDelete)
	s.Equal(stored.ID.String(), res.LocalID)
	s.Equal([]audit.Action{audit.ActionPatientCreated, audit.ActionPatientSyncFailed}, actions)
}

func (s *ServiceSuite) TestCreateLinkFailureReportsUnsynced() {
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p *models.LocalPatient) (*models.LocalPatient, error) {
			return storedFrom(p), nil
		})
	s.registry.EXPECT().CreatePatient(gomock.Any(), gomock.Any()).Return(&registry.RemotePatient{ID: "tp-1"}, nil)
	s.store.EXPECT().SetThirdPartyID(gomock.Any(), gomock.Any(), "tp-1").Return(nil, sentinel.ErrAlreadyUsed)
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	res, err := s.service.Create(s.ctx, ada())
	s.Require().NoError(err)
	s.False(res.ThirdPartySync)
	s.Equal("failed to link registry record", res.ThirdPartyError)
}

func (s *ServiceSuite) TestCreateValidation() {
	cases := map[string]func(*models.CreatePatientRequest){
		"digits in name": func(r *models.CreatePatientRequest) { r.FirstName = "Ada2" },
		"future dob":     func(r *models.CreatePatientRequest) { r.DOB = "2999-01-01T00:00:00Z" },
		"bad dob":        func(r *models.CreatePatientRequest) { r.DOB = "not a date" },
		"bad sex":        func(r *models.CreatePatientRequest) { r.Sex = "unknown" },
		"no background":  func(r *models.CreatePatientRequest) { r.EthnicBackground = "  " },
	}
	for name, mutate := range cases {
		s.Run(name, func() {
			req := ada()
			mutate(&req)
			_, err := s.service.Create(s.ctx, req)
			s.Equal(http.StatusBadRequest, dErrors.HTTPStatus(err))
		})
	}
}

func (s *ServiceSuite) TestCreateLocalFailureIsInternal() {
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, errors.New("disk full"))

	_, err := s.service.Create(s.ctx, ada())
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestDelete() {
	id := uuid.New()
	s.store.EXPECT().Delete(gomock.Any(), id).Return(nil)
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	res, err := s.service.Delete(s.ctx, id.String())
	s.Require().NoError(err)
	s.True(res.Success)
	s.Equal("Patient deleted successfully", res.Message)
}

func (s *ServiceSuite) TestDeleteNotFound() {
	id := uuid.New()
	s.store.EXPECT().Delete(gomock.Any(), id).Return(sentinel.ErrNotFound)

	_, err := s.service.Delete(s.ctx, id.String())
	s.Equal(http.StatusNotFound, dErrors.HTTPStatus(err))

	_, err = s.service.Delete(s.ctx, "tp-1")
	s.Equal(http.StatusNotFound, dErrors.HTTPStatus(err), "registry ids are never deletable")
}

func (s *ServiceSuite) TestCopy() {
	s.registry.EXPECT().GetPatient(gomock.Any(), "tp-9").Return(&registry.RemotePatient{
		ID: "tp-9", FirstName: "Grace", LastName: "Hopper", DOB: "1906-12-09", Sex: "female", EthnicBackground: "american",
	}, nil)
	s.store.EXPECT().FindByThirdPartyID(gomock.Any(), "tp-9").Return(nil, sentinel.ErrNotFound)
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p *models.LocalPatient) (*models.LocalPatient, error) {
			s.Equal("tp-9", p.ThirdPartyID)
			s.Equal(time.Date(1906, 12, 9, 0, 0, 0, 0, time.UTC), p.DOB)
			return storedFrom(p), nil
		})
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e audit.Event) error {
			s.Equal(audit.ActionPatientCopied, e.Action)
			s.Equal("tp-9", e.ThirdPartyID)
			return nil
		})

	p, err := s.service.Copy(s.ctx, "tp-9")
	s.Require().NoError(err)
	s.Equal(models.ProvenanceBoth, p.Source)
	s.True(p.CanDelete)
}

func (s *ServiceSuite) TestCopyFetchFailureIsBadRequest() {
	s.registry.EXPECT().GetPatient(gomock.Any(), "tp-9").Return(nil, outage())

	_, err := s.service.Copy(s.ctx, "tp-9")
	s.Equal(http.StatusBadRequest, dErrors.HTTPStatus(err))
	s.Equal("failed to fetch external patient data", dErrors.MessageOf(err))
}

func (s *ServiceSuite) TestCopyDuplicate() {
	s.registry.EXPECT().GetPatient(gomock.Any(), "tp-9").Return(&registry.RemotePatient{ID: "tp-9", DOB: "1906-12-09"}, nil)
	s.store.EXPECT().FindByThirdPartyID(gomock.Any(), "tp-9").Return(&models.LocalPatient{ID: uuid.New()}, nil)

	_, err := s.service.Copy(s.ctx, "tp-9")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal(http.StatusBadRequest, dErrors.HTTPStatus(err))
}

func grace() *registry.RemotePatient {
	return &registry.RemotePatient{
		ID: "tp-9", FirstName: "Grace", LastName: "Hopper", DOB: "1906-12-09", Sex: "female", EthnicBackground: "american",
	}
}

func (s *ServiceSuite) TestCopyLosesRaceOnUniqueConstraint() {
	s.registry.EXPECT().GetPatient(gomock.Any(), "tp-9").Return(grace(), nil)
	s.store.EXPECT().FindByThirdPartyID(gomock.Any(), "tp-9").Return(nil, sentinel.ErrNotFound)
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrAlreadyUsed)

	_, err := s.service.Copy(s.ctx, "tp-9")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestCopyBadDOB() {
	s.registry.EXPECT().GetPatient(gomock.Any(), "tp-9").Return(&registry.RemotePatient{ID: "tp-9", DOB: "soon"}, nil)
	s.store.EXPECT().FindByThirdPartyID(gomock.Any(), "tp-9").Return(nil, sentinel.ErrNotFound)

	_, err := s.service.Copy(s.ctx, "tp-9")
	s.Equal(http.StatusBadRequest, dErrors.HTTPStatus(err))
	s.Equal("invalid date format in external patient data", dErrors.MessageOf(err))
}

func (s *ServiceSuite) TestCopyRejectsInvalidRegistryRecord() {
	cases := []struct {
		name   string
		mutate func(*registry.RemotePatient)
		detail string
	}{
		{"abbreviated sex", func(p *registry.RemotePatient) { p.Sex = "M" }, "sex must be one of male, female, other"},
		{"overlong ethnic background", func(p *registry.RemotePatient) {
			p.EthnicBackground = strings.Repeat("a", 101)
		}, "ethnic background is too long"},
		{"missing last name", func(p *registry.RemotePatient) { p.LastName = " " }, "last name is required"},
		{"digits in first name", func(p *registry.RemotePatient) { p.FirstName = "Grace2" }, "first name can only contain letters and spaces"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			rp := grace()
			tc.mutate(rp)
			s.registry.EXPECT().GetPatient(gomock.Any(), "tp-9").Return(rp, nil)
			s.store.EXPECT().FindByThirdPartyID(gomock.Any(), "tp-9").Return(nil, sentinel.ErrNotFound)

			_, err := s.service.Copy(s.ctx, "tp-9")
			s.Require().Error(err)
			s.Equal(http.StatusBadRequest, dErrors.HTTPStatus(err))
			s.Equal("invalid patient data in external record: "+tc.detail, dErrors.MessageOf(err))
		})
	}
}

func (s *ServiceSuite) TestCopyNormalizesRegistrySex() {
	rp := grace()
	rp.Sex = " Female "
	s.registry.EXPECT().GetPatient(gomock.Any(), "tp-9").Return(rp, nil)
	s.store.EXPECT().FindByThirdPartyID(gomock.Any(), "tp-9").Return(nil, sentinel.ErrNotFound)
	s.store.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p *models.LocalPatient) (*models.LocalPatient, error) {
			s.Equal(models.SexFemale, p.Sex)
			return storedFrom(p), nil
		})
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)

	_, err := s.service.Copy(s.ctx, "tp-9")
	s.NoError(err)
}

func (s *ServiceSuite) TestAuditFailureDoesNotFailOperation() {
	id := uuid.New()
	s.store.EXPECT().Delete(gomock.Any(), id).Return(nil)
	s.audit.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("kafka down"))

	_, err := s.service.Delete(s.ctx, id.String())
	s.NoError(err)
}

// fakeRegistry drives the lifecycle tests against the real in-memory store.
type fakeRegistry struct {
	patients map[string]registry.RemotePatient
	fail     error
}

func (f *fakeRegistry) ListPatients(context.Context, int) (*registry.PatientPage, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	page := &registry.PatientPage{Page: 1, PerPage: len(f.patients)}
	for _, p := range f.patients {
		page.Patients = append(page.Patients, p)
	}
	return page, nil
}

func (f *fakeRegistry) GetPatient(_ context.Context, id string) (*registry.RemotePatient, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	p, ok := f.patients[id]
	if !ok {
		return nil, notFound()
	}
	return &p, nil
}

func (f *fakeRegistry) CreatePatient(context.Context, registry.CreatePatientRequest) (*registry.RemotePatient, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return nil, &registry.Error{Category: registry.ErrorRejected, Status: http.StatusUnprocessableEntity, Message: "rejected"}
}

func TestLifecycleAgainstInMemoryStore(t *testing.T) {
	ctx := requestcontext.WithTime(context.Background(), fixedNow)
	reg := &fakeRegistry{patients: map[string]registry.RemotePatient{
		"tp-9": {ID: "tp-9", FirstName: "Grace", LastName: "Hopper", DOB: "1906-12-09", Sex: "female", EthnicBackground: "american"},
	}}
	svc := New(store.NewInMemoryStore(), reg, WithLogger(quietLogger()))

	t.Run("create then get round-trips", func(t *testing.T) {
		res, err := svc.Create(ctx, ada())
		require.NoError(t, err)
		assert.False(t, res.ThirdPartySync)

		got, err := svc.Get(ctx, res.LocalID, models.IDKindAuto)
		require.NoError(t, err)
		assert.Equal(t, res.Patient, *got)
	})

	t.Run("double delete is not found the second time", func(t *testing.T) {
		res, err := svc.Create(ctx, ada())
		require.NoError(t, err)

		_, err = svc.Delete(ctx, res.LocalID)
		require.NoError(t, err)
		_, err = svc.Delete(ctx, res.LocalID)
		assert.Equal(t, http.StatusNotFound, dErrors.HTTPStatus(err))
	})

	t.Run("copy twice is created then rejected", func(t *testing.T) {
		copied, err := svc.Copy(ctx, "tp-9")
		require.NoError(t, err)
		assert.Equal(t, models.ProvenanceBoth, copied.Source)

		_, err = svc.Copy(ctx, "tp-9")
		assert.Equal(t, http.StatusBadRequest, dErrors.HTTPStatus(err))
	})

	t.Run("copied record merges into one both entry", func(t *testing.T) {
		page, err := svc.List(ctx, 1)
		require.NoError(t, err)
		var boths, thirdParty int
		for _, p := range page.Patients {
			switch p.Source {
			case models.ProvenanceBoth:
				boths++
			case models.ProvenanceThirdParty:
				thirdParty++
			}
		}
		assert.Equal(t, 1, boths)
		assert.Zero(t, thirdParty)
	})

	t.Run("registry outage still lists local records", func(t *testing.T) {
		reg.fail = outage()
		defer func() { reg.fail = nil }()

		page, err := svc.List(ctx, 1)
		require.NoError(t, err)
		assert.True(t, page.Sources.ThirdPartyError)
		assert.NotEmpty(t, page.Patients)
	})
}
