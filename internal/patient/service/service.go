package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"patientsync/internal/audit"
	"patientsync/internal/patient/metrics"
	"patientsync/internal/patient/models"
	"patientsync/internal/patient/reconcile"
	"patientsync/internal/registry"
	dErrors "patientsync/pkg/domain-errors"
	"patientsync/pkg/platform/sentinel"
	"patientsync/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, p *models.LocalPatient) (*models.LocalPatient, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.LocalPatient, error)
	FindByThirdPartyID(ctx context.Context, thirdPartyID string) (*models.LocalPatient, error)
	SetThirdPartyID(ctx context.Context, id uuid.UUID, thirdPartyID string) (*models.LocalPatient, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*models.LocalPatient, error)
}

type Registry interface {
	ListPatients(ctx context.Context, page int) (*registry.PatientPage, error)
	GetPatient(ctx context.Context, id string) (*registry.RemotePatient, error)
	CreatePatient(ctx context.Context, req registry.CreatePatientRequest) (*registry.RemotePatient, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

const (
	msgNotFound       = "patient not found"
	msgNotFoundLocal  = "patient not found in local database"
	msgFetchExternal  = "failed to fetch external patient data"
	msgAlreadyCopied  = "this external patient already exists in local database"
	msgDeleted        = "Patient deleted successfully"
	msgLocalCreate    = "failed to create patient locally"
	msgInvalidPage    = "page must be a positive integer"
	msgInvalidDOBCopy = "invalid date format in external patient data"
	msgInvalidCopy    = "invalid patient data in external record"
)

// Service reconciles the local store with the registry for every patient
// operation. Merged reads degrade to local-only when the registry fails;
// single-source operations propagate their source's failure.
type Service struct {
	store          Store
	registry       Registry
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(store Store, reg Registry, opts ...Option) *Service {
	s := &Service{store: store, registry: reg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List merges every local record with one registry page. The two sources are
// read concurrently; a registry failure degrades the page instead of failing.
func (s *Service) List(ctx context.Context, page int) (*models.UnifiedPage, error) {
	if page < 1 {
		return nil, dErrors.New(dErrors.CodeValidation, msgInvalidPage)
	}

	var (
		local     []*models.LocalPatient
		remote    *registry.PatientPage
		remoteErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		local, err = s.store.List(gctx)
		return err
	})
	g.Go(func() error {
		remote, remoteErr = s.registry.ListPatients(gctx, page)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list local patients")
	}

	if remoteErr != nil {
		s.logger.WarnContext(ctx, "registry listing failed, serving local records only",
			"page", page,
			"category", registry.GetCategory(remoteErr),
			"error", remoteErr,
			"request_id", requestcontext.RequestID(ctx),
		)
		if s.metrics != nil {
			s.metrics.IncrementDegraded()
		}
	}

	merged := reconcile.MergePage(local, remote, remoteErr, page)
	s.observeMerge(merged)
	return merged, nil
}

// Stats counts provenance tags over the merged listing of one page.
func (s *Service) Stats(ctx context.Context, page int) (*models.Stats, error) {
	merged, err := s.List(ctx, page)
	if err != nil {
		return nil, err
	}
	stats := reconcile.Summarize(merged)
	return &stats, nil
}

// Get resolves id according to kind. See models.IDKind for the lookup order.
func (s *Service) Get(ctx context.Context, id string, kind models.IDKind) (*models.Patient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "patient id is required")
	}

	switch kind {
	case models.IDKindLocal:
		localID, err := uuid.Parse(id)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeNotFound, msgNotFoundLocal)
		}
		p, err := s.findLocal(ctx, localID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, dErrors.New(dErrors.CodeNotFound, msgNotFoundLocal)
		}
		out := p.Canonical()
		return &out, nil

	case models.IDKindAuto, "":
		if localID, err := uuid.Parse(id); err == nil {
			p, err := s.findLocal(ctx, localID)
			if err != nil {
				return nil, err
			}
			if p != nil {
				out := p.Canonical()
				return &out, nil
			}
		}
		return s.getByThirdPartyID(ctx, id)

	case models.IDKindThirdParty:
		return s.getByThirdPartyID(ctx, id)
	}
	return nil, dErrors.New(dErrors.CodeValidation, "unknown id kind")
}

func (s *Service) getByThirdPartyID(ctx context.Context, id string) (*models.Patient, error) {
	p, err := s.store.FindByThirdPartyID(ctx, id)
	switch {
	case err == nil:
		out := p.Canonical()
		return &out, nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load patient")
	}

	rp, err := s.registry.GetPatient(ctx, id)
	if err != nil {
		if registry.GetCategory(err) == registry.ErrorNotFound {
			return nil, registry.ToDomainError(err, msgNotFound)
		}
		return nil, registry.ToDomainError(err, "")
	}
	if rp.ID == "" {
		rp.ID = id
	}
	out := reconcile.FromRemote(*rp)
	return &out, nil
}

// findLocal returns nil, nil when no record has the primary key.
func (s *Service) findLocal(ctx context.Context, id uuid.UUID) (*models.LocalPatient, error) {
	p, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load patient")
	}
	return p, nil
}

// Create persists the patient locally, then forwards it to the registry. A
// registry failure is reported in the result rather than as an error: the
// local record stays and no rollback is attempted.
func (s *Service) Create(ctx context.Context, req models.CreatePatientRequest) (*models.CreateResult, error) {
	req.Normalize()
	dob, err := req.Validate(requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	local, err := s.store.Create(ctx, &models.LocalPatient{
		FirstName:        req.FirstName,
		LastName:         req.LastName,
		DOB:              dob,
		Sex:              models.Sex(req.Sex),
		EthnicBackground: req.EthnicBackground,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, msgLocalCreate)
	}
	if s.metrics != nil {
		s.metrics.IncrementCreated()
	}

	remote, err := s.registry.CreatePatient(ctx, registry.CreatePatientRequest{
		FirstName:        local.FirstName,
		LastName:         local.LastName,
		DOB:              local.DOB,
		Sex:              string(local.Sex),
		EthnicBackground: local.EthnicBackground,
	})
	if err == nil {
		linked, linkErr := s.store.SetThirdPartyID(ctx, local.ID, remote.ID)
		if linkErr == nil {
			s.logAudit(ctx, audit.ActionPatientCreated, linked.ID.String(), linked.ThirdPartyID, "")
			return &models.CreateResult{
				Patient:        linked.Canonical(),
				LocalID:        linked.ID.String(),
				ThirdPartySync: true,
			}, nil
		}
		err = linkErr
	}

	reason := syncFailureReason(err)
	s.logger.WarnContext(ctx, "registry create failed, patient kept locally",
		"patient_id", local.ID,
		"category", registry.GetCategory(err),
		"error", err,
	)
	s.logAudit(ctx, audit.ActionPatientCreated, local.ID.String(), "", "")
	s.logAudit(ctx, audit.ActionPatientSyncFailed, local.ID.String(), "", reason)
	if s.metrics != nil {
		s.metrics.IncrementSyncFailure()
	}
	return &models.CreateResult{
		Patient:         local.Canonical(),
		LocalID:         local.ID.String(),
		ThirdPartySync:  false,
		ThirdPartyError: reason,
	}, nil
}

// syncFailureReason is the third_party_error text for a failed forward.
func syncFailureReason(err error) string {
	if registry.GetCategory(err) != "" {
		return dErrors.MessageOf(registry.ToDomainError(err, ""))
	}
	return "failed to link registry record"
}

// Delete removes a local record by primary key. The registry is never
// touched, so registry-only ids are always not found.
func (s *Service) Delete(ctx context.Context, id string) (*models.DeleteResult, error) {
	localID, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, dErrors.New(dErrors.CodeNotFound, msgNotFoundLocal)
	}
	if err := s.store.Delete(ctx, localID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, msgNotFoundLocal)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete patient")
	}
	s.logAudit(ctx, audit.ActionPatientDeleted, localID.String(), "", "")
	if s.metrics != nil {
		s.metrics.IncrementDeleted()
	}
	return &models.DeleteResult{Success: true, Message: msgDeleted}, nil
}

// Copy creates a local record linked to registry patient thirdPartyID. The
// registry is read first; a record already linked to the id is rejected, and
// the store's unique constraint settles concurrent copies.
func (s *Service) Copy(ctx context.Context, thirdPartyID string) (*models.Patient, error) {
	thirdPartyID = strings.TrimSpace(thirdPartyID)
	if thirdPartyID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "patient id is required")
	}

	rp, err := s.registry.GetPatient(ctx, thirdPartyID)
	if err != nil {
		s.logger.WarnContext(ctx, "registry fetch for copy failed",
			"third_party_id", thirdPartyID,
			"category", registry.GetCategory(err),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, msgFetchExternal)
	}

	if _, err := s.store.FindByThirdPartyID(ctx, thirdPartyID); err == nil {
		return nil, dErrors.New(dErrors.CodeConflict, msgAlreadyCopied)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check for existing copy")
	}

	dob, err := models.ParseDOB(rp.DOB)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, msgInvalidDOBCopy)
	}

	record := models.CreatePatientRequest{
		FirstName:        rp.FirstName,
		LastName:         rp.LastName,
		Sex:              rp.Sex,
		EthnicBackground: rp.EthnicBackground,
	}
	record.Normalize()
	if err := validateCopy(record); err != nil {
		s.logger.WarnContext(ctx, "registry record failed validation",
			"third_party_id", thirdPartyID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, msgInvalidCopy+": "+dErrors.MessageOf(err))
	}

	created, err := s.store.Create(ctx, &models.LocalPatient{
		ThirdPartyID:     thirdPartyID,
		FirstName:        record.FirstName,
		LastName:         record.LastName,
		DOB:              dob,
		Sex:              models.Sex(record.Sex),
		EthnicBackground: record.EthnicBackground,
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.New(dErrors.CodeConflict, msgAlreadyCopied)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create local copy")
	}

	s.logAudit(ctx, audit.ActionPatientCopied, created.ID.String(), thirdPartyID, "")
	if s.metrics != nil {
		s.metrics.IncrementCopied()
	}
	out := created.Canonical()
	return &out, nil
}

// validateCopy applies the create rules, minus the date, to a registry record.
func validateCopy(r models.CreatePatientRequest) error {
	if err := models.ValidateName("first name", r.FirstName); err != nil {
		return err
	}
	if err := models.ValidateName("last name", r.LastName); err != nil {
		return err
	}
	return models.ValidateProfile(r.Sex, r.EthnicBackground)
}

func (s *Service) observeMerge(page *models.UnifiedPage) {
	if s.metrics == nil {
		return
	}
	counts := map[models.Provenance]int{}
	for _, p := range page.Patients {
		counts[p.Source]++
	}
	for source, n := range counts {
		s.metrics.ObserveMerged(string(source), n)
	}
}

func (s *Service) logAudit(ctx context.Context, action audit.Action, patientID, thirdPartyID, reason string) {
	args := []any{
		"event", string(action),
		"log_type", "audit",
		"patient_id", patientID,
	}
	if thirdPartyID != "" {
		args = append(args, "third_party_id", thirdPartyID)
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	s.logger.InfoContext(ctx, string(action), args...)

	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:       action,
		PatientID:    patientID,
		ThirdPartyID: thirdPartyID,
		Reason:       reason,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "action", action, "error", err)
	}
}
