package misp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"misp-controlplane/pkg/config"
	"misp-controlplane/pkg/db/option"
	"misp-controlplane/pkg/db/pagination"
	"misp-controlplane/pkg/errutil"
	"misp-controlplane/pkg/logger"
	"misp-controlplane/pkg/repository"
	"misp-controlplane/pkg/sequence"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const instrumentationName = "misp-controlplane/services/misp"

const maxPageSize = 250

// Clock returns the current time. Injected so expiry can be tested.
type Clock func() time.Time

type Service struct {
	db     *gorm.DB
	misps  repository.Repository[Misp]
	keys   repository.Repository[LicenseKey]
	seq    sequence.Generator
	policy *Policy
	locks  *keyedMutex
	now    Clock

	maxAttempts   int
	caseSensitive bool

	tracer      trace.Tracer
	validations metric.Int64Counter
	rotations   metric.Int64Counter
}

type ServiceParams struct {
	fx.In
	DB             *gorm.DB
	Seq            sequence.Generator
	Config         *config.Config
	Clock          Clock                `optional:"true"`
	TracerProvider trace.TracerProvider `optional:"true"`
	MeterProvider  metric.MeterProvider `optional:"true"`
}

func NewService(p ServiceParams) (*Service, error) {
	clock := p.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	tp := p.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := p.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	meter := mp.Meter(instrumentationName)
	validations, err := meter.Int64Counter("misp.license_key.validations",
		metric.WithDescription("License key validations by outcome"))
	if err != nil {
		return nil, err
	}
	rotations, err := meter.Int64Counter("misp.license_key.rotations",
		metric.WithDescription("License keys issued as replacements"))
	if err != nil {
		return nil, err
	}

	lic := p.Config.License
	maxAttempts := lic.MaxGenerateAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Service{
		db:            p.DB,
		misps:         repository.ProvideStore[Misp](p.DB),
		keys:          repository.ProvideStore[LicenseKey](p.DB),
		seq:           p.Seq,
		policy:        NewPolicy(sequence.FormatFromConfig(p.Config), lic.ValidityPeriod, p.Seq),
		locks:         newKeyedMutex(),
		now:           clock,
		maxAttempts:   maxAttempts,
		caseSensitive: p.Config.Misp.OrgSearchCaseSensitive,
		tracer:        tp.Tracer(instrumentationName),
		validations:   validations,
		rotations:     rotations,
	}, nil
}

func (s *Service) Policy() *Policy {
	return s.policy
}

// Register creates the account and its first active key in one transaction.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Registration, error) {
	ctx, span := s.tracer.Start(ctx, "misp.Register")
	defer span.End()

	zapLog := logger.WithTrace(ctx)

	orgName := strings.TrimSpace(req.OrgName)
	if orgName == "" {
		return nil, errutil.BadRequest("organization name is required", nil,
			errutil.WithDetails(errutil.Detail{Field: "name", Message: "must not be blank"}))
	}

	now := s.now()
	var out Registration
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mispID, err := s.uniqueValue(ctx, sequence.KindMisp, func(ctx context.Context) (string, error) {
			return s.seq.Next(ctx, sequence.KindMisp)
		}, func(v string) (bool, error) {
			return s.misps.WithTrx(tx).Exists(ctx, &Misp{ID: v})
		})
		if err != nil {
			return err
		}

		record := &Misp{
			ID:            mispID,
			OrgName:       orgName,
			OrgNameFolded: foldOrgName(orgName),
			Address:       strings.TrimSpace(req.Address),
			ContactNumber: strings.TrimSpace(req.ContactNumber),
			EmailID:       strings.TrimSpace(req.EmailID),
			Status:        StatusActive,
		}
		if err := s.misps.WithTrx(tx).Create(ctx, record); err != nil {
			return err
		}

		key, err := s.issueKey(ctx, tx, mispID, now)
		if err != nil {
			return err
		}

		out = Registration{Misp: record, LicenseKey: key}
		return nil
	})
	if err != nil {
		err = translateWriteError(err, "misp registration conflicts with an existing record")
		recordError(span, err)
		zapLog.Error("failed to register misp", zap.String("org_name", orgName), zap.Error(err))
		return nil, err
	}

	zapLog.Info("misp registered",
		zap.String("misp_id", out.Misp.ID),
		zap.Time("expires_at", out.LicenseKey.ExpiresAt),
	)
	return &out, nil
}

// Update applies the non-nil fields. License keys are never touched.
func (s *Service) Update(ctx context.Context, mispID string, fields UpdateFields) (*Misp, error) {
	ctx, span := s.tracer.Start(ctx, "misp.Update", trace.WithAttributes(attribute.String("misp_id", mispID)))
	defer span.End()

	updates := map[string]any{}
	if fields.OrgName != nil {
		name := strings.TrimSpace(*fields.OrgName)
		if name == "" {
			return nil, errutil.BadRequest("organization name must not be blank", nil,
				errutil.WithDetails(errutil.Detail{Field: "name", Message: "must not be blank"}))
		}
		updates["org_name"] = name
		updates["org_name_folded"] = foldOrgName(name)
	}
	if fields.Address != nil {
		updates["address"] = strings.TrimSpace(*fields.Address)
	}
	if fields.ContactNumber != nil {
		updates["contact_number"] = strings.TrimSpace(*fields.ContactNumber)
	}
	if fields.EmailID != nil {
		updates["email_id"] = strings.TrimSpace(*fields.EmailID)
	}

	var out *Misp
	err := s.withAccount(ctx, mispID, func(tx *gorm.DB, m *Misp) error {
		if len(updates) == 0 {
			out = m
			return nil
		}
		updates["updated_at"] = s.now()
		if err := s.misps.WithTrx(tx).Update(ctx, mispID, updates); err != nil {
			return err
		}
		var err error
		out, err = s.misps.WithTrx(tx).FindOne(ctx, &Misp{ID: mispID})
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return out, nil
}

// UpdateStatus sets the account status. Setting the current status again is a no-op.
func (s *Service) UpdateStatus(ctx context.Context, mispID string, status Status) (*Misp, error) {
	ctx, span := s.tracer.Start(ctx, "misp.UpdateStatus", trace.WithAttributes(
		attribute.String("misp_id", mispID),
		attribute.String("status", string(status)),
	))
	defer span.End()

	parsed, ok := ParseStatus(string(status))
	if !ok {
		return nil, invalidStatus(status)
	}
	status = parsed

	var out *Misp
	err := s.withAccount(ctx, mispID, func(tx *gorm.DB, m *Misp) error {
		if m.Status == status {
			out = m
			return nil
		}
		if err := s.misps.WithTrx(tx).Update(ctx, mispID, map[string]any{
			"status":     status,
			"updated_at": s.now(),
		}); err != nil {
			return err
		}
		var err error
		out, err = s.misps.WithTrx(tx).FindOne(ctx, &Misp{ID: mispID})
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	logger.WithTrace(ctx).Info("misp status updated", zap.String("misp_id", mispID), zap.String("status", string(out.Status)))
	return out, nil
}

// UpdateKeyStatus transitions the key addressed by licenseKey, which must belong to
// mispID. An empty licenseKey addresses the account's current active key.
// Inactive is terminal, and an expired key cannot be (re)confirmed active.
func (s *Service) UpdateKeyStatus(ctx context.Context, mispID, licenseKey string, status Status) (*LicenseKey, error) {
	ctx, span := s.tracer.Start(ctx, "misp.UpdateKeyStatus", trace.WithAttributes(
		attribute.String("misp_id", mispID),
		attribute.String("status", string(status)),
	))
	defer span.End()

	parsed, ok := ParseStatus(string(status))
	if !ok {
		return nil, invalidStatus(status)
	}
	status = parsed

	var out *LicenseKey
	err := s.withAccount(ctx, mispID, func(tx *gorm.DB, _ *Misp) error {
		keys := s.keys.WithTrx(tx)

		var (
			key *LicenseKey
			err error
		)
		if licenseKey == "" {
			key, err = keys.FindOne(ctx, &LicenseKey{MispID: mispID, Status: StatusActive})
		} else {
			key, err = keys.FindOne(ctx, &LicenseKey{Key: licenseKey, MispID: mispID})
		}
		if err != nil {
			return err
		}
		if key == nil {
			return errutil.NotFound(fmt.Sprintf("license key not found for misp %s", mispID), nil)
		}

		now := s.now()
		switch {
		case status == StatusActive && s.policy.IsExpired(key, now):
			return errutil.InvalidTransition("license key has expired and cannot be activated", nil,
				errutil.WithDetails(errutil.Detail{Field: "status", Message: "expired keys can only be deactivated"}))
		case key.Status == status:
			out = key
			return nil
		case status == StatusActive:
			return errutil.InvalidTransition("an inactive license key cannot be reactivated", nil,
				errutil.WithDetails(errutil.Detail{Field: "status", Message: "rotate the key to issue a new one"}))
		}

		if err := keys.Update(ctx, key.Key, map[string]any{
			"status":     status,
			"updated_at": now,
		}); err != nil {
			return err
		}
		out, err = keys.FindOne(ctx, &LicenseKey{Key: key.Key})
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	logger.WithTrace(ctx).Info("license key status updated", zap.String("misp_id", mispID), zap.String("status", string(out.Status)))
	return out, nil
}

// ValidateKey checks, in order, the key pattern, its association with mispID and
// its status and expiry. Failed checks are reported in the result, not as errors.
func (s *Service) ValidateKey(ctx context.Context, mispID, licenseKey string) (*ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "misp.ValidateKey", trace.WithAttributes(attribute.String("misp_id", mispID)))
	defer span.End()

	result, err := s.validate(ctx, mispID, licenseKey)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	outcome := "valid"
	if !result.Valid {
		outcome = string(result.Reason)
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	s.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))

	return result, nil
}

func (s *Service) validate(ctx context.Context, mispID, licenseKey string) (*ValidationResult, error) {
	if !s.policy.IsPatternValid(licenseKey) {
		return &ValidationResult{Reason: ReasonMalformedKey}, nil
	}

	key, err := s.keys.FindOne(ctx, &LicenseKey{Key: licenseKey})
	if err != nil {
		return nil, err
	}
	if key == nil || key.MispID != mispID {
		return &ValidationResult{Reason: ReasonKeyNotAssociated}, nil
	}

	if key.Status != StatusActive || s.policy.IsExpired(key, s.now()) {
		return &ValidationResult{Reason: ReasonKeyInactiveOrExpired}, nil
	}

	return &ValidationResult{Valid: true}, nil
}

// RotateKey retires the current active key and issues a replacement atomically.
func (s *Service) RotateKey(ctx context.Context, mispID string) (*LicenseKey, error) {
	ctx, span := s.tracer.Start(ctx, "misp.RotateKey", trace.WithAttributes(attribute.String("misp_id", mispID)))
	defer span.End()

	var out *LicenseKey
	err := s.withAccount(ctx, mispID, func(tx *gorm.DB, _ *Misp) error {
		current, err := s.activeKey(ctx, tx, mispID)
		if err != nil {
			return err
		}
		out, err = s.rotate(ctx, tx, current, s.now())
		return err
	})
	if err != nil {
		err = translateWriteError(err, "concurrent license key issuance for misp")
		recordError(span, err)
		return nil, err
	}

	s.rotations.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", "manual")))
	logger.WithTrace(ctx).Info("license key rotated", zap.String("misp_id", mispID), zap.Time("expires_at", out.ExpiresAt))
	return out, nil
}

// RetrieveLicense returns the active key, rotating it first when it has expired.
func (s *Service) RetrieveLicense(ctx context.Context, mispID string) (*LicenseKey, error) {
	ctx, span := s.tracer.Start(ctx, "misp.RetrieveLicense", trace.WithAttributes(attribute.String("misp_id", mispID)))
	defer span.End()

	var (
		out     *LicenseKey
		rotated bool
	)
	err := s.withAccount(ctx, mispID, func(tx *gorm.DB, _ *Misp) error {
		current, err := s.activeKey(ctx, tx, mispID)
		if err != nil {
			return err
		}
		now := s.now()
		if !s.policy.IsExpired(current, now) {
			out = current
			return nil
		}
		out, err = s.rotate(ctx, tx, current, now)
		rotated = err == nil
		return err
	})
	if err != nil {
		err = translateWriteError(err, "concurrent license key issuance for misp")
		recordError(span, err)
		return nil, err
	}

	if rotated {
		s.rotations.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", "expired")))
		logger.WithTrace(ctx).Info("expired license key replaced on retrieval", zap.String("misp_id", mispID))
	}
	return out, nil
}

// ListKeys returns every key issued to mispID, newest first.
func (s *Service) ListKeys(ctx context.Context, mispID string) ([]*LicenseKey, error) {
	ctx, span := s.tracer.Start(ctx, "misp.ListKeys", trace.WithAttributes(attribute.String("misp_id", mispID)))
	defer span.End()

	if _, err := s.Get(ctx, mispID); err != nil {
		return nil, err
	}

	keys, err := s.keys.Find(ctx, &LicenseKey{MispID: mispID},
		option.WithSortBy(option.QuerySortBy{SortBy: "issued_at", OrderBy: "desc", Allow: map[string]bool{"issued_at": true}}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return keys, nil
}

func (s *Service) Get(ctx context.Context, mispID string) (*Misp, error) {
	if strings.TrimSpace(mispID) == "" {
		return nil, mispNotFound(mispID)
	}
	m, err := s.misps.FindOne(ctx, &Misp{ID: mispID})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, mispNotFound(mispID)
	}
	return m, nil
}

type ListRequest struct {
	pagination.Pagination
}

type ListResult struct {
	Misps    []*Misp
	PageInfo *pagination.PageInfo
}

// List returns accounts newest first. A zero limit returns every account.
func (s *Service) List(ctx context.Context, req ListRequest) (*ListResult, error) {
	ctx, span := s.tracer.Start(ctx, "misp.List")
	defer span.End()

	page := req.Pagination.Clamp(maxPageSize)

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithSortBy(option.QuerySortBy{SortBy: "misp_id", OrderBy: "desc", Allow: map[string]bool{"misp_id": true}}),
		option.ApplyPagination(page),
	}

	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.WithCursor(cursor.CreatedAt, cursor.ID, "misp_id"))
	}

	rows, err := s.misps.Find(ctx, nil, opts...)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	misps, pageInfo, err := pagination.Page(rows, page.Limit, func(m *Misp) pagination.Cursor {
		return pagination.Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
	})
	if err != nil {
		return nil, err
	}

	return &ListResult{Misps: misps, PageInfo: pageInfo}, nil
}

// SearchByOrgPrefix matches org_name by prefix. Matching ignores case unless
// MISP.ORG_SEARCH_CASE_SENSITIVE is set; an empty prefix matches everything.
func (s *Service) SearchByOrgPrefix(ctx context.Context, prefix string) ([]*Misp, error) {
	ctx, span := s.tracer.Start(ctx, "misp.SearchByOrgPrefix", trace.WithAttributes(
		attribute.Bool("case_sensitive", s.caseSensitive),
	))
	defer span.End()

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "org_name", OrderBy: "asc", Allow: map[string]bool{"org_name": true}}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}),
	}
	if prefix != "" {
		if s.caseSensitive {
			opts = append(opts, option.WithWhere("SUBSTR(org_name, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix))
		} else {
			folded := foldOrgName(prefix)
			opts = append(opts, option.WithWhere("SUBSTR(org_name_folded, 1, ?) = ?", utf8.RuneCountInString(folded), folded))
		}
	}

	misps, err := s.misps.Find(ctx, nil, opts...)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return misps, nil
}

// FindExpiringKeys returns active keys expiring before now+within that have not
// had an expiry notice yet.
func (s *Service) FindExpiringKeys(ctx context.Context, within time.Duration, limit int) ([]*LicenseKey, error) {
	return s.keys.Find(ctx, &LicenseKey{Status: StatusActive},
		option.ApplyOperator(option.Condition{Field: "expires_at", Operator: option.LTE, Value: s.now().Add(within)}),
		option.WithNull("expiry_notified_at"),
		option.WithSortBy(option.QuerySortBy{SortBy: "expires_at", OrderBy: "asc", Allow: map[string]bool{"expires_at": true}}),
		limitOption(limit),
	)
}

// MarkExpiryNotified stamps the key so the expiry scan skips it.
func (s *Service) MarkExpiryNotified(ctx context.Context, licenseKey string) error {
	now := s.now()
	return s.keys.Update(ctx, licenseKey, map[string]any{
		"expiry_notified_at": now,
		"updated_at":         now,
	})
}

func limitOption(limit int) option.QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	}
}

// withAccount runs fn in a transaction holding both the in-process lock and the
// row lock for mispID.
func (s *Service) withAccount(ctx context.Context, mispID string, fn func(tx *gorm.DB, m *Misp) error) error {
	if strings.TrimSpace(mispID) == "" {
		return mispNotFound(mispID)
	}

	unlock := s.locks.Lock(mispID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.misps.WithTrx(tx).FindOne(ctx, &Misp{ID: mispID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if m == nil {
			return mispNotFound(mispID)
		}
		return fn(tx, m)
	})
}

func (s *Service) activeKey(ctx context.Context, tx *gorm.DB, mispID string) (*LicenseKey, error) {
	key, err := s.keys.WithTrx(tx).FindOne(ctx, &LicenseKey{MispID: mispID, Status: StatusActive})
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errutil.NotFound(fmt.Sprintf("misp %s has no active license key", mispID), nil)
	}
	return key, nil
}

// rotate must run inside withAccount. The old key is retired before the new one
// is inserted so the one-active-key index never sees two rows.
func (s *Service) rotate(ctx context.Context, tx *gorm.DB, current *LicenseKey, now time.Time) (*LicenseKey, error) {
	if err := s.keys.WithTrx(tx).Update(ctx, current.Key, map[string]any{
		"status":     StatusInactive,
		"updated_at": now,
	}); err != nil {
		return nil, err
	}
	return s.issueKey(ctx, tx, current.MispID, now)
}

func (s *Service) issueKey(ctx context.Context, tx *gorm.DB, mispID string, now time.Time) (*LicenseKey, error) {
	keys := s.keys.WithTrx(tx)
	value, err := s.uniqueValue(ctx, sequence.KindLicenseKey, s.policy.GenerateKey, func(v string) (bool, error) {
		return keys.Exists(ctx, &LicenseKey{Key: v})
	})
	if err != nil {
		return nil, err
	}

	key := &LicenseKey{
		Key:       value,
		MispID:    mispID,
		Status:    StatusActive,
		IssuedAt:  now,
		ExpiresAt: s.policy.ComputeExpiry(now),
	}
	if err := keys.Create(ctx, key); err != nil {
		return nil, err
	}
	return key, nil
}

// uniqueValue draws from next until taken reports an unused value, giving up
// after maxAttempts draws.
func (s *Service) uniqueValue(ctx context.Context, kind sequence.Kind, next func(context.Context) (string, error), taken func(string) (bool, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		v, err := next(ctx)
		if err != nil {
			lastErr = err
			zap.L().Warn("identifier generation failed", zap.String("kind", string(kind)), zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		used, err := taken(v)
		if err != nil {
			return "", err
		}
		if !used {
			return v, nil
		}
		lastErr = fmt.Errorf("%s %q already in use", kind, v)
	}
	return "", errutil.GenerationFailed(
		fmt.Sprintf("could not generate a unique %s after %d attempts", kind, s.maxAttempts), lastErr)
}

func translateWriteError(err error, conflictMsg string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errutil.Conflict(conflictMsg, err)
	}
	return err
}

func mispNotFound(mispID string) error {
	return errutil.NotFound(fmt.Sprintf("misp %s not found", mispID), nil)
}

func invalidStatus(status Status) error {
	return errutil.BadRequest(fmt.Sprintf("unknown status %q", status), nil,
		errutil.WithDetails(errutil.Detail{Field: "status", Message: "must be active or inactive"}))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
