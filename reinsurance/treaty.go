package reinsurance

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/cession-engine/ledger"
)

// =============================================================================
// TREATY REGISTRY
// =============================================================================

var maxShare = decimal.NewFromInt(100)

// CreateTreatyInput is the data needed to register a treaty.
type CreateTreatyInput struct {
	TreatyName      string
	ReinsurerName   string
	SharePercentage decimal.Decimal
	RetentionLimit  decimal.Decimal
	Status          ledger.TreatyStatus // defaults to ACTIVE
}

// Validate checks the input without touching storage.
func (in CreateTreatyInput) Validate() error {
	if strings.TrimSpace(in.TreatyName) == "" {
		return &ledger.ValidationError{Field: "treatyName", Reason: "is required"}
	}
	if strings.TrimSpace(in.ReinsurerName) == "" {
		return &ledger.ValidationError{Field: "reinsurerName", Reason: "is required"}
	}
	if in.SharePercentage.IsNegative() || in.SharePercentage.GreaterThan(maxShare) {
		return &ledger.ValidationError{Field: "sharePercentage", Reason: "must be between 0 and 100"}
	}
	if in.RetentionLimit.IsNegative() {
		return &ledger.ValidationError{Field: "retentionLimit", Reason: "must not be negative"}
	}
	if !ledger.IsWholeCents(in.RetentionLimit) {
		return &ledger.ValidationError{Field: "retentionLimit", Reason: "must not have more than 2 decimal places"}
	}
	if in.Status != "" && !in.Status.Valid() {
		return &ledger.ValidationError{Field: "status", Reason: "must be ACTIVE or EXPIRED"}
	}
	return nil
}

// Treaties registers and removes reinsurance treaties.
type Treaties struct {
	uow      ledger.UnitOfWork
	recorder *ledger.AuditRecorder
	log      *zap.Logger
	now      func() time.Time
}

// NewTreaties creates the registry. A nil logger disables logging.
func NewTreaties(uow ledger.UnitOfWork, recorder *ledger.AuditRecorder, log *zap.Logger) *Treaties {
	if log == nil {
		log = zap.NewNop()
	}
	return &Treaties{uow: uow, recorder: recorder, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Create registers a treaty and records TREATY_CREATED.
func (r *Treaties) Create(ctx context.Context, in CreateTreatyInput, by ledger.Principal) (*ledger.Treaty, error) {
	if err := by.Authorize("create treaty", ledger.RoleReinsuranceManager); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = ledger.TreatyActive
	}

	treaty := ledger.Treaty{
		ID:              ledger.NewTreatyID(),
		TreatyName:      strings.TrimSpace(in.TreatyName),
		ReinsurerName:   strings.TrimSpace(in.ReinsurerName),
		SharePercentage: in.SharePercentage,
		RetentionLimit:  in.RetentionLimit,
		Status:          status,
		CreatedAt:       r.now(),
	}

	err := r.uow.Do(ctx, "create treaty", func(ctx context.Context, s ledger.Store) error {
		if err := s.InsertTreaty(ctx, treaty); err != nil {
			return err
		}
		_, err := r.recorder.In(s).Record(ctx, ledger.AuditTreatyCreated, by, ledger.TreatyRef(treaty.ID),
			"treaty %s with %s: share %s%%, cap %s", treaty.TreatyName, treaty.ReinsurerName,
			treaty.SharePercentage.String(), treaty.RetentionLimit.StringFixed(2))
		return err
	})
	if err != nil {
		r.log.Error("create treaty failed", zap.String("actor", string(by.ID)), zap.Error(err))
		return nil, err
	}

	r.log.Info("treaty created", zap.String("treaty_id", string(treaty.ID)), zap.String("actor", string(by.ID)))
	return &treaty, nil
}

// Delete removes a treaty and every allocation that references it, then
// records TREATY_DELETED. All three effects commit together. It returns
// the number of allocations removed.
//
// Policies whose allocations are removed are not re-allocated; their
// reconciliation reports will show the gap.
func (r *Treaties) Delete(ctx context.Context, id ledger.TreatyID, by ledger.Principal) (int64, error) {
	if err := by.Authorize("delete treaty", ledger.RoleReinsuranceManager); err != nil {
		return 0, err
	}

	var removed int64
	err := r.uow.Do(ctx, "delete treaty", func(ctx context.Context, s ledger.Store) error {
		treaty, err := s.GetTreaty(ctx, id)
		if err != nil {
			return err
		}
		if treaty == nil {
			return &ledger.NotFoundError{Entity: "treaty", ID: string(id)}
		}

		removed, err = s.DeleteAllocationsByTreaty(ctx, id)
		if err != nil {
			return err
		}
		deleted, err := s.DeleteTreaty(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return &ledger.NotFoundError{Entity: "treaty", ID: string(id)}
		}

		_, err = r.recorder.In(s).Record(ctx, ledger.AuditTreatyDeleted, by, ledger.TreatyRef(id),
			"deleted treaty %s (%s) and %d allocation(s)", treaty.TreatyName, treaty.ReinsurerName, removed)
		return err
	})
	if err != nil {
		return 0, err
	}

	r.log.Info("treaty deleted",
		zap.String("treaty_id", string(id)),
		zap.Int64("allocations_removed", removed),
		zap.String("actor", string(by.ID)))
	return removed, nil
}

// Get returns one treaty.
func (r *Treaties) Get(ctx context.Context, id ledger.TreatyID) (*ledger.Treaty, error) {
	var treaty *ledger.Treaty
	err := r.uow.Read(ctx, "get treaty", func(ctx context.Context, s ledger.Store) error {
		var err error
		treaty, err = s.GetTreaty(ctx, id)
		if err != nil {
			return err
		}
		if treaty == nil {
			return &ledger.NotFoundError{Entity: "treaty", ID: string(id)}
		}
		return nil
	})
	return treaty, err
}

// List returns treaties ordered by ID, optionally filtered by status.
func (r *Treaties) List(ctx context.Context, status *ledger.TreatyStatus) ([]ledger.Treaty, error) {
	var out []ledger.Treaty
	err := r.uow.Read(ctx, "list treaties", func(ctx context.Context, s ledger.Store) error {
		var err error
		out, err = s.ListTreaties(ctx, ledger.TreatyFilter{Status: status})
		return err
	})
	return out, err
}
