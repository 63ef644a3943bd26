// Package directory manages the users that act on the ledger.
//
// Only ADMIN principals may change the directory. An admin cannot demote
// or delete themself, so the directory always keeps the admin that is
// making changes.
package directory

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warp/cession-engine/ledger"
)

// CreateUserInput is the data needed to add a user.
type CreateUserInput struct {
	Name  string
	Email string
	Role  ledger.Role
}

func (in CreateUserInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ledger.ValidationError{Field: "name", Reason: "is required"}
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return &ledger.ValidationError{Field: "email", Reason: "is not a valid address"}
	}
	if !in.Role.Valid() {
		return &ledger.ValidationError{Field: "role", Reason: "unknown role " + string(in.Role)}
	}
	return nil
}

// Users is the user directory service.
type Users struct {
	uow      ledger.UnitOfWork
	recorder *ledger.AuditRecorder
	log      *zap.Logger
	now      func() time.Time
}

// NewUsers creates the directory. A nil logger disables logging.
func NewUsers(uow ledger.UnitOfWork, recorder *ledger.AuditRecorder, log *zap.Logger) *Users {
	if log == nil {
		log = zap.NewNop()
	}
	return &Users{uow: uow, recorder: recorder, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Create adds a user and records USER_CREATED.
func (d *Users) Create(ctx context.Context, in CreateUserInput, by ledger.Principal) (*ledger.User, error) {
	if err := by.Authorize("create user", ledger.RoleAdmin); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := d.now()
	user := ledger.User{
		ID:        ledger.NewUserID(),
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Role:      in.Role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := d.uow.Do(ctx, "create user", func(ctx context.Context, s ledger.Store) error {
		if err := s.InsertUser(ctx, user); err != nil {
			if errors.Is(err, ledger.ErrDuplicate) {
				return &ledger.ValidationError{Field: "email", Reason: "already registered: " + user.Email}
			}
			return err
		}
		_, err := d.recorder.In(s).Record(ctx, ledger.AuditUserCreated, by, ledger.UserRef(user.ID),
			"user %s created with role %s", user.Email, user.Role)
		return err
	})
	if err != nil {
		return nil, err
	}

	d.log.Info("user created", zap.String("user_id", string(user.ID)), zap.String("role", string(user.Role)))
	return &user, nil
}

// UpdateRole changes a user's role and records ROLE_UPDATED.
func (d *Users) UpdateRole(ctx context.Context, id ledger.UserID, role ledger.Role, by ledger.Principal) (*ledger.User, error) {
	if err := by.Authorize("update role", ledger.RoleAdmin); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, &ledger.ValidationError{Field: "role", Reason: "unknown role " + string(role)}
	}

	var user ledger.User
	err := d.uow.Do(ctx, "update role", func(ctx context.Context, s ledger.Store) error {
		u, err := s.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if u == nil {
			return &ledger.NotFoundError{Entity: "user", ID: string(id)}
		}
		if u.ID == by.ID && u.Role == ledger.RoleAdmin && role != ledger.RoleAdmin {
			return &ledger.InvalidStateError{
				Entity:    "user",
				ID:        string(id),
				Operation: "demote own",
				Expected:  []string{"another admin"},
				Actual:    "self",
			}
		}

		now := d.now()
		if _, err := s.UpdateUserRole(ctx, id, role, now); err != nil {
			return err
		}
		old := u.Role
		u.Role = role
		u.UpdatedAt = now
		user = *u

		_, err = d.recorder.In(s).Record(ctx, ledger.AuditRoleUpdated, by, ledger.UserRef(id),
			"role %s -> %s for %s", old, role, u.Email)
		return err
	})
	if err != nil {
		return nil, err
	}

	d.log.Info("role updated", zap.String("user_id", string(id)), zap.String("role", string(role)), zap.String("actor", string(by.ID)))
	return &user, nil
}

// Delete removes a user and records USER_DELETED. Records the user created
// keep referring to the removed ID.
func (d *Users) Delete(ctx context.Context, id ledger.UserID, by ledger.Principal) error {
	if err := by.Authorize("delete user", ledger.RoleAdmin); err != nil {
		return err
	}
	if id == by.ID {
		return &ledger.InvalidStateError{
			Entity:    "user",
			ID:        string(id),
			Operation: "delete own",
			Expected:  []string{"another user"},
			Actual:    "self",
		}
	}

	err := d.uow.Do(ctx, "delete user", func(ctx context.Context, s ledger.Store) error {
		u, err := s.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if u == nil {
			return &ledger.NotFoundError{Entity: "user", ID: string(id)}
		}
		if _, err := s.DeleteUser(ctx, id); err != nil {
			return err
		}
		_, err = d.recorder.In(s).Record(ctx, ledger.AuditUserDeleted, by, ledger.UserRef(id),
			"user %s (%s) deleted", u.Email, u.Role)
		return err
	})
	if err != nil {
		return err
	}

	d.log.Info("user deleted", zap.String("user_id", string(id)), zap.String("actor", string(by.ID)))
	return nil
}

// Get returns one user.
func (d *Users) Get(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	var user *ledger.User
	err := d.uow.Read(ctx, "get user", func(ctx context.Context, s ledger.Store) error {
		var err error
		user, err = s.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if user == nil {
			return &ledger.NotFoundError{Entity: "user", ID: string(id)}
		}
		return nil
	})
	return user, err
}

// GetByEmail returns the user registered under email.
func (d *Users) GetByEmail(ctx context.Context, email string) (*ledger.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var user *ledger.User
	err := d.uow.Read(ctx, "get user by email", func(ctx context.Context, s ledger.Store) error {
		var err error
		user, err = s.GetUserByEmail(ctx, email)
		if err != nil {
			return err
		}
		if user == nil {
			return &ledger.NotFoundError{Entity: "user", ID: email}
		}
		return nil
	})
	return user, err
}

// List returns all users in creation order.
func (d *Users) List(ctx context.Context) ([]ledger.User, error) {
	var out []ledger.User
	err := d.uow.Read(ctx, "list users", func(ctx context.Context, s ledger.Store) error {
		var err error
		out, err = s.ListUsers(ctx)
		return err
	})
	return out, err
}

// EnsureBootstrapAdmin creates an ADMIN user when the directory is empty.
// It returns the existing or created admin, or nil when other users exist.
func (d *Users) EnsureBootstrapAdmin(ctx context.Context, name, email string) (*ledger.User, error) {
	users, err := d.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	if len(users) > 0 {
		return nil, nil
	}
	return d.Create(ctx, CreateUserInput{Name: name, Email: email, Role: ledger.RoleAdmin}, ledger.SystemPrincipal)
}
