package authz

import (
	"context"
	"strings"
	"time"

	"keyward.org/internal/apperr"
	"keyward.org/internal/principal"
)

// NewUser is the input of CreateAuthUser. At least one of Password and PIN
// must be supplied.
type NewUser struct {
	ID       int64            `json:"id"`
	Username string           `json:"username"`
	Email    *string          `json:"email,omitempty"`
	Password string           `json:"password,omitempty"`
	PIN      *string          `json:"pin,omitempty"`
	Status   principal.Status `json:"status,omitempty"`
}

// CreateAuthUser validates every field rule, then inserts the principal.
func (f *Facade) CreateAuthUser(ctx context.Context, u NewUser) Response[principal.Public] {
	started := time.Now()
	if u.ID <= 0 {
		return respond(f, "create_user", started, principal.Public{}, missing())
	}
	p := &principal.Principal{
		ID:       u.ID,
		Status:   u.Status,
		Username: u.Username,
		Email:    u.Email,
		PIN:      u.PIN,
	}
	if p.Status == "" {
		p.Status = principal.StatusActive
	}
	if u.Password != "" {
		// Stands in for the hash while field rules run; bcrypt only runs on valid input.
		pending := "pending"
		p.PasswordHash = &pending
	}

	err := f.store.WithTx(ctx, func(ctx context.Context) error {
		if u.Password != "" {
			if codes := f.hasher.Check(u.Password); len(codes) > 0 {
				fields, err := f.principals.Validate(ctx, p)
				if err != nil {
					return err
				}
				return apperr.New(apperr.Merge(fields, codes)...)
			}
			hash, err := f.hasher.Hash(u.Password)
			if err != nil {
				return err
			}
			p.PasswordHash = &hash
		}
		return f.principals.Create(ctx, p)
	})
	if err != nil {
		return respond(f, "create_user", started, principal.Public{}, err)
	}
	return respond(f, "create_user", started, p.Public(), nil)
}

// DeleteAuthUser soft-deletes a principal. Role memberships and tokens are
// left in place.
func (f *Facade) DeleteAuthUser(ctx context.Context, principalID int64) Response[bool] {
	started := time.Now()
	if principalID <= 0 {
		return respond(f, "delete_user", started, false, missing())
	}
	err := f.principals.SoftDelete(ctx, principalID)
	return respond(f, "delete_user", started, err == nil, err)
}

// GetPrincipal loads the public view of a principal.
func (f *Facade) GetPrincipal(ctx context.Context, principalID int64) Response[principal.Public] {
	started := time.Now()
	p, err := f.principals.FindByID(ctx, principalID)
	if err != nil {
		return respond(f, "get_user", started, principal.Public{}, err)
	}
	return respond(f, "get_user", started, p.Public(), nil)
}

// ChangePassword replaces the password hash and revokes every authentication
// credential of the principal in the same transaction. The old password is
// checked unless force is set.
func (f *Facade) ChangePassword(ctx context.Context, principalID int64, oldPassword, newPassword string, force bool) Response[bool] {
	started := time.Now()
	if principalID <= 0 || newPassword == "" || (!force && oldPassword == "") {
		return respond(f, "change_password", started, false, missing())
	}
	err := f.store.WithTx(ctx, func(ctx context.Context) error {
		p, err := f.principals.FindByID(ctx, principalID)
		if err != nil {
			return err
		}
		if !force && !f.hasher.Verify(p.PasswordHash, oldPassword) {
			return apperr.New(apperr.CredentialInvalid)
		}
		hash, err := f.hasher.Hash(newPassword)
		if err != nil {
			return err
		}
		p.PasswordHash = &hash
		if err := f.principals.Update(ctx, p); err != nil {
			return err
		}
		_, err = f.credentials.InvalidateUserTokens(ctx, principalID, SubjectAuthentication)
		return err
	})
	return respond(f, "change_password", started, err == nil, err)
}

// ChangeEmail sets or, with an empty value, clears the email.
func (f *Facade) ChangeEmail(ctx context.Context, principalID int64, email string) Response[principal.Public] {
	return f.updatePrincipal(ctx, "change_email", principalID, func(p *principal.Principal) error {
		e := strings.TrimSpace(email)
		p.Email = &e
		return nil
	})
}

// ChangeUsername renames a principal.
func (f *Facade) ChangeUsername(ctx context.Context, principalID int64, username string) Response[principal.Public] {
	return f.updatePrincipal(ctx, "change_username", principalID, func(p *principal.Principal) error {
		p.Username = username
		return nil
	})
}

// SetPIN sets or, with an empty value, clears the PIN.
func (f *Facade) SetPIN(ctx context.Context, principalID int64, pin string) Response[principal.Public] {
	return f.updatePrincipal(ctx, "set_pin", principalID, func(p *principal.Principal) error {
		v := strings.TrimSpace(pin)
		p.PIN = &v
		return nil
	})
}

// SetStatus moves a principal between ACTIVE and INACTIVE. Deletion goes
// through DeleteAuthUser.
func (f *Facade) SetStatus(ctx context.Context, principalID int64, status principal.Status) Response[principal.Public] {
	return f.updatePrincipal(ctx, "set_status", principalID, func(p *principal.Principal) error {
		if status != principal.StatusActive && status != principal.StatusInactive {
			return apperr.New(apperr.StatusInvalid)
		}
		p.Status = status
		return nil
	})
}

func (f *Facade) updatePrincipal(ctx context.Context, op string, principalID int64, mutate func(*principal.Principal) error) Response[principal.Public] {
	started := time.Now()
	if principalID <= 0 {
		return respond(f, op, started, principal.Public{}, missing())
	}
	var out principal.Public
	err := f.store.WithTx(ctx, func(ctx context.Context) error {
		p, err := f.principals.FindByID(ctx, principalID)
		if err != nil {
			return err
		}
		if err := mutate(p); err != nil {
			return err
		}
		if err := f.principals.Update(ctx, p); err != nil {
			return err
		}
		out = p.Public()
		return nil
	})
	return respond(f, op, started, out, err)
}
