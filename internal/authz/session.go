package authz

import (
	"context"
	"errors"
	"strings"
	"time"

	"keyward.org/internal/apperr"
	"keyward.org/internal/principal"
)

// Session is what a successful login returns.
type Session struct {
	Token     string           `json:"token"`
	Principal principal.Public `json:"principal"`
}

// LoginByEmail authenticates with email and password.
func (f *Facade) LoginByEmail(ctx context.Context, email, password string) Response[Session] {
	started := time.Now()
	if strings.TrimSpace(email) == "" || password == "" {
		return respond(f, "login_email", started, Session{}, missing())
	}
	s, err := f.loginWithPassword(ctx, password, func(ctx context.Context) (*principal.Principal, error) {
		return f.principals.FindByEmail(ctx, email)
	})
	return respond(f, "login_email", started, s, err)
}

// LoginByUsername authenticates with username and password.
func (f *Facade) LoginByUsername(ctx context.Context, username, password string) Response[Session] {
	started := time.Now()
	if strings.TrimSpace(username) == "" || password == "" {
		return respond(f, "login_username", started, Session{}, missing())
	}
	s, err := f.loginWithPassword(ctx, password, func(ctx context.Context) (*principal.Principal, error) {
		return f.principals.FindByUsername(ctx, username)
	})
	return respond(f, "login_username", started, s, err)
}

// LoginByPIN authenticates with a PIN alone. The PIN space is small; callers
// must throttle attempts.
func (f *Facade) LoginByPIN(ctx context.Context, pin string) Response[Session] {
	started := time.Now()
	if strings.TrimSpace(pin) == "" {
		return respond(f, "login_pin", started, Session{}, missing())
	}
	p, err := f.principals.FindByPIN(ctx, pin)
	if err != nil {
		return respond(f, "login_pin", started, Session{}, err)
	}
	s, err := f.issueSession(ctx, p)
	return respond(f, "login_pin", started, s, err)
}

func (f *Facade) loginWithPassword(ctx context.Context, password string, find func(context.Context) (*principal.Principal, error)) (Session, error) {
	p, err := find(ctx)
	if errors.Is(err, apperr.PrincipalNotFound) {
		f.hasher.Burn(password)
		return Session{}, err
	}
	if err != nil {
		return Session{}, err
	}
	if !f.hasher.Verify(p.PasswordHash, password) {
		return Session{}, apperr.New(apperr.CredentialInvalid)
	}
	return f.issueSession(ctx, p)
}

func (f *Facade) issueSession(ctx context.Context, p *principal.Principal) (Session, error) {
	if !p.Active() {
		return Session{}, apperr.New(apperr.PrincipalInactive)
	}
	id := p.ID
	token, err := f.credentials.Generate(ctx, map[string]any{"username": p.Username}, SubjectAuthentication, &id, 0)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, Principal: p.Public()}, nil
}

// Authenticate resolves an authentication credential to its active principal.
func (f *Facade) Authenticate(ctx context.Context, token string) Response[principal.Public] {
	started := time.Now()
	p, err := f.authenticate(ctx, token)
	if err != nil {
		return respond(f, "authenticate", started, principal.Public{}, err)
	}
	return respond(f, "authenticate", started, p.Public(), nil)
}

func (f *Facade) authenticate(ctx context.Context, token string) (*principal.Principal, error) {
	claims, err := f.credentials.Validate(ctx, token, SubjectAuthentication, nil)
	if err != nil {
		return nil, err
	}
	if claims.PrincipalID == nil {
		return nil, apperr.New(apperr.NotAuthenticated)
	}
	p, err := f.principals.FindByID(ctx, *claims.PrincipalID)
	if errors.Is(err, apperr.PrincipalNotFound) {
		return nil, apperr.New(apperr.NotAuthenticated)
	}
	if err != nil {
		return nil, err
	}
	if !p.Active() {
		return nil, apperr.New(apperr.PrincipalInactive)
	}
	return p, nil
}

// Logout revokes a credential. Data reports whether an active credential
// was revoked; repeating the call is harmless.
func (f *Facade) Logout(ctx context.Context, token string) Response[bool] {
	started := time.Now()
	ok, err := f.credentials.Invalidate(ctx, token)
	return respond(f, "logout", started, ok, err)
}

// LogoutEverywhere revokes every authentication credential of a principal.
func (f *Facade) LogoutEverywhere(ctx context.Context, principalID int64) Response[bool] {
	started := time.Now()
	ok, err := f.credentials.InvalidateUserTokens(ctx, principalID, SubjectAuthentication)
	return respond(f, "logout_everywhere", started, ok, err)
}

// RefreshSession issues a new authentication credential from a valid one.
// The old credential is not revoked.
func (f *Facade) RefreshSession(ctx context.Context, token string) Response[string] {
	started := time.Now()
	fresh, err := f.credentials.Refresh(ctx, token)
	return respond(f, "refresh_session", started, fresh, err)
}

// ValidateToken checks a credential for any subject and returns its payload.
func (f *Facade) ValidateToken(ctx context.Context, token, subject string, principalID *int64) Response[map[string]any] {
	started := time.Now()
	if strings.TrimSpace(subject) == "" {
		return respond[map[string]any](f, "validate_token", started, nil, apperr.New(apperr.SubjectRequired))
	}
	claims, err := f.credentials.Validate(ctx, token, subject, principalID)
	return respond(f, "validate_token", started, claims.Payload, err)
}

// IssueToken signs a credential for an arbitrary subject, such as a signup
// or email confirmation link. A zero ttl uses the default lifetime.
func (f *Facade) IssueToken(ctx context.Context, payload map[string]any, subject string, principalID *int64, ttl time.Duration) Response[string] {
	started := time.Now()
	token, err := f.credentials.Generate(ctx, payload, subject, principalID, ttl)
	return respond(f, "issue_token", started, token, err)
}
