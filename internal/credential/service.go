package credential

import (
	"context"
	"database/sql"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"keyward.org/internal/apperr"
	"keyward.org/internal/obs"
	"keyward.org/internal/store"
)

const tokenColumns = `id, status, token_hash, principal_id, subject, expires_at, created_at, updated_at, created_by, updated_by`

const (
	minJitter = 10 * time.Millisecond
	maxJitter = 250 * time.Millisecond
)

// Service issues, validates, refreshes and revokes credentials. A credential
// is valid only while both its signature and its stored row agree.
type Service struct {
	store   *store.Store
	signer  *Signer
	now     func() time.Time
	ttl     time.Duration
	jitter  func() time.Duration
	log     logrus.FieldLogger
	metrics *obs.Metrics
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithDefaultTTL sets the lifetime used when Generate receives no ttl.
func WithDefaultTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl < 0 {
			return errors.New("credential: ttl must be positive")
		}
		if ttl > 0 {
			s.ttl = ttl
		}
		return nil
	}
}

// WithJitter overrides the expiry jitter source.
func WithJitter(fn func() time.Duration) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.jitter = fn
		}
		return nil
	}
}

func WithLogger(l logrus.FieldLogger) ServiceOption {
	return func(s *Service) error {
		s.log = obs.OrDiscard(l)
		return nil
	}
}

func WithMetrics(m *obs.Metrics) ServiceOption {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

func NewService(st *store.Store, signer *Signer, opts ...ServiceOption) (*Service, error) {
	if signer == nil {
		return nil, errors.New("credential: signer is required")
	}
	svc := &Service{
		store:  st,
		signer: signer,
		now:    time.Now,
		ttl:    DefaultTTL,
		jitter: defaultJitter,
		log:    obs.Discard(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func defaultJitter() time.Duration {
	return minJitter + rand.N(maxJitter-minJitter)
}

// Claims is the result of a successful validation.
type Claims struct {
	Payload     map[string]any
	Subject     string
	PrincipalID *int64
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Generate signs payload for subject and records the credential's hash. A
// zero ttl uses the service default. No credential is returned unless the
// row was stored.
func (s *Service) Generate(ctx context.Context, payload map[string]any, subject string, principalID *int64, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", apperr.New(apperr.SubjectRequired)
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()

	claims := jwt.MapClaims{}
	for k, v := range payload {
		claims[k] = v
	}
	claims[claimNonce] = uuid.NewString()
	claims[claimSubject] = subject
	claims[claimIssued] = jwt.NewNumericDate(now)
	claims[claimExpires] = jwt.NewNumericDate(now.Add(ttl))

	signed, err := s.signer.Sign(claims)
	if err != nil {
		return "", apperr.Wrap(apperr.SigningFailure, err)
	}
	decoded, err := s.signer.Decode(signed)
	if err != nil {
		return "", apperr.Wrap(apperr.SigningFailure, err)
	}
	exp, err := decoded.GetExpirationTime()
	if err != nil || exp == nil {
		return "", apperr.Wrap(apperr.SigningFailure, errors.New("credential: issued token has no expiry"))
	}
	expiresAt := exp.Time.Add(s.jitter())

	actor := store.Actor(ctx)
	_, err = s.store.Q(ctx).ExecContext(ctx, `
		insert into tokens(status, token_hash, principal_id, subject, expires_at, created_by, updated_by)
		values('ACTIVE', $1, $2, $3, $4, $5, $5)`,
		Hash(signed), principalID, subject, expiresAt.UTC(), actor)
	if store.IsForeignKeyViolation(err) {
		return "", apperr.New(apperr.PrincipalNotFound)
	}
	if err != nil {
		return "", apperr.System(err)
	}
	s.metrics.TokenIssued(subject)
	s.log.WithFields(logrus.Fields{"subject": subject, "principal_id": principalID}).Debug("credential issued")
	return signed, nil
}

// Validate checks the signature and subject, then the stored row: it must be
// ACTIVE, unexpired and, when principalID is given, owned by that principal.
func (s *Service) Validate(ctx context.Context, credential, subject string, principalID *int64) (Claims, error) {
	if strings.TrimSpace(credential) == "" {
		return Claims{}, apperr.New(apperr.CredentialMissing)
	}
	now := s.now()
	claims, err := s.signer.Verify(credential, subject, now)
	if err != nil {
		s.metrics.TokenValidated("signature")
		return Claims{}, apperr.Wrap(apperr.CredentialInvalid, err)
	}

	tok, err := s.lookup(ctx, Hash(credential))
	if errors.Is(err, apperr.TokenNotFound) {
		s.metrics.TokenValidated("unknown")
		return Claims{}, apperr.New(apperr.CredentialInvalid)
	}
	if err != nil {
		return Claims{}, err
	}
	switch {
	case tok.Status != StatusActive:
		s.metrics.TokenValidated("revoked")
		return Claims{}, apperr.New(apperr.CredentialInvalid)
	case !now.Before(tok.ExpiresAt):
		s.metrics.TokenValidated("expired")
		return Claims{}, apperr.New(apperr.CredentialInvalid)
	case principalID != nil && (tok.PrincipalID == nil || *tok.PrincipalID != *principalID):
		s.metrics.TokenValidated("principal")
		return Claims{}, apperr.New(apperr.CredentialInvalid)
	}

	s.metrics.TokenValidated("ok")
	out := Claims{
		Payload:     Payload(claims),
		Subject:     tok.Subject,
		PrincipalID: tok.PrincipalID,
		ExpiresAt:   tok.ExpiresAt,
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	return out, nil
}

// Invalidate revokes a credential. It reports whether an active row was
// revoked; unknown or already revoked credentials are a no-op.
func (s *Service) Invalidate(ctx context.Context, credential string) (bool, error) {
	if strings.TrimSpace(credential) == "" {
		return false, apperr.New(apperr.CredentialMissing)
	}
	res, err := s.store.Q(ctx).ExecContext(ctx,
		`update tokens set status = 'DELETED', updated_at = now(), updated_by = $2 where token_hash = $1 and status = 'ACTIVE'`,
		Hash(credential), store.Actor(ctx))
	if err != nil {
		return false, apperr.System(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.System(err)
	}
	s.metrics.TokensRevoked("single", n)
	return n > 0, nil
}

// InvalidateUserTokens revokes every active credential a principal holds for
// subject. It reports whether any row changed.
func (s *Service) InvalidateUserTokens(ctx context.Context, principalID int64, subject string) (bool, error) {
	if principalID <= 0 || strings.TrimSpace(subject) == "" {
		return false, apperr.New(apperr.MissingArgument)
	}
	res, err := s.store.Q(ctx).ExecContext(ctx,
		`update tokens set status = 'DELETED', updated_at = now(), updated_by = $3
		 where principal_id = $1 and subject = $2 and status = 'ACTIVE'`,
		principalID, subject, store.Actor(ctx))
	if err != nil {
		return false, apperr.System(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.System(err)
	}
	s.metrics.TokensRevoked("principal", n)
	if n > 0 {
		s.log.WithFields(logrus.Fields{"principal_id": principalID, "subject": subject, "count": n}).Info("credentials revoked")
	}
	return n > 0, nil
}

// Refresh issues a new credential with the payload, subject and lifetime of
// an existing one. The existing credential must still be active and
// unexpired; it stays valid after the refresh.
func (s *Service) Refresh(ctx context.Context, credential string) (string, error) {
	if strings.TrimSpace(credential) == "" {
		return "", apperr.New(apperr.CredentialMissing)
	}
	now := s.now()
	claims, err := s.signer.Verify(credential, "", now)
	if err != nil {
		return "", apperr.Wrap(apperr.CredentialInvalid, err)
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", apperr.New(apperr.CredentialInvalid)
	}
	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return "", apperr.New(apperr.CredentialInvalid)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return "", apperr.New(apperr.CredentialInvalid)
	}
	ttl := exp.Sub(iat.Time)
	if ttl <= 0 {
		return "", apperr.New(apperr.CredentialInvalid)
	}

	tok, err := s.lookup(ctx, Hash(credential))
	if errors.Is(err, apperr.TokenNotFound) {
		return "", apperr.New(apperr.CredentialInvalid)
	}
	if err != nil {
		return "", err
	}
	if !tok.Usable(now) {
		return "", apperr.New(apperr.CredentialInvalid)
	}
	return s.Generate(ctx, Payload(claims), subject, tok.PrincipalID, ttl)
}

// Lookup returns the stored row for a credential.
func (s *Service) Lookup(ctx context.Context, credential string) (Token, error) {
	if strings.TrimSpace(credential) == "" {
		return Token{}, apperr.New(apperr.CredentialMissing)
	}
	return s.lookup(ctx, Hash(credential))
}

func (s *Service) lookup(ctx context.Context, hash string) (Token, error) {
	var (
		t                    Token
		status               string
		principalID          sql.NullInt64
		createdBy, updatedBy sql.NullInt64
	)
	err := s.store.Q(ctx).QueryRowContext(ctx,
		`select `+tokenColumns+` from tokens where token_hash = $1`, hash,
	).Scan(&t.ID, &status, &t.Hash, &principalID, &t.Subject, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt, &createdBy, &updatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, apperr.New(apperr.TokenNotFound)
	}
	if err != nil {
		return Token{}, apperr.System(err)
	}
	t.Status = Status(status)
	if principalID.Valid {
		t.PrincipalID = &principalID.Int64
	}
	if createdBy.Valid {
		t.CreatedBy = &createdBy.Int64
	}
	if updatedBy.Valid {
		t.UpdatedBy = &updatedBy.Int64
	}
	return t, nil
}
