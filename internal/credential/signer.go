package credential

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMode selects how credentials are signed. It is resolved once from
// configuration.
type SigningMode int

const (
	Symmetric SigningMode = iota + 1
	Asymmetric
)

func (m SigningMode) String() string {
	switch m {
	case Symmetric:
		return "symmetric"
	case Asymmetric:
		return "asymmetric"
	default:
		return "unknown"
	}
}

func ParseSigningMode(s string) (SigningMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "symmetric", "hs256":
		return Symmetric, nil
	case "asymmetric", "rs256":
		return Asymmetric, nil
	default:
		return 0, fmt.Errorf("credential: unknown signing mode %q", s)
	}
}

// MinSecretLength is the shortest accepted HS256 secret.
const MinSecretLength = 32

// Claims reserved by the service. Caller payload keys with these names are
// overwritten on issue and stripped on decode.
const (
	claimNonce   = "nonce"
	claimSubject = "sub"
	claimIssued  = "iat"
	claimExpires = "exp"
	claimIssuer  = "iss"
)

var reserved = []string{claimNonce, claimSubject, claimIssued, claimExpires, claimIssuer}

var (
	ErrSignature = errors.New("credential: signature verification failed")
)

// Signer signs and verifies credentials with a single algorithm.
type Signer struct {
	mode      SigningMode
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
}

// NewSigner builds a signer. For Symmetric, key is the shared secret; for
// Asymmetric, key is a PEM encoded RSA private key.
func NewSigner(mode SigningMode, key []byte, issuer string) (*Signer, error) {
	s := &Signer{mode: mode, issuer: strings.TrimSpace(issuer)}
	switch mode {
	case Symmetric:
		if len(key) < MinSecretLength {
			return nil, fmt.Errorf("credential: secret must be at least %d bytes", MinSecretLength)
		}
		secret := append([]byte(nil), key...)
		s.method = jwt.SigningMethodHS256
		s.signKey = secret
		s.verifyKey = secret
	case Asymmetric:
		priv, err := jwt.ParseRSAPrivateKeyFromPEM(key)
		if err != nil {
			return nil, fmt.Errorf("credential: parse private key: %w", err)
		}
		s.method = jwt.SigningMethodRS256
		s.signKey = priv
		s.verifyKey = &priv.PublicKey
	default:
		return nil, fmt.Errorf("credential: unsupported signing mode %d", int(mode))
	}
	return s, nil
}

// NewRSASigner builds an asymmetric signer from a parsed key.
func NewRSASigner(priv *rsa.PrivateKey, issuer string) (*Signer, error) {
	if priv == nil {
		return nil, errors.New("credential: private key is required")
	}
	return &Signer{
		mode:      Asymmetric,
		method:    jwt.SigningMethodRS256,
		signKey:   priv,
		verifyKey: &priv.PublicKey,
		issuer:    strings.TrimSpace(issuer),
	}, nil
}

func (s *Signer) Mode() SigningMode { return s.mode }

// Algorithm returns the JWT alg header value this signer produces.
func (s *Signer) Algorithm() string { return s.method.Alg() }

// Sign produces a signed credential for claims.
func (s *Signer) Sign(claims jwt.MapClaims) (string, error) {
	if s.issuer != "" {
		claims[claimIssuer] = s.issuer
	}
	return jwt.NewWithClaims(s.method, claims).SignedString(s.signKey)
}

// Verify checks the signature, algorithm, issuer and expiry of credential
// at time now. A non-empty subject must match the sub claim.
func (s *Signer) Verify(credential, subject string, now time.Time) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if subject != "" {
		opts = append(opts, jwt.WithSubject(subject))
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(credential, claims, func(*jwt.Token) (any, error) {
		return s.verifyKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	return claims, nil
}

// Decode reads claims without verifying them. Use only on credentials this
// signer just produced.
func (s *Signer) Decode(credential string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(credential, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Payload returns claims without the reserved keys.
func Payload(claims jwt.MapClaims) map[string]any {
	out := make(map[string]any, len(claims))
	for k, v := range claims {
		out[k] = v
	}
	for _, k := range reserved {
		delete(out, k)
	}
	return out
}
