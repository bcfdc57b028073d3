package authz

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"keyward.org/internal/apperr"
	"keyward.org/internal/credential"
	"keyward.org/internal/ids"
	"keyward.org/internal/obs"
	"keyward.org/internal/permission"
	"keyward.org/internal/principal"
	"keyward.org/internal/store"
)

// SubjectAuthentication tags credentials issued by login.
const SubjectAuthentication = "authentication"

// Response is the envelope every facade operation returns. Status false
// always comes with at least one code in Errors. Details is only set for
// system failures and is opaque to callers.
type Response[T any] struct {
	Status  bool          `json:"status"`
	Data    T             `json:"data,omitempty"`
	Errors  []apperr.Code `json:"errors,omitempty"`
	Details any           `json:"details,omitempty"`
}

// Incident is the diagnostic attached to system failures.
type Incident struct {
	ID    string `json:"incident"`
	Error string `json:"error"`
}

// Facade composes principals, permissions and credentials into units of
// work. It holds no per-call state and is safe for concurrent use.
type Facade struct {
	store       *store.Store
	principals  *principal.Repository
	permissions *permission.Engine
	credentials *credential.Service
	hasher      principal.Hasher
	log         logrus.FieldLogger
	metrics     *obs.Metrics
}

// Option configures Facade.
type Option func(*Facade)

func WithHasher(h principal.Hasher) Option {
	return func(f *Facade) { f.hasher = h }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(f *Facade) { f.log = obs.OrDiscard(l) }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(f *Facade) { f.metrics = m }
}

func New(st *store.Store, principals *principal.Repository, permissions *permission.Engine, credentials *credential.Service, opts ...Option) *Facade {
	f := &Facade{
		store:       st,
		principals:  principals,
		permissions: permissions,
		credentials: credentials,
		hasher:      principal.NewHasher(0, 0),
		log:         obs.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// respond turns a result into an envelope, logging and timing the operation.
func respond[T any](f *Facade, op string, started time.Time, data T, err error) Response[T] {
	f.metrics.ObserveOperation(op, err == nil, started)
	if err == nil {
		f.log.WithField("op", op).Debug("ok")
		return Response[T]{Status: true, Data: data}
	}

	codes := apperr.Codes(err)
	res := Response[T]{Status: false, Errors: codes}
	if apperr.IsSystem(err) {
		incident := Incident{ID: ids.New(), Error: cause(err).Error()}
		res.Details = incident
		f.log.WithFields(logrus.Fields{"op": op, "incident": incident.ID, "codes": codes}).
			WithError(err).Error("operation failed")
		return res
	}
	f.log.WithFields(logrus.Fields{"op": op, "codes": codes}).Warn("operation rejected")
	return res
}

// cause returns the innermost diagnostic error behind a coded error.
func cause(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) && e.Cause != nil {
		return e.Cause
	}
	return err
}

func missing() error { return apperr.New(apperr.MissingArgument) }
