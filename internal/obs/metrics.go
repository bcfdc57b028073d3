package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	tokensIssued      *prometheus.CounterVec
	tokenValidations  *prometheus.CounterVec
	tokensRevoked     *prometheus.CounterVec
	accessChecks      *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keyward_tokens_issued_total",
			Help: "Signed credentials issued, by subject.",
		}, []string{"subject"}),
		tokenValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keyward_token_validations_total",
			Help: "Credential validations, by result.",
		}, []string{"result"}),
		tokensRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keyward_tokens_revoked_total",
			Help: "Credentials revoked, by kind (single or principal).",
		}, []string{"kind"}),
		accessChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keyward_access_checks_total",
			Help: "Permission checks, by result.",
		}, []string{"result"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "keyward_operation_duration_seconds",
			Help:    "Facade operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.tokensIssued, m.tokenValidations, m.tokensRevoked, m.accessChecks, m.operationDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) TokenIssued(subject string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(subject).Inc()
}

// TokenValidated records a validation outcome such as "ok", "signature", "revoked" or "expired".
func (m *Metrics) TokenValidated(result string) {
	if m == nil {
		return
	}
	m.tokenValidations.WithLabelValues(result).Inc()
}

func (m *Metrics) TokensRevoked(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.tokensRevoked.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) AccessChecked(granted bool) {
	if m == nil {
		return
	}
	result := "denied"
	if granted {
		result = "granted"
	}
	m.accessChecks.WithLabelValues(result).Inc()
}

// ObserveOperation records how long a facade operation took.
func (m *Metrics) ObserveOperation(operation string, ok bool, started time.Time) {
	if m == nil {
		return
	}
	status := "error"
	if ok {
		status = "ok"
	}
	m.operationDuration.WithLabelValues(operation, status).Observe(time.Since(started).Seconds())
}
