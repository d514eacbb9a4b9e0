// Package metrics exposes Prometheus counters for the session, token and
// licensing services. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "licensehub"

type Metrics struct {
	reg *prometheus.Registry

	logins              *prometheus.CounterVec
	tokensIssued        prometheus.Counter
	refreshes           *prometheus.CounterVec
	revocations         prometheus.Counter
	deviceRegistrations *prometheus.CounterVec
	activations         prometheus.Counter
	licensesIssued      *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		tokensIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "token_pairs_issued_total",
			Help: "Access/refresh token pairs issued.",
		}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "token_refreshes_total",
			Help: "Refresh token rotations by result.",
		}, []string{"result"}),
		revocations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "token_revocations_total",
			Help: "Refresh tokens revoked by logout.",
		}),
		deviceRegistrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "device_registrations_total",
			Help: "Device registration attempts by result.",
		}, []string{"result"}),
		activations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "license_activations_total",
			Help: "Licenses moved from inactive to active.",
		}),
		licensesIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "licenses_issued_total",
			Help: "Licenses created by type.",
		}, []string{"type"}),
	}
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) TokenPairIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) Revocation() {
	if m == nil {
		return
	}
	m.revocations.Inc()
}

func (m *Metrics) DeviceRegistration(result string) {
	if m == nil {
		return
	}
	m.deviceRegistrations.WithLabelValues(result).Inc()
}

func (m *Metrics) Activation() {
	if m == nil {
		return
	}
	m.activations.Inc()
}

func (m *Metrics) LicenseIssued(licenseType string) {
	if m == nil {
		return
	}
	m.licensesIssued.WithLabelValues(licenseType).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
