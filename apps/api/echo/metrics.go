package echoapi

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trezcool/suriaral/core/access"
)

type metrics struct {
	decisions *prometheus.CounterVec
	logins    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "suriaral",
			Name:      "access_decisions_total",
			Help:      "Permission checks made by the API, by permission and decision.",
		}, []string{"permission", "decision"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "suriaral",
			Name:      "logins_total",
			Help:      "Sign-in attempts, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.decisions, m.logins)
	return m
}

func (m *metrics) observeDecision(perm access.Permission, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.decisions.WithLabelValues(perm.String(), decision).Inc()
}

func (m *metrics) observeLogin(result string) {
	m.logins.WithLabelValues(result).Inc()
}

// registerSessionsGauge exposes the number of live profile subscriptions.
func registerSessionsGauge(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "suriaral",
		Name:      "live_sessions",
		Help:      "Accounts whose profile is currently watched.",
	}, func() float64 { return float64(count()) }))
}
