package server

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/auth"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/deployment"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/executor"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

const metricsNamespace = "storesetup"

// Metrics collects the server's Prometheus counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	validations  *prometheus.CounterVec
	authAttempts *prometheus.CounterVec
	deployments  *prometheus.CounterVec
	transitions  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "validations_total",
				Help:      "Deployment configuration validations by outcome",
			},
			[]string{"category", "platform", "result"},
		),
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "auth_attempts_total",
				Help:      "Platform authentication attempts by outcome",
			},
			[]string{"platform", "outcome"},
		),
		deployments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "deployments_total",
				Help:      "Deployments executed by outcome",
			},
			[]string{"platform", "outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "step_transitions_total",
				Help:      "Wizard step transitions by target step",
			},
			[]string{"step"},
		),
	}
	m.registry.MustRegister(m.validations, m.authAttempts, m.deployments, m.transitions)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// observeValidation is installed as the deployment store observer.
func (m *Metrics) observeValidation(c platforms.Category, platformID string, res deployment.ValidationResult) {
	if platformID == "" {
		platformID = "none"
	}
	result := "valid"
	if !res.IsValid {
		result = "invalid"
	}
	m.validations.WithLabelValues(string(c), platformID, result).Inc()
}

func (m *Metrics) observeAuth(platformID string, err error) {
	outcome := "success"
	var ae *auth.AuthenticationError
	switch {
	case err == nil:
	case errors.As(err, &ae):
		outcome = ae.Reason.String()
	case auth.IsCancelled(err):
		outcome = auth.ReasonCancelled.String()
	default:
		outcome = "error"
	}
	m.authAttempts.WithLabelValues(platformID, outcome).Inc()
}

// observeDeploy is installed as the dispatcher result hook.
func (m *Metrics) observeDeploy(platformID string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if kind, ok := executor.KindOf(err); ok {
			outcome = kind.String()
		}
	}
	m.deployments.WithLabelValues(platformID, outcome).Inc()
}

func (m *Metrics) observeStep(step string) {
	m.transitions.WithLabelValues(step).Inc()
}
