package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(generationsSubmittedTotal, generationsFinishedTotal, generationsReapedTotal, pollErrorsTotal, providerGateRejectsTotal)
}

var generationsSubmittedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "generations_submitted_total",
		Help: "Total generation admissions, labeled by outcome.",
	},
	[]string{"outcome"}, // 'accepted', 'rejected'
)

var generationsFinishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "generations_finished_total",
		Help: "Total generations reaching a terminal state, labeled by result.",
	},
	[]string{"result"}, // 'completed', 'failed', 'timeout'
)

var generationsReapedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "generations_reaped_total",
		Help: "Total abandoned generations terminated by the reaper.",
	},
)

var pollErrorsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "generation_poll_errors_total",
		Help: "Transient upstream polling errors (never terminal).",
	},
)

var providerGateRejectsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "provider_gate_rejects_total",
		Help: "Admissions rejected because the upstream balance was below threshold.",
	},
)

func IncGenerationSubmitted(outcome string) {
	generationsSubmittedTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncGenerationFinished(result string) {
	generationsFinishedTotal.WithLabelValues(norm(result)).Inc()
}

func AddGenerationsReaped(n int) { generationsReapedTotal.Add(float64(n)) }
func IncPollError()              { pollErrorsTotal.Inc() }
func IncProviderGateReject()     { providerGateRejectsTotal.Inc() }
