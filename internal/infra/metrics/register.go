package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// register adds collectors to the default registry, tolerating duplicate
// registration across tests.
func register(cs ...prometheus.Collector) {
	for _, c := range cs {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
		}
	}
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
