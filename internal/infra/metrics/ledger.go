package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ledgerEntriesTotal) }

var ledgerEntriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_entries_total",
		Help: "Total ledger postings, labeled by entry type.",
	},
	[]string{"type"},
)

func IncLedgerEntry(entryType string) {
	ledgerEntriesTotal.WithLabelValues(norm(entryType)).Inc()
}
