package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is per node: several nodes share a process, so each gets its own
// registry instead of the global default.
type Metrics struct {
	reg *prometheus.Registry

	OrdersAdded      *prometheus.CounterVec // origin: client|peer
	Matches          prometheus.Counter
	Rollbacks        prometheus.Counter
	IncompleteTrades prometheus.Counter
	Trades           prometheus.Counter
	LocksGranted     prometheus.Counter
	LocksRejected    *prometheus.CounterVec // reason
	Executions       prometheus.Counter
	Closes           prometheus.Counter
	PeerRequests     *prometheus.CounterVec // req_type, result
	RegistryOrders   prometheus.GaugeFunc
	Transfers        prometheus.Counter
}

func New(nodeID string, registrySize func() int) *Metrics {
	labels := prometheus.Labels{"node": nodeID}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		OrdersAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "distex", Name: "orders_added_total", ConstLabels: labels,
			Help: "Orders inserted into the registry.",
		}, []string{"origin"}),
		Matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "distex", Name: "matches_total", ConstLabels: labels,
			Help: "Match sets found by the matching engine.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "distex", Name: "match_rollbacks_total", ConstLabels: labels,
			Help: "Match sets whose local locks were released after a failure.",
		}),
		IncompleteTrades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "distex", Name: "incomplete_trades_total", ConstLabels: labels,
			Help: "Match sets whose execution failed after funds went out; they stay reserved.",
		}),
		Trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "distex", Name: "trades_total", ConstLabels: labels,
			Help: "Match sets fully locked and executed.",
		}),
		LocksGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "distex", Name: "locks_granted_total", ConstLabels: labels,
			Help: "Remote locks granted on owned orders.",
		}),
		LocksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "distex", Name: "locks_rejected_total", ConstLabels: labels,
			Help: "Lock requests refused on owned orders.",
		}, []string{"reason"}),
		Executions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "distex", Name: "executions_total", ConstLabels: labels,
			Help: "Owned orders executed on request of a lock holder.",
		}),
		Closes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "distex", Name: "closes_total", ConstLabels: labels,
			Help: "Orders marked closed.",
		}),
		PeerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "distex", Name: "peer_requests_total", ConstLabels: labels,
			Help: "Outbound requests per peer by type and result.",
		}, []string{"req_type", "result"}),
		Transfers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "distex", Name: "transfers_total", ConstLabels: labels,
			Help: "Settlement transfers recorded.",
		}),
	}
	if registrySize == nil {
		registrySize = func() int { return 0 }
	}
	m.RegistryOrders = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "distex", Name: "registry_orders", ConstLabels: labels,
		Help: "Orders currently known to the node.",
	}, func() float64 { return float64(registrySize()) })

	m.reg.MustRegister(
		m.OrdersAdded, m.Matches, m.Rollbacks, m.IncompleteTrades, m.Trades,
		m.LocksGranted, m.LocksRejected, m.Executions, m.Closes,
		m.PeerRequests, m.RegistryOrders, m.Transfers,
	)
	return m
}

// Nop returns metrics that are collected but never exported.
func Nop() *Metrics { return New("", nil) }

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
