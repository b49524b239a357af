package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FSMTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routingd_fsm_transitions_total",
			Help: "FSM state transitions by protocol, from-state, to-state.",
		},
		[]string{"protocol", "from", "to"},
	)

	FSMNotificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routingd_fsm_notifications_sent_total",
			Help: "NOTIFICATION/equivalent teardown messages sent, by protocol, code and subcode.",
		},
		[]string{"protocol", "code", "subcode"},
	)

	RIBSizeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routingd_rib_prefixes",
			Help: "Current prefix count per RIB view.",
		},
		[]string{"instance", "afi", "view"},
	)

	AttrStoreSizeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routingd_attrstore_entries",
			Help: "Live interned attribute-set count per attribute kind.",
		},
		[]string{"instance", "kind"},
	)

	DecisionPathsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routingd_bgp_decision_paths",
			Help: "BGP decision-process path counts by kind (total candidate paths across all peers, or eligible prefixes with a resolved best path).",
		},
		[]string{"instance", "kind"},
	)

	DecisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routingd_decision_duration_seconds",
			Help:    "Decision-process pass latency.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"instance"},
	)

	SPFDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routingd_spf_duration_seconds",
			Help:    "SPF run latency.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"instance", "area"},
	)

	FloodedLSAsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routingd_ospf_flooded_lsas_total",
			Help: "LSAs flooded out an interface.",
		},
		[]string{"instance", "interface"},
	)

	TimerFiringsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routingd_timer_firings_total",
			Help: "Timer expiries delivered to an instance event loop, by kind.",
		},
		[]string{"kind"},
	)

	NBTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routingd_nb_transactions_total",
			Help: "Northbound transactions by outcome.",
		},
		[]string{"instance", "outcome"},
	)

	IBusMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routingd_ibus_messages_total",
			Help: "IBUS messages by class and direction.",
		},
		[]string{"class", "direction"},
	)

	DBWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "routingd_db_write_duration_seconds",
			Help:    "Southbound audit DB write latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"pipeline", "op"},
	)

	DBRowsAffectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routingd_db_rows_affected_total",
			Help: "Southbound audit DB rows written.",
		},
		[]string{"pipeline", "table", "op"},
	)

	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routingd_decode_errors_total",
			Help: "Wire-message decode failures by protocol and category.",
		},
		[]string{"protocol", "category"},
	)

	AdvisoryUnknownTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routingd_advisory_unknown_total",
			Help: "Advisory-tier unknown attribute/capability/TLV occurrences.",
		},
		[]string{"protocol", "kind"},
	)

	LDPLabelReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routingd_ldp_label_releases_total",
			Help: "Local label bindings removed by a received Label Release, by peer and scope (wildcard|single).",
		},
		[]string{"instance", "peer", "scope"},
	)

	GraceActiveGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "routingd_ospf_grace_active",
			Help: "1 while a neighbor's RFC 3623/5187 graceful restart grace period is in effect.",
		},
		[]string{"interface", "neighbor"},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			FSMTransitionsTotal,
			FSMNotificationsSentTotal,
			RIBSizeGauge,
			AttrStoreSizeGauge,
			DecisionPathsGauge,
			DecisionDuration,
			SPFDuration,
			FloodedLSAsTotal,
			TimerFiringsTotal,
			NBTransactionsTotal,
			IBusMessagesTotal,
			DBWriteDuration,
			DBRowsAffectedTotal,
			DecodeErrorsTotal,
			AdvisoryUnknownTotal,
			LDPLabelReleasesTotal,
			GraceActiveGauge,
		)
	})
}
