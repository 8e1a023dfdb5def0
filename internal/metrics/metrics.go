package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность исходящих вызовов через клиент
	RequestDuration *prometheus.HistogramVec

	// Traffic: локальные отказы клиента ещё до сети
	RequestsRejected *prometheus.CounterVec

	// Saturation: состояние предохранителей (0 - closed, 1 - open, 2 - half_open)
	BreakerState *prometheus.GaugeVec

	// Переходы предохранителей по целевому состоянию
	BreakerTransitions *prometheus.CounterVec

	// Здоровье сервисов по данным пробера (1 - healthy, 0 - нет)
	ServiceHealth *prometheus.GaugeVec

	// Неудачные пробы по сервисам
	ProbeFailures *prometheus.CounterVec

	// Терминальные исходы задач
	TasksTotal *prometheus.CounterVec

	// Глубина очереди неназначенных задач
	TaskQueueDepth prometheus.Gauge

	// Агенты по статусам
	AgentsByStatus *prometheus.GaugeVec

	// Исходы планов
	PlanOutcomes *prometheus.CounterVec

	// Events: заполненность буфера журнала (backpressure)
	EventBufferFill prometheus.Gauge

	// Потерянные события журнала (переполнение буфера)
	EventsDropped prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orch_request_duration_seconds",
			Help:    "Histogram of outbound request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"service", "status"}),

		RequestsRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orch_requests_rejected_total",
			Help: "Requests rejected locally before any network I/O.",
		}, []string{"service", "reason"}), // причины: circuit_open, rate_limited

		BreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "orch_circuit_breaker_state",
			Help: "Current breaker state (0=closed, 1=open, 2=half_open).",
		}, []string{"service"}),

		BreakerTransitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orch_circuit_breaker_transitions_total",
			Help: "Breaker transitions by resulting state.",
		}, []string{"service", "to"}),

		ServiceHealth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "orch_service_healthy",
			Help: "Service health as seen by the prober (1=healthy).",
		}, []string{"service"}),

		ProbeFailures: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orch_probe_failures_total",
			Help: "Failed health probes by service.",
		}, []string{"service"}),

		TasksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orch_tasks_total",
			Help: "Terminal task outcomes.",
		}, []string{"type", "status"}),

		TaskQueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "orch_task_queue_depth",
			Help: "Number of tasks waiting for an agent.",
		}),

		AgentsByStatus: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "orch_agents",
			Help: "Registered agents by status.",
		}, []string{"status"}),

		PlanOutcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orch_plan_outcomes_total",
			Help: "Finished plans by status.",
		}, []string{"status"}),

		EventBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "orch_event_buffer_utilization",
			Help: "Current number of events in the trail buffer.",
		}),

		EventsDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "orch_events_dropped_total",
			Help: "Trail events dropped because the buffer was full.",
		}),
	}
}
