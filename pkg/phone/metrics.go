package phone

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics собирает prometheus метрики регистрации и вызовов.
// Один экземпляр разделяется контроллерами подключения и вызова.
type Metrics struct {
	registrationAttempts prometheus.Counter
	registrationFailures prometheus.Counter
	connState            *prometheus.GaugeVec

	callsTotal    *prometheus.CounterVec
	callsAnswered *prometheus.CounterVec
	callsFailed   *prometheus.CounterVec
	declinedBusy  prometheus.Counter
	mediaFailures prometheus.Counter
	activeCalls   prometheus.Gauge
	callDuration  prometheus.Histogram

	mu         sync.Mutex
	answeredAt time.Time
}

// NewMetrics создает и регистрирует метрики на переданном registerer.
// Тесты и встраивающие приложения передают собственный изолированный registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrationAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phone",
			Subsystem: "connection",
			Name:      "registration_attempts_total",
			Help:      "Количество попыток регистрации",
		}),
		registrationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phone",
			Subsystem: "connection",
			Name:      "registration_failures_total",
			Help:      "Количество неудачных регистраций",
		}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "phone",
			Subsystem: "connection",
			Name:      "state",
			Help:      "Текущее состояние подключения (1 у активного)",
		}, []string{"state"}),
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phone",
			Subsystem: "call",
			Name:      "started_total",
			Help:      "Количество начатых вызовов по направлению",
		}, []string{"direction"}),
		callsAnswered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phone",
			Subsystem: "call",
			Name:      "answered_total",
			Help:      "Количество отвеченных вызовов по направлению",
		}, []string{"direction"}),
		callsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "phone",
			Subsystem: "call",
			Name:      "failed_total",
			Help:      "Количество неудачных вызовов по направлению",
		}, []string{"direction"}),
		declinedBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phone",
			Subsystem: "call",
			Name:      "declined_busy_total",
			Help:      "Количество входящих, отклоненных из-за занятости",
		}),
		mediaFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "phone",
			Subsystem: "call",
			Name:      "media_attach_failures_total",
			Help:      "Количество неудачных привязок медиа",
		}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "phone",
			Subsystem: "call",
			Name:      "active",
			Help:      "Текущее количество активных вызовов",
		}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "phone",
			Subsystem: "call",
			Name:      "duration_seconds",
			Help:      "Длительность отвеченных вызовов",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	reg.MustRegister(
		m.registrationAttempts,
		m.registrationFailures,
		m.connState,
		m.callsTotal,
		m.callsAnswered,
		m.callsFailed,
		m.declinedBusy,
		m.mediaFailures,
		m.activeCalls,
		m.callDuration,
	)
	return m
}

func (m *Metrics) registrationAttempt() { m.registrationAttempts.Inc() }
func (m *Metrics) registrationFailure() { m.registrationFailures.Inc() }

func (m *Metrics) setConnState(state ConnState) {
	for _, s := range []ConnState{Disconnected, Connecting, Connected, ConnError} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.connState.WithLabelValues(s.String()).Set(v)
	}
}

func (m *Metrics) setCallState(state CallState) {
	if state == Idle {
		m.activeCalls.Set(0)
	} else {
		m.activeCalls.Set(1)
	}
}

func (m *Metrics) callStarted(direction string) {
	m.callsTotal.WithLabelValues(direction).Inc()
}

func (m *Metrics) callFailed(direction string) {
	m.callsFailed.WithLabelValues(direction).Inc()
}

func (m *Metrics) callAnswered(direction string) {
	m.callsAnswered.WithLabelValues(direction).Inc()
	m.mu.Lock()
	m.answeredAt = time.Now()
	m.mu.Unlock()
}

func (m *Metrics) callDeclinedBusy() { m.declinedBusy.Inc() }
func (m *Metrics) mediaAttachFailed() { m.mediaFailures.Inc() }

func (m *Metrics) callEnded() {
	m.mu.Lock()
	answeredAt := m.answeredAt
	m.answeredAt = time.Time{}
	m.mu.Unlock()
	if !answeredAt.IsZero() {
		m.callDuration.Observe(time.Since(answeredAt).Seconds())
	}
}
