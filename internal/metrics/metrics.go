package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters for the booking coordinator. A nil
// *BookingMetrics is valid and records nothing.
type BookingMetrics struct {
	bookings      *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	availability  *prometheus.CounterVec
	reviews       *prometheus.CounterVec
	drift         *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibook",
			Subsystem: "booking",
			Name:      "bookings_total",
			Help:      "Booking attempts by result",
		}, []string{"result"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibook",
			Subsystem: "booking",
			Name:      "cancellations_total",
			Help:      "Cancellations by whether a slot was re-opened",
		}, []string{"result", "slot_freed"}),
		availability: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibook",
			Subsystem: "booking",
			Name:      "availability_changes_total",
			Help:      "Slot create/delete operations by result",
		}, []string{"action", "result"}),
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibook",
			Subsystem: "booking",
			Name:      "reviews_total",
			Help:      "Review submissions by result",
		}, []string{"result"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibook",
			Subsystem: "booking",
			Name:      "slot_drift_total",
			Help:      "Slots whose booked flag disagreed with active appointments",
		}, []string{"repaired"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.cancellations, m.availability, m.reviews, m.drift)
	return m
}

func (m *BookingMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveCancellation(result string, slotFreed bool) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(result, strconv.FormatBool(slotFreed)).Inc()
}

func (m *BookingMetrics) ObserveAvailability(action, result string) {
	if m == nil {
		return
	}
	m.availability.WithLabelValues(action, result).Inc()
}

func (m *BookingMetrics) ObserveReview(result string) {
	if m == nil {
		return
	}
	m.reviews.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveDrift(repaired bool) {
	if m == nil {
		return
	}
	m.drift.WithLabelValues(strconv.FormatBool(repaired)).Inc()
}

// HTTPMetrics counts and times requests by chi route pattern.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibook",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medibook",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

func (m *HTTPMetrics) Observe(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, route).Observe(seconds)
}
