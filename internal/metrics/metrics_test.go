package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBookingMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)

	m.ObserveBooking("success")
	m.ObserveBooking("success")
	m.ObserveBooking("conflict")
	m.ObserveCancellation("success", true)
	m.ObserveDrift(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookings.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookings.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancellations.WithLabelValues("success", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drift.WithLabelValues("false")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var bm *BookingMetrics
	var hm *HTTPMetrics

	assert.NotPanics(t, func() {
		bm.ObserveBooking("success")
		bm.ObserveCancellation("success", false)
		bm.ObserveAvailability("create", "success")
		bm.ObserveReview("success")
		bm.ObserveDrift(true)
		hm.Observe("GET", "/", 200, 0.01)
	})
}

func TestHTTPMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.Observe("POST", "/booking/book/{doctor_id}", 303, 0.02)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("POST", "/booking/book/{doctor_id}", "303")))
}
