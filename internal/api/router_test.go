package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medibook/clinic-booking/internal/auth"
	"github.com/medibook/clinic-booking/internal/booking"
	"github.com/medibook/clinic-booking/internal/directory"
	"github.com/medibook/clinic-booking/internal/metrics"
	redisclient "github.com/medibook/clinic-booking/internal/redis"
)

type testEnv struct {
	router http.Handler
	tokens *auth.Issuer
	demo   *directory.Demo
	coord  *booking.Coordinator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg := prometheus.NewRegistry()
	store := booking.NewMemoryStore()
	coord := booking.NewCoordinator(store, redisclient.NewLocalSlotLocker(), metrics.NewBookingMetrics(reg), zerolog.Nop())

	repo := directory.NewMemoryRepository()
	demo, err := directory.SeedDemo(context.Background(), repo)
	require.NoError(t, err)

	tokens := auth.NewIssuer("test-secret", time.Hour)

	router := NewRouter(RouterConfig{
		Booking:   coord,
		Directory: directory.NewService(repo, coord),
		Tokens:    tokens,
		Logger:    zerolog.Nop(),
		Metrics:   metrics.NewHTTPMetrics(reg),
		Gatherer:  reg,
		Env:       "test",
		Version:   "test",
	})

	return &testEnv{router: router, tokens: tokens, demo: demo, coord: coord}
}

func (e *testEnv) account(t *testing.T, email string) directory.Account {
	t.Helper()
	a, ok := e.demo.Account(email)
	require.True(t, ok, "no demo account %s", email)
	return a
}

func (e *testEnv) token(t *testing.T, email string) string {
	t.Helper()
	a := e.account(t, email)
	tok, err := e.tokens.Issue(auth.Principal{UserID: a.UserID, Role: auth.Role(a.Role), Verified: a.Verified})
	require.NoError(t, err)
	return tok
}

// slot publishes a slot for Dr. Ayman a week from now.
func (e *testEnv) slot(t *testing.T, start, end string) *booking.Slot {
	t.Helper()
	ayman := e.account(t, "ayman@medibook.com")
	date := time.Now().AddDate(0, 0, 7).Format("2006-01-02")
	req, err := booking.ParseAvailability(ayman.ProfileID, date, start, end)
	require.NoError(t, err)
	s, err := e.coord.AddAvailability(context.Background(), req)
	require.NoError(t, err)
	return s
}

type request struct {
	method  string
	path    string
	token   string
	json    map[string]any
	form    url.Values
	cookies []*http.Cookie
}

func (e *testEnv) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Buffer
	switch {
	case req.json != nil:
		raw, err := json.Marshal(req.json)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	case req.form != nil:
		body = bytes.NewBufferString(req.form.Encode())
	default:
		body = &bytes.Buffer{}
	}

	r := httptest.NewRequest(req.method, req.path, body)
	switch {
	case req.json != nil:
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Accept", "application/json")
	case req.form != nil:
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if req.token != "" {
		r.Header.Set("Authorization", "Bearer "+req.token)
	}
	for _, c := range req.cookies {
		r.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func flashCookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == flashCookie {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", flashCookie)
	return nil
}

func TestBookJSON(t *testing.T) {
	env := newTestEnv(t)
	slot := env.slot(t, "09:00", "09:30")
	ayman := env.account(t, "ayman@medibook.com")
	path := fmt.Sprintf("/booking/book/%d", ayman.ProfileID)

	rec := env.do(t, request{
		method: http.MethodPost,
		path:   path,
		token:  env.token(t, "ali@medibook.com"),
		json:   map[string]any{"availability_id": slot.ID, "payment_method": "online"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	appt := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "confirmed", appt.Status)
	assert.Equal(t, "online", appt.PaymentMethod)
	require.NotNil(t, appt.SlotID)
	assert.Equal(t, slot.ID, *appt.SlotID)

	rec = env.do(t, request{
		method: http.MethodPost,
		path:   path,
		token:  env.token(t, "ali@medibook.com"),
		json:   map[string]any{"availability_id": slot.ID},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_already_booked", decode[ErrorResponse](t, rec).Error)
}

func TestBookFormRedirectsWithFlash(t *testing.T) {
	env := newTestEnv(t)
	slot := env.slot(t, "09:00", "09:30")
	ayman := env.account(t, "ayman@medibook.com")
	patientToken := env.token(t, "ali@medibook.com")

	rec := env.do(t, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/booking/book/%d", ayman.ProfileID),
		token:  patientToken,
		form:   url.Values{"availability_id": {fmt.Sprint(slot.ID)}},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, dashboardPath, rec.Header().Get("Location"))

	rec = env.do(t, request{
		method:  http.MethodGet,
		path:    dashboardPath,
		token:   patientToken,
		cookies: []*http.Cookie{flashCookieFrom(t, rec)},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	dash := decode[DashboardResponse](t, rec)
	assert.Equal(t, "patient", dash.Role)
	require.Len(t, dash.Appointments, 1)
	assert.Equal(t, "at_clinic", dash.Appointments[0].PaymentMethod)
	require.NotNil(t, dash.Flash)
	assert.Equal(t, flashSuccess, dash.Flash.Kind)
	assert.Equal(t, "Appointment booked successfully!", dash.Flash.Message)
}

func TestBookFormFailureReturnsToProfile(t *testing.T) {
	env := newTestEnv(t)
	ayman := env.account(t, "ayman@medibook.com")

	rec := env.do(t, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/booking/book/%d", ayman.ProfileID),
		token:  env.token(t, "ali@medibook.com"),
		form:   url.Values{"payment_method": {"online"}},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, fmt.Sprintf("/doctor/%d", ayman.ProfileID), rec.Header().Get("Location"))

	rec = env.do(t, request{
		method:  http.MethodGet,
		path:    fmt.Sprintf("/doctor/%d", ayman.ProfileID),
		cookies: []*http.Cookie{flashCookieFrom(t, rec)},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[DoctorProfileResponse](t, rec)
	require.NotNil(t, profile.Flash)
	assert.Equal(t, flashError, profile.Flash.Kind)
	assert.Equal(t, "please select an available time slot", profile.Flash.Message)
}

func TestCredentialChecks(t *testing.T) {
	env := newTestEnv(t)
	slot := env.slot(t, "09:00", "09:30")
	ayman := env.account(t, "ayman@medibook.com")
	path := fmt.Sprintf("/booking/book/%d", ayman.ProfileID)
	body := map[string]any{"availability_id": slot.ID}

	rec := env.do(t, request{method: http.MethodPost, path: path, json: body})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, request{method: http.MethodPost, path: path, token: "garbage", json: body})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credential", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, request{method: http.MethodPost, path: path, token: env.token(t, "ayman@medibook.com"), json: body})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// browsers without a session are sent back to the search page
	rec = env.do(t, request{method: http.MethodGet, path: dashboardPath})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestStaleSessionCookieIsCleared(t *testing.T) {
	env := newTestEnv(t)
	stale := &http.Cookie{Name: sessionCookie, Value: "expired-or-garbage"}

	rec := env.do(t, request{method: http.MethodGet, path: "/", cookies: []*http.Cookie{stale}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	var cleared *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			cleared = c
		}
	}
	require.NotNil(t, cleared, "session cookie should be expired")
	assert.Empty(t, cleared.Value)
	assert.Less(t, cleared.MaxAge, 0)

	// the browser follows the redirect without the cookie
	rec = env.do(t, request{method: http.MethodGet, path: "/"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// bearer tokens are never answered with a cookie reset
	rec = env.do(t, request{method: http.MethodGet, path: "/", token: "garbage"})
	for _, c := range rec.Result().Cookies() {
		assert.NotEqual(t, sessionCookie, c.Name)
	}
}

func TestCancelViaAPI(t *testing.T) {
	env := newTestEnv(t)
	slot := env.slot(t, "09:00", "09:30")
	ayman := env.account(t, "ayman@medibook.com")
	ali := env.account(t, "ali@medibook.com")

	appt, err := env.coord.Book(context.Background(), booking.BookRequest{DoctorID: ayman.ProfileID, PatientID: ali.ProfileID, SlotID: slot.ID})
	require.NoError(t, err)

	rec := env.do(t, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/booking/cancel/%d", appt.ID),
		token:  env.token(t, "ali@medibook.com"),
		json:   map[string]any{},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[CancelResponse](t, rec)
	assert.True(t, res.SlotFreed)
	assert.Equal(t, "cancelled", res.Appointment.Status)

	rec = env.do(t, request{method: http.MethodGet, path: fmt.Sprintf("/doctor/%d", ayman.ProfileID)})
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[DoctorProfileResponse](t, rec)
	require.Len(t, profile.AvailableSlots, 1)
	assert.Equal(t, slot.ID, profile.AvailableSlots[0].ID)

	rec = env.do(t, request{
		method: http.MethodPost,
		path:   "/booking/cancel/999",
		token:  env.token(t, "ali@medibook.com"),
		json:   map[string]any{},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAvailabilityViaAPI(t *testing.T) {
	env := newTestEnv(t)
	doctorToken := env.token(t, "ayman@medibook.com")
	date := time.Now().AddDate(0, 0, 3).Format("2006-01-02")

	rec := env.do(t, request{
		method: http.MethodPost,
		path:   "/booking/add_availability",
		token:  doctorToken,
		json:   map[string]any{"date": date, "start_time": "10:00", "end_time": "10:30"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[SlotResponse](t, rec)
	assert.Equal(t, "10:00", created.StartTime)
	assert.False(t, created.IsBooked)

	rec = env.do(t, request{
		method: http.MethodPost,
		path:   "/booking/add_availability",
		token:  doctorToken,
		json:   map[string]any{"date": date, "start_time": "10:00", "end_time": "10:30"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_slot", decode[ErrorResponse](t, rec).Error)

	rec = env.do(t, request{
		method: http.MethodPost,
		path:   "/booking/add_availability",
		token:  doctorToken,
		json:   map[string]any{"date": date, "start_time": "11:00", "end_time": "10:30"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Dr. Mona cannot remove Dr. Ayman's slot
	rec = env.do(t, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/booking/delete_availability/%d", created.ID),
		token:  env.token(t, "mona@medibook.com"),
		json:   map[string]any{},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/booking/delete_availability/%d", created.ID),
		token:  doctorToken,
		json:   map[string]any{},
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, request{method: http.MethodGet, path: dashboardPath, token: doctorToken})
	require.Equal(t, http.StatusOK, rec.Code)
	dash := decode[DashboardResponse](t, rec)
	assert.Equal(t, "doctor", dash.Role)
	assert.Empty(t, dash.AvailabilitySlots)
}

func TestDeleteBookedSlotViaAPI(t *testing.T) {
	env := newTestEnv(t)
	slot := env.slot(t, "09:00", "09:30")
	ayman := env.account(t, "ayman@medibook.com")
	ali := env.account(t, "ali@medibook.com")

	_, err := env.coord.Book(context.Background(), booking.BookRequest{DoctorID: ayman.ProfileID, PatientID: ali.ProfileID, SlotID: slot.ID})
	require.NoError(t, err)

	rec := env.do(t, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/booking/delete_availability/%d", slot.ID),
		token:  env.token(t, "ayman@medibook.com"),
		form:   url.Values{},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, dashboardPath, rec.Header().Get("Location"))

	rec = env.do(t, request{
		method:  http.MethodGet,
		path:    dashboardPath,
		token:   env.token(t, "ayman@medibook.com"),
		cookies: []*http.Cookie{flashCookieFrom(t, rec)},
	})
	dash := decode[DashboardResponse](t, rec)
	require.NotNil(t, dash.Flash)
	assert.Equal(t, "cannot delete a booked slot", dash.Flash.Message)
	require.Len(t, dash.AvailabilitySlots, 1)
	assert.True(t, dash.AvailabilitySlots[0].IsBooked)
}

func TestReviewViaAPI(t *testing.T) {
	env := newTestEnv(t)
	slot := env.slot(t, "09:00", "09:30")
	ayman := env.account(t, "ayman@medibook.com")
	ali := env.account(t, "ali@medibook.com")
	patientToken := env.token(t, "ali@medibook.com")

	appt, err := env.coord.Book(context.Background(), booking.BookRequest{DoctorID: ayman.ProfileID, PatientID: ali.ProfileID, SlotID: slot.ID})
	require.NoError(t, err)
	path := fmt.Sprintf("/booking/submit_review/%d", appt.ID)

	rec := env.do(t, request{method: http.MethodPost, path: path, token: patientToken, json: map[string]any{"rating": 7}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, request{method: http.MethodPost, path: path, token: patientToken, json: map[string]any{"rating": 5, "feedback": "Great"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, request{method: http.MethodPost, path: path, token: patientToken, json: map[string]any{"rating": 4}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, request{method: http.MethodGet, path: fmt.Sprintf("/doctor/%d", ayman.ProfileID)})
	profile := decode[DoctorProfileResponse](t, rec)
	require.Len(t, profile.Reviews, 1)
	assert.Equal(t, 5, profile.Reviews[0].Rating)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, request{method: http.MethodGet, path: "/?specialization=cardio"})
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[SearchResponse](t, rec)
	require.Len(t, res.Doctors, 1)
	assert.Equal(t, "Cardiologist", res.Doctors[0].Specialization)
	assert.Equal(t, []string{"Cardiologist", "Dermatologist"}, res.Specializations)
	assert.Equal(t, []string{"Cairo", "Giza"}, res.Cities)

	rec = env.do(t, request{method: http.MethodGet, path: "/?location=giza"})
	res = decode[SearchResponse](t, rec)
	require.Len(t, res.Doctors, 1)
	assert.Equal(t, "Dr. Mona", res.Doctors[0].Name)

	rec = env.do(t, request{method: http.MethodGet, path: "/doctor/999"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, request{method: http.MethodGet, path: "/doctor/abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminDashboard(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, request{method: http.MethodGet, path: dashboardPath, token: env.token(t, "admin@medibook.com")})
	require.Equal(t, http.StatusOK, rec.Code)

	dash := decode[DashboardResponse](t, rec)
	assert.Equal(t, "admin", dash.Role)
	require.NotNil(t, dash.Stats)
	assert.Equal(t, directory.Stats{Patients: 1, Doctors: 2}, *dash.Stats)
	assert.Empty(t, dash.UnverifiedDoctors)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, request{method: http.MethodGet, path: "/health/live"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, request{method: http.MethodGet, path: "/health/ready"})
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "disabled", ready.Dependencies["postgres"])
	assert.Equal(t, "disabled", ready.Dependencies["redis"])

	rec = env.do(t, request{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `medibook_http_requests_total{method="GET",route="/health/ready",status="200"} 1`), rec.Body.String())
}
