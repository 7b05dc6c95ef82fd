package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sashanth17/medicare-scheduling/internal/allocator"
	"github.com/sashanth17/medicare-scheduling/internal/appointment"
	"github.com/sashanth17/medicare-scheduling/internal/directory"
	"github.com/sashanth17/medicare-scheduling/internal/lock"
	"github.com/sashanth17/medicare-scheduling/internal/metrics"
	"github.com/sashanth17/medicare-scheduling/internal/signaling"
)

var testNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	repo    *appointment.MemoryRepository
	now     time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{repo: appointment.NewMemoryRepository(), now: testNow}

	doctors := directory.NewMemoryDoctors(
		directory.Doctor{ID: 42, User: directory.User{ID: 1, Username: "mnair", FirstName: "Meera", LastName: "Nair"}},
		directory.Doctor{
			ID:           43,
			User:         directory.User{ID: 2, Username: "rjohnson", FirstName: "Rahul", LastName: "Johnson"},
			ServiceHours: &directory.ServiceHours{Start: 14 * time.Hour, End: 18 * time.Hour},
		},
	)
	users := directory.NewMemoryUsers(
		directory.User{ID: 7, Username: "patient7", PhoneNumber: "+919876543210"},
	)

	alloc := allocator.New(lock.NewLocalLocker(time.Second), allocator.NewMemoryCounterStore(), nil, zerolog.Nop())
	svc := appointment.NewService(ts.repo, alloc, doctors, users,
		appointment.WithClock(func() time.Time { return ts.now }),
		appointment.WithLocation(time.UTC),
	)

	reg := prometheus.NewRegistry()
	ts.handler = NewRouter(RouterConfig{
		Service:        svc,
		Mailbox:        signaling.NewMemoryMailbox(time.Minute),
		Users:          users,
		Metrics:        metrics.New(reg, "test"),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         zerolog.Nop(),
		Env:            "test",
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func ptr(v int64) *int64 { return &v }

func TestBookByIDs(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/appointments/book", BookAppointmentRequest{
		DoctorID:        ptr(42),
		PatientID:       ptr(7),
		AppointmentDate: "2024-06-01",
		Notes:           "fever",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	got := decode[AppointmentResponse](t, rec)
	assert.Equal(t, 1, got.AppointmentNumber)
	assert.Equal(t, "booked", got.Status)
	assert.Equal(t, "Meera Nair", got.DoctorName)
	assert.Equal(t, "patient7", got.PatientUsername)
	assert.Equal(t, "2024-06-01", got.AppointmentDate)
	assert.Equal(t, "fever", got.Notes)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, http.MethodPost, "/appointments/book", BookAppointmentRequest{
		DoctorID:        ptr(42),
		PatientID:       ptr(7),
		AppointmentDate: "2024-06-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 2, decode[AppointmentResponse](t, rec).AppointmentNumber)
}

func TestBookByNameAndPhone(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/appointments/book", BookAppointmentRequest{
		DoctorName:      "meera",
		PhoneNumber:     "+91 98765 43210",
		AppointmentDate: "2024-06-02",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(42), decode[AppointmentResponse](t, rec).Doctor)
}

func TestBookErrors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"bad json", "not an object", http.StatusBadRequest},
		{"missing date", BookAppointmentRequest{DoctorID: ptr(42), PatientID: ptr(7)}, http.StatusBadRequest},
		{"bad date", BookAppointmentRequest{DoctorID: ptr(42), PatientID: ptr(7), AppointmentDate: "01/06/2024"}, http.StatusBadRequest},
		{"half ids", BookAppointmentRequest{DoctorID: ptr(42), AppointmentDate: "2024-06-01"}, http.StatusBadRequest},
		{"unknown doctor id", BookAppointmentRequest{DoctorID: ptr(99), PatientID: ptr(7), AppointmentDate: "2024-06-01"}, http.StatusNotFound},
		{"unknown patient id", BookAppointmentRequest{DoctorID: ptr(42), PatientID: ptr(99), AppointmentDate: "2024-06-01"}, http.StatusNotFound},
		{"no doctor match", BookAppointmentRequest{DoctorName: "zzz", PhoneNumber: "+919876543210", AppointmentDate: "2024-06-01"}, http.StatusBadRequest},
		{"no phone match", BookAppointmentRequest{DoctorName: "nair", PhoneNumber: "123", AppointmentDate: "2024-06-01"}, http.StatusBadRequest},
		{"missing name", BookAppointmentRequest{PhoneNumber: "123", AppointmentDate: "2024-06-01"}, http.StatusBadRequest},
		{"outside hours", BookAppointmentRequest{DoctorID: ptr(43), PatientID: ptr(7), AppointmentDate: "2024-06-01"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/appointments/book", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestScheduleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := ts.do(t, http.MethodPost, "/appointments/book", BookAppointmentRequest{
			DoctorID: ptr(42), PatientID: ptr(7), AppointmentDate: "2024-06-01",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/appointments/doctor/42?date=2024-06-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	schedule := decode[ScheduleResponse](t, rec)
	assert.Equal(t, "Meera Nair", schedule.Doctor)
	assert.Equal(t, "2024-06-01", schedule.Date)
	require.Len(t, schedule.Appointments, 3)
	for i, a := range schedule.Appointments {
		assert.Equal(t, i+1, a.AppointmentNumber)
	}

	rec = ts.do(t, http.MethodGet, "/appointments/doctor/42", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ScheduleResponse](t, rec).Appointments, 3, "date defaults to today")

	rec = ts.do(t, http.MethodGet, "/appointments/doctor?name=nair&date=2024-06-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ScheduleResponse](t, rec).Appointments, 3)

	rec = ts.do(t, http.MethodGet, "/appointments/search?q=Meera", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	search := decode[SearchResponse](t, rec)
	assert.Equal(t, "Meera", search.SearchedFor)
	assert.Equal(t, "Meera Nair", search.DoctorFound)
	assert.Len(t, search.Appointments, 3)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/appointments/doctor/99", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/appointments/doctor/42?date=june", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/appointments/doctor", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/appointments/doctor?name=zzz", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/appointments/search", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/appointments/search?q=zzz", nil).Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/appointments/book", BookAppointmentRequest{
		DoctorID: ptr(42), PatientID: ptr(7), AppointmentDate: "2024-06-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[AppointmentResponse](t, rec).ID
	base := "/appointments/" + strconv.FormatInt(id, 10)

	rec = ts.do(t, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	started := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "in_progress", started.Status)
	assert.NotNil(t, started.ActualStart)

	rec = ts.do(t, http.MethodPost, base+"/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Appointment cannot be started", decode[ErrorResponse](t, rec).Details)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, base+"/cancel", nil).Code)

	rec = ts.do(t, http.MethodPost, base+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode[AppointmentResponse](t, rec).Status)

	rec = ts.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode[AppointmentResponse](t, rec).Status)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/appointments/999/start", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/appointments/999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/appointments/abc/complete", nil).Code)
}

func TestNextEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	for _, a := range []appointment.Appointment{
		{DoctorID: 42, PatientID: 7, Date: testNow, Number: 2, Status: appointment.StatusBooked},
		{DoctorID: 42, PatientID: 7, Date: testNow, Number: 5, Status: appointment.StatusCompleted},
		{DoctorID: 42, PatientID: 7, Date: testNow, Number: 7, Status: appointment.StatusBooked},
	} {
		a := a
		a.Date = allocator.Day(a.Date)
		_, err := ts.repo.Create(ctx, &a)
		require.NoError(t, err)
	}

	rec := ts.do(t, http.MethodGet, "/appointments/doctor/42/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[AppointmentResponse](t, rec).AppointmentNumber)

	rec = ts.do(t, http.MethodGet, "/appointments/doctor/43/next", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No more appointments today", decode[ErrorResponse](t, rec).Details)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/appointments/doctor/99/next", nil).Code)
}

func TestListEndpoint(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := ts.do(t, http.MethodPost, "/appointments/book", BookAppointmentRequest{
			DoctorID: ptr(42), PatientID: ptr(7), AppointmentDate: "2024-06-03",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/appointments?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[AppointmentListResponse](t, rec)
	assert.Len(t, list.Appointments, 2)
	assert.Equal(t, 2, list.Limit)

	rec = ts.do(t, http.MethodGet, "/appointments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appointment.DefaultListLimit, decode[AppointmentListResponse](t, rec).Limit)

	rec = ts.do(t, http.MethodGet, "/appointments?limit=1000&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[AppointmentListResponse](t, rec)
	assert.Equal(t, appointment.MaxListLimit, list.Limit)
	assert.Equal(t, 1, list.Offset)
	assert.Len(t, list.Appointments, 2)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/appointments?limit=-1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/appointments?offset=x", nil).Code)
}

func TestVideoCallFlow(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/videocall/doctor/poll", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "empty", decode[StatusResponse](t, rec).Status)

	rec = ts.do(t, http.MethodPost, "/videocall/offer", map[string]any{
		"user_id":        7,
		"sdp":            "v=0 offer",
		"ice_candidates": []any{map[string]any{"candidate": "udp 1"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, StatusResponse{Status: "queued", UserID: 7}, decode[StatusResponse](t, rec))

	rec = ts.do(t, http.MethodGet, "/videocall/doctor/poll", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	offer := decode[signaling.Offer](t, rec)
	assert.Equal(t, int64(7), offer.UserID)
	assert.Equal(t, "v=0 offer", offer.SDP)
	require.Len(t, offer.ICECandidates, 1)

	rec = ts.do(t, http.MethodGet, "/videocall/answer?user_id=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no answer yet", decode[StatusResponse](t, rec).Status)

	rec = ts.do(t, http.MethodPost, "/videocall/doctor/poll", SubmitAnswerRequest{PatientID: 7, SDP: "v=0 answer"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "answer stored", decode[StatusResponse](t, rec).Status)

	rec = ts.do(t, http.MethodGet, "/videocall/answer?user_id=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v=0 answer", decode[signaling.Answer](t, rec).SDP)

	rec = ts.do(t, http.MethodGet, "/videocall/answer?user_id=7", nil)
	assert.Equal(t, "no answer yet", decode[StatusResponse](t, rec).Status, "answers are delivered once")
}

func TestVideoCallErrors(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/videocall/offer", map[string]any{"user_id": 7}).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/videocall/offer", map[string]any{"user_id": 99, "sdp": "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/videocall/doctor/poll", map[string]any{"sdp": "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/videocall/answer", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/videocall/answer?user_id=abc", nil).Code)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	ok := NewRouter(RouterConfig{Postgres: fakePinger{}, Logger: zerolog.Nop(), Version: "v1"})

	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[ReadinessResponse](t, rec).Dependencies["postgres"])

	down := NewRouter(RouterConfig{Postgres: fakePinger{err: errors.New("refused")}, Logger: zerolog.Nop()})
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodGet, "/appointments/doctor/42", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/appointments/doctor/{doctorID}"`)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
