package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/sashanth17/medicare-scheduling/internal/allocator"
	"github.com/sashanth17/medicare-scheduling/internal/config"
	"github.com/sashanth17/medicare-scheduling/internal/db"
	"github.com/sashanth17/medicare-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	TransitionRatio float64
	ReadRatio       float64
	Doctors         int // how many doctors the load concentrates on
	Days            int // booking dates start tomorrow
	PatientLimit    int
	PostgresDSN     string
}

type DataPool struct {
	Doctors      []int64
	Patients     []int64
	Dates        []string
	mu           sync.RWMutex
	appointments []int64
}

func (dp *DataPool) AddAppointment(id int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (int64, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return 0, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type Metrics struct {
	Booking    OperationMetrics
	Transition OperationMetrics
	Schedule   OperationMetrics
	ReadByID   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	ledger  *NumberLedger
	log     zerolog.Logger
}

func main() {
	cfg, base, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(base.Env, base.LogLevel).With().Str("cmd", "simulate").Logger()
	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("transition", cfg.TransitionRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().
		Int("doctors", len(dataPool.Doctors)).
		Int("patients", len(dataPool.Patients)).
		Strs("dates", dataPool.Dates).
		Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		ledger: NewNumberLedger(),
		log:    logger,
	}

	sim.Run()
	ok := sim.Verify(context.Background())
	sim.PrintReport()

	if !ok {
		os.Exit(1)
	}
}

func loadConfig() (SimConfig, config.Config, error) {
	base, err := config.Load()
	if err != nil {
		return SimConfig{}, base, err
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SIM_API_BASE_URL", "http://localhost:8080")
	v.SetDefault("SIM_DURATION", "30s")
	v.SetDefault("SIM_WORKERS", 10)
	v.SetDefault("SIM_BOOKING_RATIO", 0.6)
	v.SetDefault("SIM_TRANSITION_RATIO", 0.1)
	v.SetDefault("SIM_READ_RATIO", 0.3)
	v.SetDefault("SIM_DOCTORS", 5)
	v.SetDefault("SIM_DAYS", 3)
	v.SetDefault("SIM_PATIENT_LIMIT", 2000)

	cfg := SimConfig{
		APIBaseURL:      strings.TrimRight(v.GetString("SIM_API_BASE_URL"), "/"),
		Duration:        v.GetDuration("SIM_DURATION"),
		Workers:         v.GetInt("SIM_WORKERS"),
		BookingRatio:    v.GetFloat64("SIM_BOOKING_RATIO"),
		TransitionRatio: v.GetFloat64("SIM_TRANSITION_RATIO"),
		ReadRatio:       v.GetFloat64("SIM_READ_RATIO"),
		Doctors:         v.GetInt("SIM_DOCTORS"),
		Days:            v.GetInt("SIM_DAYS"),
		PatientLimit:    v.GetInt("SIM_PATIENT_LIMIT"),
		PostgresDSN:     base.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.TransitionRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.TransitionRatio /= total
		cfg.ReadRatio /= total
	}

	switch {
	case cfg.Workers <= 0:
		return cfg, base, fmt.Errorf("SIM_WORKERS must be > 0")
	case cfg.Duration <= 0:
		return cfg, base, fmt.Errorf("SIM_DURATION must be > 0")
	case cfg.Doctors <= 0 || cfg.Days <= 0:
		return cfg, base, fmt.Errorf("SIM_DOCTORS and SIM_DAYS must be > 0")
	}
	return cfg, base, nil
}

// loadDataPool picks a few doctors so bookings contend on the same counters.
// Dates start tomorrow, which keeps the same-day service-hours guard out of
// the way.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM doctors ORDER BY id LIMIT $1`, cfg.Doctors)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `
		SELECT u.id FROM users u
		WHERE NOT EXISTS (SELECT 1 FROM doctors d WHERE d.user_id = u.id)
		LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()

	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}
	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}

	tomorrow := time.Now().AddDate(0, 0, 1)
	for i := 0; i < cfg.Days; i++ {
		dataPool.Dates = append(dataPool.Dates, tomorrow.AddDate(0, 0, i).Format(allocator.DateLayout))
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.TransitionRatio:
				s.doTransition(ctx, rng)
			case rng.Intn(2) == 0:
				s.doSchedule(ctx, rng)
			default:
				s.doReadByID(ctx, rng)
			}
		}
	}
}

func (s *Simulator) do(ctx context.Context, method, path string, body any, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

type appointmentPayload struct {
	ID                int64  `json:"id"`
	Doctor            int64  `json:"doctor"`
	AppointmentDate   string `json:"appointment_date"`
	AppointmentNumber int    `json:"appointment_number"`
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

	start := time.Now()
	var appt appointmentPayload
	status, err := s.do(ctx, http.MethodPost, "/appointments/book", map[string]any{
		"doctor_id":        doctorID,
		"patient_id":       patientID,
		"appointment_date": date,
	}, &appt)
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	if success {
		s.ledger.Record(appt.Doctor, appt.AppointmentDate, appt.AppointmentNumber)
		s.pool.AddAppointment(appt.ID)
	}
	s.metrics.Booking.Record(latency, success, status == http.StatusServiceUnavailable)
}

func (s *Simulator) doTransition(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	action := []string{"start", "complete", "cancel"}[rng.Intn(3)]

	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/appointments/%d/%s", id, action), nil, nil)
	latency := time.Since(start)

	// 400 is an expected answer for a transition the appointment already left
	s.metrics.Transition.Record(latency, err == nil && status == http.StatusOK, status == http.StatusBadRequest)
}

func (s *Simulator) doSchedule(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]

	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/appointments/doctor/%d?date=%s", doctorID, date), nil, nil)
	s.metrics.Schedule.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/appointments/%d", id), nil, nil)
	s.metrics.ReadByID.Record(time.Since(start), err == nil && status == http.StatusOK, false)
}

// Verify compares each touched schedule with what the API issued and
// reports false on any duplicate number.
func (s *Simulator) Verify(ctx context.Context) bool {
	ok := true
	for _, k := range s.ledger.Keys() {
		var schedule struct {
			Appointments []appointmentPayload `json:"appointments"`
		}
		status, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/appointments/doctor/%d?date=%s", k.DoctorID, k.Date), nil, &schedule)
		if err != nil || status != http.StatusOK {
			s.log.Error().Err(err).Int("status", status).Stringer("key", k).Msg("schedule fetch failed")
			ok = false
			continue
		}

		seen := make(map[int]bool)
		for _, a := range schedule.Appointments {
			if seen[a.AppointmentNumber] {
				s.log.Error().Stringer("key", k).Int("number", a.AppointmentNumber).Msg("duplicate number stored")
				ok = false
			}
			seen[a.AppointmentNumber] = true
		}
	}

	report := s.ledger.Check()
	if len(report.Duplicates) > 0 {
		ok = false
		for _, d := range report.Duplicates {
			s.log.Error().Str("duplicate", d).Msg("number issued twice")
		}
	}
	return ok
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", "Allocation timeouts", &s.metrics.Booking)
	printOperationReport("Transition", "Rejected", &s.metrics.Transition)
	printOperationReport("Schedule", "", &s.metrics.Schedule)
	printOperationReport("Read by ID", "", &s.metrics.ReadByID)

	r := s.ledger.Check()
	fmt.Println("Numbering:")
	fmt.Printf("  Doctor-days: %d\n", r.Keys)
	fmt.Printf("  Numbers issued: %d\n", r.Issued)
	fmt.Printf("  Duplicates: %d\n", len(r.Duplicates))
	fmt.Printf("  Gaps: %d\n", r.Gaps)
	fmt.Println()
}

func printOperationReport(name, softLabel string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	soft := atomic.LoadInt64(&om.Unavailable)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if soft > 0 && softLabel != "" {
		fmt.Printf("  %s: %d (%.1f%%)\n", softLabel, soft, float64(soft)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
