package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Salad109/medical-office-manager/internal/appointment"
	"github.com/Salad109/medical-office-manager/internal/auth"
	"github.com/Salad109/medical-office-manager/internal/config"
	"github.com/Salad109/medical-office-manager/internal/db"
	"github.com/Salad109/medical-office-manager/internal/identity"
	"github.com/Salad109/medical-office-manager/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	RaceWorkers  int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	PatientLimit int
	DaysAhead    int
}

type DataPool struct {
	Patients []int64
	Doctors  []int64
	Staff    []int64

	mu           sync.RWMutex
	appointments []bookedAppointment
}

type bookedAppointment struct {
	ID   int64
	Date civil.Date
}

func (dp *DataPool) AddAppointment(a bookedAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (bookedAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return bookedAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	BookRace     OperationMetrics
	CompleteRace OperationMetrics
	Booking      OperationMetrics
	Cancel       OperationMetrics
	ReadByID     OperationMetrics
	ListByDay    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	tokens  *auth.Tokens
	grid    []civil.Time
	today   civil.Date
	log     zerolog.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load base config:", err)
		os.Exit(1)
	}
	log := logging.New(logging.Options{Level: baseCfg.LogLevel, Pretty: true, Service: "simulate"})

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("race_workers", cfg.RaceWorkers).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().
		Int("patients", len(dataPool.Patients)).
		Int("doctors", len(dataPool.Doctors)).
		Int("staff", len(dataPool.Staff)).
		Msg("loaded users")

	hours := appointment.OfficeHours{Open: baseCfg.OfficeOpen, Close: baseCfg.OfficeClose, Step: baseCfg.SlotLength}
	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		tokens: auth.NewTokens(baseCfg.JWTSecret, baseCfg.JWTIssuer, time.Hour),
		grid:   hours.Grid(),
		today:  civil.DateOf(time.Now().In(baseCfg.Location())),
		log:    log,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		RaceWorkers:  getInt("SIM_RACE_WORKERS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.4),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		DaysAhead:    getInt("SIM_DAYS_AHEAD", 60),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.RaceWorkers < 2 {
		return fmt.Errorf("SIM_RACE_WORKERS must be >= 2")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id, role FROM users
		WHERE role <> 'PATIENT'
		   OR id IN (SELECT id FROM users WHERE role = 'PATIENT' ORDER BY id LIMIT $1)
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var role identity.Role
		if err := rows.Scan(&id, &role); err != nil {
			return nil, err
		}
		switch role {
		case identity.RolePatient:
			dataPool.Patients = append(dataPool.Patients, id)
		case identity.RoleDoctor:
			dataPool.Doctors = append(dataPool.Doctors, id)
		case identity.RoleStaff:
			dataPool.Staff = append(dataPool.Staff, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run seed first")
	}
	if len(dataPool.Doctors) == 0 || len(dataPool.Staff) == 0 {
		return nil, fmt.Errorf("need at least one doctor and one staff account, run seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	s.raceBooking(rng)
	s.raceCompletion(rng)

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting mixed load")

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

func (s *Simulator) randomSlot(rng *rand.Rand) (civil.Date, civil.Time) {
	date := s.today.AddDays(1 + rng.Intn(s.config.DaysAhead))
	return date, s.grid[rng.Intn(len(s.grid))]
}

func (s *Simulator) token(id int64, role identity.Role) string {
	token, _, err := s.tokens.Issue(identity.Principal{UserID: id, Role: role})
	if err != nil {
		s.log.Fatal().Err(err).Msg("mint token")
	}
	return token
}

// race fires n copies of the same request at once, released together.
func (s *Simulator) race(n int, do func() (time.Duration, int)) []int {
	start := make(chan struct{})
	codes := make([]int, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, codes[i] = do()
		}(i)
	}
	close(start)
	wg.Wait()
	return codes
}

func (s *Simulator) raceBooking(rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	staffToken := s.token(s.pool.Staff[0], identity.RoleStaff)
	date, at := s.randomSlot(rng)

	var winner atomic.Int64
	codes := s.race(s.config.RaceWorkers, func() (time.Duration, int) {
		latency, code, id := s.book(context.Background(), staffToken, patientID, date, at)
		s.metrics.BookRace.Record(latency, code == http.StatusCreated, code == http.StatusConflict)
		if code == http.StatusCreated {
			winner.Store(id)
		}
		return latency, code
	})

	s.log.Info().
		Int64("patient_id", patientID).
		Str("slot", date.String()+" "+at.String()).
		Int("winners", count(codes, http.StatusCreated)).
		Int("conflicts", count(codes, http.StatusConflict)).
		Msg("booking race finished")

	if id := winner.Load(); id != 0 {
		s.pool.AddAppointment(bookedAppointment{ID: id, Date: date})
	}
}

func (s *Simulator) raceCompletion(rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		s.log.Warn().Msg("no appointment to race completions on")
		return
	}
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]
	doctorToken := s.token(doctorID, identity.RoleDoctor)
	url := fmt.Sprintf("%s/appointments/%d/visit", s.config.APIBaseURL, appt.ID)

	codes := s.race(s.config.RaceWorkers, func() (time.Duration, int) {
		latency, code := s.do(context.Background(), http.MethodPost, url, doctorToken, map[string]string{"notes": "simulated"}, nil)
		s.metrics.CompleteRace.Record(latency, code == http.StatusCreated, code == http.StatusConflict)
		return latency, code
	})

	s.log.Info().
		Int64("appointment_id", appt.ID).
		Int("winners", count(codes, http.StatusCreated)).
		Int("conflicts", count(codes, http.StatusConflict)).
		Msg("completion race finished")
}

func count(codes []int, want int) int {
	n := 0
	for _, c := range codes {
		if c == want {
			n++
		}
	}
	return n
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	staffToken := s.token(s.pool.Staff[workerID%len(s.pool.Staff)], identity.RoleStaff)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng, staffToken)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng, staffToken)
			default:
				if rng.Intn(2) == 0 {
					s.doReadByID(ctx, rng, staffToken)
				} else {
					s.doListByDay(ctx, rng, staffToken)
				}
			}
		}
	}
}

func (s *Simulator) book(ctx context.Context, token string, patientID int64, date civil.Date, at civil.Time) (time.Duration, int, int64) {
	reqBody := map[string]any{
		"patient_id":       patientID,
		"appointment_date": date.String(),
		"appointment_time": at.String(),
	}

	var apptResp struct {
		ID int64 `json:"id"`
	}
	latency, code := s.do(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", token, reqBody, &apptResp)
	return latency, code, apptResp.ID
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand, token string) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	date, at := s.randomSlot(rng)

	latency, code, id := s.book(ctx, token, patientID, date, at)
	if code == http.StatusCreated && id != 0 {
		s.pool.AddAppointment(bookedAppointment{ID: id, Date: date})
	}
	s.metrics.Booking.Record(latency, code == http.StatusCreated, code == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand, token string) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	url := fmt.Sprintf("%s/appointments/%d/cancel", s.config.APIBaseURL, appt.ID)
	latency, code := s.do(ctx, http.MethodPost, url, token, nil, nil)
	s.metrics.Cancel.Record(latency, code == http.StatusOK, code == http.StatusConflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand, token string) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	url := fmt.Sprintf("%s/appointments/%d", s.config.APIBaseURL, appt.ID)
	latency, code := s.do(ctx, http.MethodGet, url, token, nil, nil)
	s.metrics.ReadByID.Record(latency, code == http.StatusOK, false)
}

func (s *Simulator) doListByDay(ctx context.Context, rng *rand.Rand, token string) {
	date, _ := s.randomSlot(rng)
	url := fmt.Sprintf("%s/appointments?date=%s", s.config.APIBaseURL, date)
	latency, code := s.do(ctx, http.MethodGet, url, token, nil, nil)
	s.metrics.ListByDay.Record(latency, code == http.StatusOK, false)
}

// do sends one request and returns its latency and status code (0 on
// transport error). A 2xx body is decoded into out when out is non-nil.
func (s *Simulator) do(ctx context.Context, method, url, token string, body any, out any) (time.Duration, int) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, 0
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, 0
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", "sim-"+uuid.NewString())

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return latency, 0
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return latency, resp.StatusCode
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d (race: %d)\n", s.config.Workers, s.config.RaceWorkers)
	fmt.Println()

	printOperationReport("Booking race (one slot)", &s.metrics.BookRace)
	printOperationReport("Completion race (one appointment)", &s.metrics.CompleteRace)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Day", &s.metrics.ListByDay)

	for name, om := range map[string]*OperationMetrics{"booking": &s.metrics.BookRace, "completion": &s.metrics.CompleteRace} {
		if n := atomic.LoadInt64(&om.Success); n > 1 {
			fmt.Printf("WARNING: %s race produced %d winners\n", name, n)
		}
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
