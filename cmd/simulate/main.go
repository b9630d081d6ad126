package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hackgods/consultation-scheduling/internal/api"
	"github.com/hackgods/consultation-scheduling/internal/appointment"
	"github.com/hackgods/consultation-scheduling/internal/caltime"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/logging"
	"github.com/hackgods/consultation-scheduling/internal/storage"
)

type SimConfig struct {
	APIBaseURL string
	Slots      int     // slots raced over
	Contenders int     // concurrent bookings per slot
	RPS        float64 // overall request rate
	DaysAhead  int     // first day slots are opened on
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
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

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

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	CreateSlot OperationMetrics
	Booking    OperationMetrics
	ReadByID   OperationMetrics
	Cancel     OperationMetrics
}

type Simulator struct {
	config     SimConfig
	client     *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	topic      uuid.UUID
	consultant uuid.UUID
	metrics    Metrics

	mu      sync.Mutex
	winners map[uuid.UUID][]uuid.UUID // slot id -> appointments created on it
}

func main() {
	base, err := config.Load()
	if err != nil {
		slog.Error("config load error", "error", err)
		os.Exit(1)
	}
	logger := logging.New(base.Log, "simulate", base.Env, base.Version)

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	topic, consultant, err := prepareDirectory(ctx, base, logger)
	if err != nil {
		logger.Error("prepare directory", "error", err)
		os.Exit(1)
	}

	sim := &Simulator{
		config:     cfg,
		client:     &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Contenders),
		logger:     logger,
		topic:      topic,
		consultant: consultant,
		winners:    make(map[uuid.UUID][]uuid.UUID),
	}

	violations := sim.Run(ctx)
	sim.PrintReport(violations)
	if violations > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL: strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Slots:      getInt("SIM_SLOTS", 50),
		Contenders: getInt("SIM_CONTENDERS", 8),
		RPS:        getFloat("SIM_RPS", 200),
		DaysAhead:  getInt("SIM_DAYS_AHEAD", 30),
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Slots <= 0 {
		return fmt.Errorf("SIM_SLOTS must be > 0")
	}
	if cfg.Contenders < 2 {
		return fmt.Errorf("SIM_CONTENDERS must be >= 2")
	}
	if cfg.RPS <= 0 {
		return fmt.Errorf("SIM_RPS must be > 0")
	}
	return nil
}

// prepareDirectory creates the topic and consultant the simulated bookings
// use, directly in the store the API server reads.
func prepareDirectory(ctx context.Context, cfg config.Config, logger *slog.Logger) (topicID, consultantID uuid.UUID, err error) {
	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	defer store.Close()

	suffix := uuid.NewString()[:8]
	topic := &appointment.Topic{Name: "Load test " + suffix, Active: true}
	if err := store.Directory.CreateTopic(ctx, topic); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	consultant := &appointment.User{
		FullName: "Load Test Consultant",
		Email:    "loadtest-" + suffix + "@example.com",
		Role:     appointment.RoleConsultant,
		Enabled:  true,
	}
	if err := store.Directory.CreateUser(ctx, consultant); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return topic.ID, consultant.ID, nil
}

// Run opens the slots, races Contenders bookings on each and cancels the
// winners. It returns the number of slots that ended up double booked.
func (s *Simulator) Run(ctx context.Context) int {
	start := caltime.DateOf(time.Now()).AddDays(s.config.DaysAhead)

	var slots []uuid.UUID
	for i := 0; i < s.config.Slots; i++ {
		date := start.AddDays(i / 10)
		hour := 8 + i%10
		id, ok := s.createSlot(ctx, date, hour)
		if ok {
			slots = append(slots, id)
		}
	}
	s.logger.Info("slots opened", "count", len(slots))

	var wg sync.WaitGroup
	for i, slotID := range slots {
		for c := 0; c < s.config.Contenders; c++ {
			wg.Add(1)
			go func(slotID uuid.UUID, email string) {
				defer wg.Done()
				s.doBooking(ctx, slotID, email)
			}(slotID, fmt.Sprintf("guest-%d-%d@example.com", i, c))
		}
	}
	wg.Wait()

	violations := 0
	for slotID, appts := range s.winners {
		if len(appts) > 1 {
			violations++
			s.logger.Error("slot double booked", "slot_id", slotID, "appointments", len(appts))
		}
		for _, id := range appts {
			s.doReadByID(ctx, id)
		}
	}

	for _, appts := range s.winners {
		for _, id := range appts {
			s.doCancel(ctx, id)
		}
	}
	return violations
}

func (s *Simulator) createSlot(ctx context.Context, date caltime.Date, hour int) (uuid.UUID, bool) {
	var slot api.SlotResponse
	status, latency, err := s.send(ctx, http.MethodPost, "/slots", api.CreateSlotRequest{
		ConsultantID: s.consultant.String(),
		Date:         date.String(),
		StartTime:    caltime.NewTimeOfDay(hour, 0).String(),
		EndTime:      caltime.NewTimeOfDay(hour+1, 0).String(),
	}, &slot)
	ok := err == nil && status == http.StatusCreated
	s.metrics.CreateSlot.Record(latency, ok, status == http.StatusConflict)
	return slot.ID, ok
}

func (s *Simulator) doBooking(ctx context.Context, slotID uuid.UUID, email string) {
	var appt api.AppointmentResponse
	status, latency, err := s.send(ctx, http.MethodPost, "/appointments", api.CreateAppointmentRequest{
		CustomerName: "Load Test Guest",
		Email:        email,
		TopicID:      s.topic.String(),
		SlotID:       slotID.String(),
	}, &appt)

	success := err == nil && status == http.StatusCreated
	s.metrics.Booking.Record(latency, success, status == http.StatusConflict)
	if !success {
		return
	}

	s.mu.Lock()
	s.winners[slotID] = append(s.winners[slotID], appt.ID)
	s.mu.Unlock()
}

func (s *Simulator) doReadByID(ctx context.Context, id uuid.UUID) {
	status, latency, err := s.send(ctx, http.MethodGet, "/appointments/"+id.String(), nil, nil)
	s.metrics.ReadByID.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doCancel(ctx context.Context, id uuid.UUID) {
	status, latency, err := s.send(ctx, http.MethodPut, "/appointments/"+id.String()+"/cancel/consultant",
		api.CancelByConsultantRequest{ConsultantID: s.consultant.String(), Reason: "load test"}, nil)
	s.metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

// send waits for the limiter, issues one JSON request and decodes a 2xx body
// into out when it is non-nil.
func (s *Simulator) send(ctx context.Context, method, path string, body, out any) (int, time.Duration, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, 0, err
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, &buf)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
	}
	return resp.StatusCode, latency, nil
}

func (s *Simulator) PrintReport(violations int) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Slots: %d\n", s.config.Slots)
	fmt.Printf("Contenders per slot: %d\n", s.config.Contenders)
	fmt.Printf("Double-booked slots: %d\n", violations)
	fmt.Println()

	printOperationReport("Create slot", &s.metrics.CreateSlot)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("Cancel", &s.metrics.Cancel)
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

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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
