package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s: %s", e.Status, e.Code, e.Message)
}

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{baseURL: baseURL, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

// do sends body as JSON and decodes a successful response into out.
func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var payload struct {
			Error APIError `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		payload.Error.Status = resp.StatusCode
		return &payload.Error
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *apiClient) login(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"username": username, "password": password}, &resp); err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

type entity struct {
	ID string `json:"id"`
}

type workOrder struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	TotalCost *decimal.Decimal `json:"total_cost,omitempty"`
}

type partSpec struct {
	PartNumber string
	Name       string
	UnitCost   string
}

var partCatalog = []partSpec{
	{"FLT-100", "Oil filter", "12.50"},
	{"FLT-200", "Air filter", "18.00"},
	{"BLT-310", "Drive belt", "42.75"},
	{"HYD-040", "Hydraulic hose", "65.20"},
	{"BRK-220", "Brake pad set", "88.00"},
	{"LUB-005", "Grease cartridge", "4.30"},
}

var (
	assetKinds     = []string{"Excavator", "Loader", "Forklift", "Generator", "Truck", "Compressor"}
	workOrderTypes = []string{"CORRECTIVE", "PREVENTIVE", "INSPECTION"}
	priorities     = []string{"LOW", "MEDIUM", "HIGH", "URGENT"}
	faults         = []string{"Hydraulic leak", "Engine overheating", "Brake wear", "Scheduled service", "Unusual vibration", "Electrical fault"}
)

// Simulator drives maintenance work through the API.
type Simulator struct {
	client     *apiClient
	cancelRate float64
	restockQty decimal.Decimal

	mu    sync.Mutex
	rng   *rand.Rand
	parts []string
}

// NewSimulator returns a simulator using client. seed makes runs repeatable.
func NewSimulator(client *apiClient, seed int64) *Simulator {
	return &Simulator{
		client:     client,
		cancelRate: 0.1,
		restockQty: decimal.NewFromInt(50),
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

func (s *Simulator) chance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) pick(items []string) string {
	return items[s.intn(len(items))]
}

// SeedCatalog creates the spare parts used by the simulated work.
func (s *Simulator) SeedCatalog(ctx context.Context, runID string) error {
	for _, p := range partCatalog {
		var created entity
		err := s.client.do(ctx, http.MethodPost, "/spare-parts", map[string]string{
			"part_number":      p.PartNumber + "-" + runID,
			"name":             p.Name,
			"unit_cost":        p.UnitCost,
			"quantity_on_hand": s.restockQty.String(),
		}, &created)
		if err != nil {
			return fmt.Errorf("failed to create spare part %s: %w", p.PartNumber, err)
		}
		s.parts = append(s.parts, created.ID)
	}
	log.WithField("parts", len(s.parts)).Info("Created spare parts")
	return nil
}

// CreateAsset registers an asset with a time based maintenance schedule and
// returns their ids.
func (s *Simulator) CreateAsset(ctx context.Context, code string) (assetID, scheduleID string, err error) {
	kind := s.pick(assetKinds)
	var asset entity
	if err := s.client.do(ctx, http.MethodPost, "/assets", map[string]string{
		"code":     code,
		"name":     kind + " " + code,
		"category": "machine",
	}, &asset); err != nil {
		return "", "", fmt.Errorf("failed to create asset: %w", err)
	}

	var schedule entity
	if err := s.client.do(ctx, http.MethodPost, "/maintenance-schedules", map[string]interface{}{
		"asset_id":      asset.ID,
		"name":          kind + " service",
		"type":          "TIME_BASED",
		"interval_days": 30 + 30*s.intn(3),
	}, &schedule); err != nil {
		return "", "", fmt.Errorf("failed to create schedule: %w", err)
	}

	log.WithFields(log.Fields{
		"asset_id":    asset.ID,
		"code":        code,
		"kind":        kind,
		"schedule_id": schedule.ID,
	}).Info("Created asset")
	return asset.ID, schedule.ID, nil
}

// RunCycle raises one work order against the asset and drives it to a
// terminal state.
func (s *Simulator) RunCycle(ctx context.Context, assetID, scheduleID string) (*workOrder, error) {
	woType := s.pick(workOrderTypes)
	req := map[string]interface{}{
		"asset_id":    assetID,
		"type":        woType,
		"priority":    s.pick(priorities),
		"description": s.pick(faults),
	}
	if woType == "PREVENTIVE" {
		req["schedule_id"] = scheduleID
	}

	var wo workOrder
	if err := s.client.do(ctx, http.MethodPost, "/work-orders", req, &wo); err != nil {
		return nil, fmt.Errorf("failed to create work order: %w", err)
	}
	path := "/work-orders/" + wo.ID
	if err := s.client.do(ctx, http.MethodPatch, path+"/start", nil, &wo); err != nil {
		return nil, fmt.Errorf("failed to start work order: %w", err)
	}

	if s.chance() < s.cancelRate {
		if err := s.client.do(ctx, http.MethodPatch, path+"/cancel", nil, &wo); err != nil {
			return nil, fmt.Errorf("failed to cancel work order: %w", err)
		}
		log.WithFields(log.Fields{"work_order_id": wo.ID, "asset_id": assetID}).Info("Cancelled work order")
		return &wo, nil
	}

	for i, n := 0, 1+s.intn(3); i < n && len(s.parts) > 0; i++ {
		if err := s.consume(ctx, wo.ID, s.pick(s.parts)); err != nil {
			return nil, err
		}
	}

	labor := decimal.NewFromFloat(40 + s.chance()*200).Round(2)
	downtime := float64(1+s.intn(16)) / 2
	if err := s.client.do(ctx, http.MethodPatch, path+"/complete", map[string]interface{}{
		"labor_cost":     labor.StringFixed(2),
		"downtime_hours": downtime,
	}, &wo); err != nil {
		return nil, fmt.Errorf("failed to complete work order: %w", err)
	}

	fields := log.Fields{"work_order_id": wo.ID, "asset_id": assetID, "type": woType}
	if wo.TotalCost != nil {
		fields["total_cost"] = wo.TotalCost.StringFixed(2)
	}
	log.WithFields(fields).Info("Completed work order")
	return &wo, nil
}

// consume records a part usage, restocking the part once when the API
// reports insufficient stock.
func (s *Simulator) consume(ctx context.Context, workOrderID, partID string) error {
	body := map[string]string{
		"spare_part_id": partID,
		"quantity_used": strconv.Itoa(1 + s.intn(3)),
	}
	path := "/work-orders/" + workOrderID + "/consume-part"
	err := s.client.do(ctx, http.MethodPost, path, body, nil)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity {
		log.WithField("spare_part_id", partID).Warn("Restocking spare part")
		if err := s.client.do(ctx, http.MethodPatch, "/spare-parts/"+partID,
			map[string]string{"quantity_on_hand": s.restockQty.String()}, nil); err != nil {
			return fmt.Errorf("failed to restock spare part: %w", err)
		}
		err = s.client.do(ctx, http.MethodPost, path, body, nil)
	}
	if err != nil {
		return fmt.Errorf("failed to consume part: %w", err)
	}
	return nil
}

func (s *Simulator) simulateAsset(ctx context.Context, assetID, scheduleID string, interval time.Duration) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		if _, err := s.RunCycle(ctx, assetID, scheduleID); err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("asset_id", assetID).Error("Work order cycle failed")
		}
	}
}

func main() {
	fleetSize := 5
	if val := os.Getenv("FLEET_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			fleetSize = n
		}
	}

	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}

	interval := 5 * time.Second
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			interval = time.Duration(n) * time.Second
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newAPIClient(apiURL, os.Getenv("SIM_AUTH_TOKEN"))
	if client.token == "" {
		if err := client.login(ctx, os.Getenv("SIM_USERNAME"), os.Getenv("SIM_PASSWORD")); err != nil {
			log.WithError(err).Fatal("Login failed. Set SIM_AUTH_TOKEN or SIM_USERNAME and SIM_PASSWORD for a manager account")
		}
	}

	log.WithFields(log.Fields{
		"fleet_size": fleetSize,
		"api_url":    apiURL,
		"interval":   interval,
	}).Info("Starting maintenance simulation")

	seed := time.Now().UnixNano()
	sim := NewSimulator(client, seed)
	runID := strconv.FormatInt(seed%0xfffff, 16)
	if err := sim.SeedCatalog(ctx, runID); err != nil {
		log.WithError(err).Fatal("Failed to seed spare parts")
	}

	var wg sync.WaitGroup
	for i := 0; i < fleetSize; i++ {
		assetID, scheduleID, err := sim.CreateAsset(ctx, fmt.Sprintf("SIM-%s-%02d", runID, i+1))
		if err != nil {
			log.WithError(err).Error("Failed to create asset")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.simulateAsset(ctx, assetID, scheduleID, interval)
		}()
	}

	log.Info("Maintenance simulation started")
	<-ctx.Done()
	wg.Wait()
	log.Info("Maintenance simulation stopped")
}
