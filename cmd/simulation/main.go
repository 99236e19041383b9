package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/greencycle/ewaste-auction/internal/auction"
	"github.com/greencycle/ewaste-auction/internal/auth"
	"github.com/greencycle/ewaste-auction/internal/database"
	"github.com/greencycle/ewaste-auction/internal/ledger"
	"github.com/greencycle/ewaste-auction/internal/notify"
	"github.com/greencycle/ewaste-auction/internal/sweeper"
	"github.com/greencycle/ewaste-auction/internal/types"
	"github.com/greencycle/ewaste-auction/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	numAuctions   = 8
	numVendors    = 6
	bidsPerVendor = 5
	serverAddress = "http://localhost:8080"
	jwtSecret     = "simulation-secret"
)

var itemRefs = []string{
	"ITEM_laptop_batch", "ITEM_crt_monitors", "ITEM_server_rack",
	"ITEM_mixed_boards", "ITEM_phone_pallet", "ITEM_ups_units",
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the auction API
type simulationClient struct {
	baseURL       string
	operatorToken string
	vendorTokens  map[string]string // vendor ID -> JWT
	client        *http.Client
	stats         map[string]*routeStats
	statsMu       sync.Mutex
}

// newSimulationClient creates and initializes a new simulation client.
// It authenticates the operator and every simulated vendor up front.
func newSimulationClient(authService *auth.Service) (*simulationClient, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL:      serverAddress,
		client:       client,
		vendorTokens: make(map[string]string),
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"create":  {name: "Create Auction"},
			"bid":     {name: "Submit Proxy Bid"},
			"view":    {name: "Get Auction"},
			"history": {name: "Bid History"},
			"sweep":   {name: "Sweep"},
		},
	}

	token, err := sc.authenticate("operator-key", "operator-secret")
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate operator: %w", err)
	}
	sc.operatorToken = token

	for i := 0; i < numVendors; i++ {
		vendorID := fmt.Sprintf("VENDOR_%d", i)
		apiKey := fmt.Sprintf("vendor-key-%d", i)
		apiSecret := fmt.Sprintf("vendor-secret-%d", i)
		authService.RegisterVendor(apiKey, apiSecret, vendorID)

		token, err := sc.authenticate(apiKey, apiSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to authenticate %s: %w", vendorID, err)
		}
		sc.vendorTokens[vendorID] = token
	}

	return sc, nil
}

func (sc *simulationClient) record(route string, start time.Time, failed bool) {
	sc.statsMu.Lock()
	defer sc.statsMu.Unlock()
	sc.stats[route].addDuration(time.Since(start))
	if failed {
		sc.stats[route].failures++
	}
}

// authenticate exchanges API credentials for a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("auth", start, failed) }()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		failed = true
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		failed = true
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		failed = true
		return "", err
	}

	return result.Data.Token, nil
}

// createAuction seeds a new auction through the internal API
// Returns the auction ID on success
func (sc *simulationClient) createAuction(itemRef string, startingPrice, increment float64, endTime time.Time) (string, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("create", start, failed) }()

	params := map[string]interface{}{
		"item_ref":          itemRef,
		"starting_price":    startingPrice,
		"minimum_increment": increment,
		"end_time":          endTime,
	}

	body, err := json.Marshal(params)
	if err != nil {
		failed = true
		return "", err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/internal/auctions", sc.baseURL),
		bytes.NewBuffer(body),
	)
	if err != nil {
		failed = true
		return "", err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.operatorToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		failed = true
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		failed = true
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Create auction response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return "", fmt.Errorf("create auction failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool              `json:"success"`
		Data    types.AuctionView `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		failed = true
		return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	if result.Data.AuctionID == "" {
		failed = true
		return "", fmt.Errorf("no auction ID in response: %s", string(respBody))
	}

	return result.Data.AuctionID, nil
}

// submitBid submits a proxy ceiling for a vendor
// Returns the resulting receipt; rejected bids return an error with the response body
func (sc *simulationClient) submitBid(vendorID, auctionID string, ceiling float64) (*types.BidReceipt, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("bid", start, failed) }()

	body, err := json.Marshal(map[string]float64{"max_ceiling": ceiling})
	if err != nil {
		failed = true
		return nil, err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/auctions/%s/bids", sc.baseURL, auctionID),
		bytes.NewBuffer(body),
	)
	if err != nil {
		failed = true
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.vendorTokens[vendorID]))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		failed = true
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		failed = true
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Submit bid response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return nil, fmt.Errorf("submit bid failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool             `json:"success"`
		Data    types.BidReceipt `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		failed = true
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// getAuction retrieves the public view of an auction
func (sc *simulationClient) getAuction(auctionID string) (*types.AuctionView, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("view", start, failed) }()

	resp, err := sc.client.Get(fmt.Sprintf("%s/api/v1/auctions/%s", sc.baseURL, auctionID))
	if err != nil {
		failed = true
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		failed = true
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		failed = true
		return nil, fmt.Errorf("get auction failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool              `json:"success"`
		Data    types.AuctionView `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		failed = true
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// getBidHistory retrieves the public ledger of an auction
func (sc *simulationClient) getBidHistory(auctionID string) ([]types.BidView, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("history", start, failed) }()

	resp, err := sc.client.Get(fmt.Sprintf("%s/api/v1/auctions/%s/bids", sc.baseURL, auctionID))
	if err != nil {
		failed = true
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		failed = true
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		failed = true
		return nil, fmt.Errorf("get bid history failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool            `json:"success"`
		Data    []types.BidView `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		failed = true
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return result.Data, nil
}

// triggerSweep runs one sweep pass through the internal API
func (sc *simulationClient) triggerSweep() (*sweeper.Result, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("sweep", start, failed) }()

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s/api/v1/internal/sweep", sc.baseURL),
		nil,
	)
	if err != nil {
		failed = true
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.operatorToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		failed = true
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		failed = true
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Msg("Sweep response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return nil, fmt.Errorf("sweep failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool           `json:"success"`
		Data    sweeper.Result `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		failed = true
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the auction simulation: it seeds auctions, races vendor
// proxy ceilings against each other from concurrent workers, then
// sweeps the finished auctions and prints the outcome.
func main() {
	authService := auth.NewService(jwtSecret)
	authService.RegisterOperator("operator-key", "operator-secret", "operator-sim")

	// Start the server in a goroutine
	go func() {
		if err := startServer(authService); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient(authService)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Seed auctions: half end almost immediately so the sweep has work.
	var auctionIDs []string
	for i := 0; i < numAuctions; i++ {
		endTime := time.Now().Add(time.Hour)
		if i%2 == 0 {
			endTime = time.Now().Add(5 * time.Second)
		}
		startingPrice := float64(rand.Intn(400) + 100)
		increment := float64(rand.Intn(20) + 5)

		auctionID, err := simClient.createAuction(
			itemRefs[rand.Intn(len(itemRefs))], startingPrice, increment, endTime)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create auction")
			continue
		}
		auctionIDs = append(auctionIDs, auctionID)
		log.Info().
			Str("auction_id", auctionID).
			Float64("starting_price", startingPrice).
			Float64("increment", increment).
			Time("end_time", endTime).
			Msg("Auction created")
	}

	if len(auctionIDs) == 0 {
		log.Fatal().Msg("No auctions created, aborting simulation")
	}

	stats := struct {
		AcceptedBids int
		RejectedBids int
		StartTime    time.Time
		mu           sync.Mutex
	}{StartTime: time.Now()}

	// Race vendors against each other: every vendor raises random
	// ceilings across random auctions from its own goroutine.
	var wg sync.WaitGroup
	for vendorID := range simClient.vendorTokens {
		wg.Add(1)
		go func(vendorID string) {
			defer wg.Done()
			for i := 0; i < bidsPerVendor; i++ {
				auctionID := auctionIDs[rand.Intn(len(auctionIDs))]
				ceiling := float64(rand.Intn(900) + 100)

				receipt, err := simClient.submitBid(vendorID, auctionID, ceiling)
				if err != nil {
					stats.mu.Lock()
					stats.RejectedBids++
					stats.mu.Unlock()
					log.Warn().
						Str("vendor_id", vendorID).
						Str("auction_id", auctionID).
						Float64("ceiling", ceiling).
						Msg("Bid rejected")
					continue
				}

				stats.mu.Lock()
				stats.AcceptedBids++
				stats.mu.Unlock()
				log.Info().
					Str("vendor_id", vendorID).
					Str("auction_id", auctionID).
					Str("leader", receipt.Auction.CurrentLeader).
					Float64("current_price", receipt.Auction.CurrentPrice).
					Msg("Bid accepted")

				// Random sleep between bids
				time.Sleep(time.Duration(rand.Intn(300)) * time.Millisecond)
			}
		}(vendorID)
	}
	wg.Wait()

	// Let the short auctions pass their end time, then sweep.
	time.Sleep(6 * time.Second)
	sweepResult, err := simClient.triggerSweep()
	if err != nil {
		log.Fatal().Err(err).Msg("Sweep failed")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("AUCTION SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Bid Statistics
--------------
Accepted Bids:   %d
Rejected Bids:   %d
Swept:           %d (closed %d, unsold %d, contended %d)
Duration:        %v

Auction Outcomes
----------------
`, stats.AcceptedBids, stats.RejectedBids,
		sweepResult.Scanned, sweepResult.Closed, sweepResult.ExpiredUnsold, sweepResult.Contended,
		duration.Round(time.Millisecond))

	for _, auctionID := range auctionIDs {
		view, err := simClient.getAuction(auctionID)
		if err != nil {
			log.Error().Err(err).Str("auction_id", auctionID).Msg("Failed to fetch final view")
			continue
		}
		history, err := simClient.getBidHistory(auctionID)
		if err != nil {
			log.Error().Err(err).Str("auction_id", auctionID).Msg("Failed to fetch bid history")
			continue
		}

		bar := strings.Repeat("#", len(history))
		leader := view.CurrentLeader
		if leader == "" {
			leader = "-"
		}
		fmt.Printf("%-44s %-15s %-10s $%-8.2f %s (%d bids)\n",
			view.AuctionID, view.Status, leader, view.CurrentPrice, bar, len(history))
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("accepted_bids", stats.AcceptedBids).
		Int("rejected_bids", stats.RejectedBids).
		Int("auctions_swept", sweepResult.Scanned).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// startServer initializes and starts the auction API server
// Sets up all required services, handlers and routes
func startServer(authService *auth.Service) error {
	// Initialize database
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	dispatcher := notify.NewDispatcher(notify.LogSink{}, 256)
	// Dispatcher drains for the lifetime of the simulation process.
	go dispatcher.Start(context.Background())

	// Initialize services
	auctionService := auction.NewService(db, dispatcher)
	ledgerService := ledger.NewService(db)
	sweepProcessor := sweeper.NewProcessor(db, dispatcher, time.Minute)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	auctionHandlers := auction.NewGinHandlers(auctionService)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)
	sweepHandlers := sweeper.NewGinHandlers(sweepProcessor)

	// Setup routes
	setupRoutes(router, authHandlers, auctionHandlers, ledgerHandlers, sweepHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	auctionHandlers *auction.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	sweepHandlers *sweeper.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Auction routes
		auctions := v1.Group("/auctions")
		{
			auctions.GET("/:auction_id", auctionHandlers.GetAuctionHandler())
			auctions.GET("/:auction_id/bids", ledgerHandlers.ListBidHistoryHandler())
			auctions.POST("/:auction_id/bids", middleware.JWTAuth(jwtSecret), auctionHandlers.SubmitBidHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/sweep", sweepHandlers.SweepHandler())
			internal.POST("/auctions", auctionHandlers.CreateAuctionHandler())
		}
	}
}
