package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rfalcao/conceptminer/internal/budget"
	"github.com/rfalcao/conceptminer/internal/dispatch"
	"github.com/rfalcao/conceptminer/internal/domain"
	"github.com/rfalcao/conceptminer/internal/extract"
	"github.com/rfalcao/conceptminer/internal/gate"
	httpserver "github.com/rfalcao/conceptminer/internal/http"
	"github.com/rfalcao/conceptminer/internal/http/handlers"
	"github.com/rfalcao/conceptminer/internal/provider"
	"github.com/rfalcao/conceptminer/internal/queue"
	"github.com/rfalcao/conceptminer/internal/repository"
	"github.com/rfalcao/conceptminer/internal/route"
	"github.com/rfalcao/conceptminer/internal/segment"
	"github.com/rfalcao/conceptminer/internal/service"
	"github.com/rfalcao/conceptminer/internal/supervisor"
	"github.com/rfalcao/conceptminer/internal/worker"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchmarkEnv struct {
	server *httptest.Server
	cancel context.CancelFunc
}

const sampleDocument = `Kafka Streams joins Apache Flink alongside Spark Structured Streaming plus Redis Gears near Iceberg Tables and Debezium Connectors.

Our platform pairs Postgres Logical Replication with Vector Indexes beside Raft Consensus under Write-Ahead Logging and Merkle Trees everywhere.`

func main() {
	documentsTotal := flag.Int("documents-total", 240, "total document submissions")
	documentsConcurrency := flag.Int("documents-concurrency", 24, "concurrency for document submissions")
	statusTotal := flag.Int("status-total", 160, "total job status lookups")
	statusConcurrency := flag.Int("status-concurrency", 20, "concurrency for job status lookups")
	outputPath := flag.String("output", "", "optional path to persist benchmark results JSON")
	flag.Parse()

	env, err := startBenchmarkEnvironment()
	if err != nil {
		log.Fatalf("failed to start local benchmark environment: %v", err)
	}
	defer env.cancel()
	defer env.server.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	var idCounter int64

	var jobIDMu sync.Mutex
	jobIDs := make([]string, 0, *documentsTotal)

	documentsScenario := runScenario("documents_enqueue", *documentsTotal, *documentsConcurrency, func(index int) error {
		requestID := atomic.AddInt64(&idCounter, 1)
		payload := map[string]any{
			"tenant_id":   "default",
			"document_id": fmt.Sprintf("doc-%d", index%40),
			"text":        sampleDocument,
			"background":  index%4 == 0,
		}
		headers := map[string]string{
			"Idempotency-Key": fmt.Sprintf("doc-%d-%d", requestID, time.Now().UnixNano()),
		}
		body, err := postJSON(client, env.server.URL+"/v1/documents", payload, headers, http.StatusAccepted)
		if err != nil {
			return err
		}
		if jobID, _ := body["job_id"].(string); jobID != "" {
			jobIDMu.Lock()
			jobIDs = append(jobIDs, jobID)
			jobIDMu.Unlock()
		}
		return nil
	})

	statusScenario := runScenario("job_status", *statusTotal, *statusConcurrency, func(index int) error {
		jobIDMu.Lock()
		if len(jobIDs) == 0 {
			jobIDMu.Unlock()
			return fmt.Errorf("no jobs submitted")
		}
		jobID := jobIDs[index%len(jobIDs)]
		jobIDMu.Unlock()
		return getJSON(client, env.server.URL+"/v1/jobs/"+jobID, http.StatusOK)
	})

	results := []scenarioResult{documentsScenario, statusScenario}
	slo := map[string]bool{
		"documents_enqueue_p95_le_500ms": documentsScenario.P95MS <= 500,
		"job_status_p95_le_200ms":        statusScenario.P95MS <= 200,
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        results,
		SLOEvaluation:  slo,
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("failed to marshal benchmark report: %v", err)
	}

	if *outputPath != "" {
		if err := os.WriteFile(*outputPath, encoded, 0o644); err != nil {
			log.Fatalf("failed to write output file: %v", err)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, string(encoded))
}

func startBenchmarkEnvironment() (*benchmarkEnv, error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	repo := repository.NewMemoryJobsRepository()
	localQueue := queue.NewLocalQueue(4096, 3, logger)

	ledger := budget.NewLedger(nil, budget.Config{
		PerDocCaps:  map[domain.Tier]int{domain.TierSmall: 200, domain.TierBig: 100},
		DailyQuotas: map[domain.Tier]int{domain.TierSmall: 100000, domain.TierBig: 50000},
	}, logger)
	dispatcher := dispatch.NewDispatcher(provider.NewStubProvider(),
		[]domain.Tier{domain.TierSmall, domain.TierBig}, dispatch.Config{MaxInFlight: 32}, logger)
	extractor := extract.NewExtractor(
		route.NewRouter(route.Config{}), ledger, dispatcher, nil, extract.Config{MaxParallel: 8}, logger)
	qualityGate := gate.NewGate(gate.Config{Profile: gate.ProfilePermissive}, nil, logger)
	segmenter := segment.NewTextSegmenter(segment.TextSegmenterConfig{})

	engine, err := supervisor.NewEngine(supervisor.Config{}, supervisor.Dependencies{
		Segmenter: segmenter,
		Extractor: extractor,
		Gate:      qualityGate,
		Budget:    ledger,
		Logger:    logger,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	jobsService := service.NewJobsService(repo, localQueue)
	api := handlers.NewAPI(jobsService)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      "",
		RateLimitRPS:   20000,
		RateLimitBurst: 20000,
	})

	processor := worker.NewProcessor(localQueue, repo, engine, logger)
	go processor.Start(ctx)

	server := httptest.NewServer(router)
	return &benchmarkEnv{
		server: server,
		cancel: func() {
			cancel()
			dispatcher.Close()
		},
	}, nil
}

func runScenario(
	name string,
	total int,
	concurrency int,
	requestFn func(index int) error,
) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{
					durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0,
				}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	errorsCount := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func postJSON(
	client *http.Client,
	url string,
	payload any,
	headers map[string]string,
	expectedStatus int,
) (map[string]any, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if response.StatusCode != expectedStatus {
		return nil, fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(raw))
	}

	var decoded map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &decoded)
	}
	return decoded, nil
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
