package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	userIDHeader      = "x-user-id"
	idempotencyHeader = "Idempotency-Key"
	defaultPriceMinor = int64(1000)
	defaultQty        = 1
	transportError    = "transport_error"
)

type loadMode string

const (
	modeCheckout       loadMode = "checkout"
	modeCheckoutRedeem loadMode = "checkout-redeem"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	productID   string
	priceMinor  int64
	qty         int
	userTag     string
	outputPath  string
	verify      bool
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// verification сверяет число выпущенных купонов с числом заказов.
type verification struct {
	OrderCount     int64 `json:"order_count"`
	Threshold      int64 `json:"threshold"`
	DiscountCodes  int64 `json:"discount_codes"`
	ExpectedCodes  int64 `json:"expected_codes"`
	CouponsMinted  int64 `json:"coupons_minted_in_run"`
	CouponsApplied int64 `json:"coupons_redeemed_in_run"`
	OK             bool  `json:"ok"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Verification      *verification           `json:"verification,omitempty"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

// record учитывает вызов. code: HTTP-статус или transportError.
func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.methods[method]
	if !found {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods["scenario"]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "shop-service HTTP base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 1m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "max HTTP connections to the service")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: checkout | checkout-redeem")
	fs.StringVar(&cfg.productID, "product", "SKU-LOAD", "product id to put into carts")
	fs.Int64Var(&cfg.priceMinor, "price-minor", defaultPriceMinor, "item price in minor units")
	fs.IntVar(&cfg.qty, "qty", defaultQty, "item quantity per add-to-cart call (1..100)")
	fs.StringVar(&cfg.userTag, "user-tag", "load", "user id prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	fs.BoolVar(&cfg.verify, "verify", true, "compare discount codes with order count via admin API")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("addr is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.priceMinor <= 0:
		return cfg, errors.New("price-minor must be > 0")
	case cfg.qty < 1 || cfg.qty > 100:
		return cfg, errors.New("qty must be between 1 and 100")
	case strings.TrimSpace(cfg.productID) == "":
		return cfg, errors.New("product is required")
	case strings.TrimSpace(cfg.userTag) == "":
		return cfg, errors.New("user-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCheckout:
		return modeCheckout, nil
	case modeCheckoutRedeem:
		return modeCheckoutRedeem, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func newHTTPClient(cfg config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.connections
	transport.MaxIdleConnsPerHost = cfg.connections
	return &http.Client{Transport: transport, Timeout: cfg.timeout}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := run(context.Background(), cfg, newHTTPClient(cfg))

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || (result.Verification != nil && !result.Verification.OK) {
		os.Exit(1)
	}
}

// runner хранит общее для всех воркеров состояние прогона.
type runner struct {
	cfg    config
	client *http.Client
	runID  string
	col    *collector

	minted   atomic.Int64
	redeemed atomic.Int64
}

func run(ctx context.Context, cfg config, client *http.Client) report {
	startedAt := time.Now()
	r := &runner{
		cfg:    cfg,
		client: client,
		runID:  fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()),
		col:    newCollector(),
	}

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = r.runScenario(ctx, id)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := r.col.buildReport(startedAt, time.Since(startedAt))
	if cfg.verify {
		result.Verification = r.verify(ctx)
	}
	return result
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

type checkoutData struct {
	Order struct {
		ID           string `json:"id"`
		DiscountCode string `json:"discountCode"`
	} `json:"order"`
	GeneratedCoupon string `json:"generatedCoupon"`
}

// runScenario: положить товар в корзину и оформить заказ. В режиме checkout-redeem
// выпущенный купон сразу применяется к следующему заказу того же пользователя.
func (r *runner) runScenario(ctx context.Context, index int) (err error) {
	scenarioStart := time.Now()
	code := "ok"
	defer func() {
		if err != nil {
			code = "failed"
		}
		r.col.record("scenario", time.Since(scenarioStart), code, err == nil)
	}()

	userID := fmt.Sprintf("%s-%s-%d", r.cfg.userTag, r.runID, index)
	data, err := r.cartAndCheckout(ctx, userID, "", fmt.Sprintf("lt-checkout-%s-%d", r.runID, index))
	if err != nil {
		return err
	}
	if data.Order.ID == "" {
		return errors.New("checkout response returned empty order id")
	}
	if data.GeneratedCoupon == "" {
		return nil
	}
	r.minted.Add(1)

	if r.cfg.mode != modeCheckoutRedeem {
		return nil
	}
	redeemed, err := r.cartAndCheckout(ctx, userID, data.GeneratedCoupon, fmt.Sprintf("lt-redeem-%s-%d", r.runID, index))
	if err != nil {
		return err
	}
	if redeemed.Order.DiscountCode != data.GeneratedCoupon {
		return fmt.Errorf("order %s does not carry redeemed code", redeemed.Order.ID)
	}
	r.redeemed.Add(1)
	if redeemed.GeneratedCoupon != "" {
		r.minted.Add(1)
	}
	return nil
}

func (r *runner) cartAndCheckout(ctx context.Context, userID, code, key string) (checkoutData, error) {
	var data checkoutData

	addBody := map[string]any{"productId": r.cfg.productID, "quantity": r.cfg.qty, "price": r.cfg.priceMinor}
	if err := r.call(ctx, "AddToCart", http.MethodPost, "/api/cart/add", userID, "", addBody, http.StatusOK, nil); err != nil {
		return data, err
	}

	method := "Checkout"
	checkoutBody := map[string]any{}
	if code != "" {
		method = "CheckoutWithCode"
		checkoutBody["discountCode"] = code
	}
	err := r.call(ctx, method, http.MethodPost, "/api/checkout", userID, key, checkoutBody, http.StatusCreated, &data)
	return data, err
}

// call выполняет запрос, учитывает его в collector и раскладывает data из успешного ответа в out.
func (r *runner) call(ctx context.Context, method, httpMethod, path, userID, idemKey string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, httpMethod, r.cfg.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(userIDHeader, userID)
	}
	if idemKey != "" {
		req.Header.Set(idempotencyHeader, idemKey)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.col.record(method, time.Since(start), transportError, false)
		return err
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	ok := resp.StatusCode == want && readErr == nil
	r.col.record(method, time.Since(start), strconv.Itoa(resp.StatusCode), ok)
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode != want {
		return fmt.Errorf("%s: unexpected status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return json.Unmarshal(envelope.Data, out)
}

// verify читает /api/admin/stats и /api/admin/discount/eligibility и сверяет
// количество купонов с floor(orderCount / threshold).
func (r *runner) verify(ctx context.Context) *verification {
	res := &verification{
		CouponsMinted:  r.minted.Load(),
		CouponsApplied: r.redeemed.Load(),
	}

	var stats struct {
		TotalDiscountCodes int64 `json:"totalDiscountCodes"`
	}
	var eligibility struct {
		OrderCount int64 `json:"orderCount"`
		Threshold  int64 `json:"threshold"`
	}
	if err := r.call(ctx, "AdminStats", http.MethodGet, "/api/admin/stats", "", "", nil, http.StatusOK, &stats); err != nil {
		return res
	}
	if err := r.call(ctx, "Eligibility", http.MethodGet, "/api/admin/discount/eligibility", "", "", nil, http.StatusOK, &eligibility); err != nil {
		return res
	}

	res.OrderCount = eligibility.OrderCount
	res.Threshold = eligibility.Threshold
	res.DiscountCodes = stats.TotalDiscountCodes
	if eligibility.Threshold > 0 {
		res.ExpectedCodes = eligibility.OrderCount / eligibility.Threshold
	}
	res.OK = res.Threshold > 0 && res.DiscountCodes == res.ExpectedCodes
	return res
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}

	if v := result.Verification; v != nil {
		_, _ = fmt.Fprintf(w, "verification: orders=%d threshold=%d codes=%d expected=%d ok=%t\n",
			v.OrderCount, v.Threshold, v.DiscountCodes, v.ExpectedCodes, v.OK)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
