// Package health отдаёт состояние shop-service для Kubernetes-проверок и мониторинга.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Status представляет статус компонента
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check представляет проверку здоровья компонента
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response представляет ответ health check
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker интерфейс для проверки здоровья компонента
type Checker interface {
	Check() Check
}

// Handler собирает проверки компонентов и признак готовности процесса.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
	ready     atomic.Bool
}

// NewHandler создаёт health handler. Процесс считается готовым, пока не вызван SetReady(false).
func NewHandler(version string) *Handler {
	h := &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
	}
	h.ready.Store(true)
	return h
}

// RegisterChecker регистрирует проверку компонента
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// SetReady переключает readiness; при остановке сервис снимается с балансировки до закрытия listener.
func (h *Handler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Report выполняет все проверки. Unhealthy перекрывает degraded.
func (h *Handler) Report() Response {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	h.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]Check, len(names))
	overall := StatusHealthy
	for _, name := range names {
		check := checkers[name].Check()
		checks[name] = check

		switch {
		case check.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case check.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
}

// ServeHTTP отдаёт полный отчёт в JSON.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	response := h.Report()

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler простая liveness-проверка (всегда возвращает 200)
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler возвращает 503, если процесс останавливается или компонент unhealthy.
// Degraded не снимает сервис с балансировки.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	if !h.ready.Load() || h.Report().Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// SimpleChecker простая проверка с функцией
type SimpleChecker struct {
	name    string
	checkFn func() error
}

// NewSimpleChecker создаёт простую проверку
func NewSimpleChecker(name string, checkFn func() error) *SimpleChecker {
	return &SimpleChecker{
		name:    name,
		checkFn: checkFn,
	}
}

// Check выполняет проверку
func (c *SimpleChecker) Check() Check {
	start := time.Now()
	err := c.checkFn()
	duration := time.Since(start)

	if err != nil {
		return Check{
			Name:       c.name,
			Status:     StatusUnhealthy,
			Message:    err.Error(),
			DurationMs: duration.Milliseconds(),
		}
	}

	return Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: duration.Milliseconds(),
	}
}

// BacklogStats: источник размера очереди (outbox).
type BacklogStats func() (pending int, oldest time.Time, err error)

// BacklogChecker переводит компонент в degraded, когда очередь событий растёт или стареет.
type BacklogChecker struct {
	name       string
	stats      BacklogStats
	maxPending int
	maxAge     time.Duration
}

// NewBacklogChecker создаёт проверку backlog. Нулевые пороги не проверяются.
func NewBacklogChecker(name string, stats BacklogStats, maxPending int, maxAge time.Duration) *BacklogChecker {
	return &BacklogChecker{name: name, stats: stats, maxPending: maxPending, maxAge: maxAge}
}

// Check выполняет проверку
func (c *BacklogChecker) Check() Check {
	start := time.Now()
	pending, oldest, err := c.stats()
	check := Check{Name: c.name, Status: StatusHealthy}

	switch {
	case err != nil:
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	case c.maxPending > 0 && pending > c.maxPending:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d pending events exceed limit %d", pending, c.maxPending)
	case c.maxAge > 0 && pending > 0 && !oldest.IsZero() && time.Since(oldest) > c.maxAge:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("oldest pending event is older than %s", c.maxAge)
	}

	check.DurationMs = time.Since(start).Milliseconds()
	return check
}
