package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component represents a system component that can be health-checked.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // database, model, etc.
	CheckResult
}

// Runtime reports readiness of the inference engine.
type Runtime interface {
	Loaded() bool
	Model() string
}

// Checker performs health checks on system components.
type Checker struct {
	components []Component
	mu         sync.RWMutex

	// Dependencies
	usersDB  *sql.DB
	chatDB   *sql.DB
	ledgerDB *sql.DB
	runtime  Runtime

	// Timeouts
	dbTimeout    time.Duration
	maxDBLatency time.Duration
}

// Config holds health checker configuration.
type Config struct {
	// Databases
	UsersDB  *sql.DB
	ChatDB   *sql.DB
	LedgerDB *sql.DB

	// Model runtime
	Runtime Runtime

	// Timeouts
	DBTimeout          time.Duration
	MaxDatabaseLatency time.Duration
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.MaxDatabaseLatency == 0 {
		cfg.MaxDatabaseLatency = 100 * time.Millisecond
	}

	return &Checker{
		usersDB:      cfg.UsersDB,
		chatDB:       cfg.ChatDB,
		ledgerDB:     cfg.LedgerDB,
		runtime:      cfg.Runtime,
		dbTimeout:    cfg.DBTimeout,
		maxDBLatency: cfg.MaxDatabaseLatency,
	}
}

// Check performs all health checks and returns overall status.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	var wg sync.WaitGroup
	results := make(chan Component, 10)

	// Check users database
	if c.usersDB != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkDatabase(ctx, "users_db", c.usersDB)
		}()
	}

	// Check chat history database
	if c.chatDB != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkDatabase(ctx, "chat_db", c.chatDB)
		}()
	}

	// Check generation ledger database
	if c.ledgerDB != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkDatabase(ctx, "ledger_db", c.ledgerDB)
		}()
	}

	// Check model runtime
	if c.runtime != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkModel()
		}()
	}

	// Close results channel when all checks complete
	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results
	components := make([]Component, 0)
	for comp := range results {
		components = append(components, comp)
	}

	c.mu.Lock()
	c.components = components
	c.mu.Unlock()

	// Determine overall status
	return c.calculateOverallStatus(components)
}

// checkDatabase checks database connectivity and performance.
func (c *Checker) checkDatabase(ctx context.Context, name string, db *sql.DB) Component {
	comp := Component{
		Name: name,
		Type: "database",
		CheckResult: CheckResult{
			Timestamp: time.Now(),
		},
	}

	start := time.Now()

	// Create context with timeout
	dbCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()

	// Simple ping to check connectivity
	err := db.PingContext(dbCtx)
	comp.Latency = time.Since(start)

	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Database unreachable"
		return comp
	}

	// Check latency
	if comp.Latency > c.maxDBLatency {
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", comp.Latency)
	} else {
		comp.Status = StatusHealthy
		comp.Message = "Connected"
	}

	return comp
}

// checkModel reports whether the inference engine has weights loaded.
// An unloaded model leaves auth and history usable, so it degrades the
// service rather than failing it.
func (c *Checker) checkModel() Component {
	comp := Component{
		Name: "model_runtime",
		Type: "model",
		CheckResult: CheckResult{
			Timestamp: time.Now(),
		},
	}

	start := time.Now()
	loaded := c.runtime.Loaded()
	comp.Latency = time.Since(start)

	if !loaded {
		comp.Status = StatusDegraded
		comp.Message = "Model not loaded"
		return comp
	}

	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("Loaded (%s)", c.runtime.Model())
	return comp
}

// calculateOverallStatus determines overall health based on component statuses.
func (c *Checker) calculateOverallStatus(components []Component) HealthStatus {
	overallStatus := StatusHealthy
	criticalUnhealthy := false

	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			// Database failures are critical
			if comp.Type == "database" {
				criticalUnhealthy = true
			}
			if overallStatus == StatusHealthy {
				overallStatus = StatusDegraded
			}
		case StatusDegraded:
			if overallStatus == StatusHealthy {
				overallStatus = StatusDegraded
			}
		}
	}

	// If any critical component is unhealthy, overall is unhealthy
	if criticalUnhealthy {
		overallStatus = StatusUnhealthy
	}

	return HealthStatus{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Components: components,
	}
}

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// GetLastStatus returns the last health check result.
func (c *Checker) GetLastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.components) == 0 {
		return HealthStatus{
			Status:    StatusHealthy,
			Timestamp: time.Now(),
		}
	}

	return c.calculateOverallStatus(c.components)
}
