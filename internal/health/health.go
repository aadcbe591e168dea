// Package health tracks the reachability of the database and the analysis
// backends and exposes it over the standard gRPC health service.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service names reported by the checker.
const (
	ServiceDatabase       = "database"
	ServiceRemoteAnalysis = "analysis.remote"
	ServiceLocalAnalysis  = "analysis.local"
	ServiceGenerative     = "generative"
	// ServiceOverall is the empty name health clients query by default.
	ServiceOverall = ""
)

const pingTimeout = 5 * time.Second

// Ping returns nil when a dependency is reachable.
type Ping func(ctx context.Context) error

// Status is the last observed state of one dependency.
type Status struct {
	Serving   bool      `json:"serving"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs pings and mirrors their results into a gRPC health server.
// Only the database decides the overall status; analysis tiers degrade.
type Checker struct {
	srv    *health.Server
	logger *slog.Logger

	mu       sync.RWMutex
	pings    map[string]Ping
	required map[string]bool
	status   map[string]Status
}

// NewChecker creates a checker with no pings.
func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		srv:      health.NewServer(),
		logger:   logger,
		pings:    make(map[string]Ping),
		required: make(map[string]bool),
		status:   make(map[string]Status),
	}
}

// Add registers a ping. A required ping failing marks the overall status
// as not serving.
func (c *Checker) Add(service string, ping Ping, required bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings[service] = ping
	c.required[service] = required
}

// Server returns the gRPC health server.
func (c *Checker) Server() healthpb.HealthServer {
	return c.srv
}

// CheckAll runs every ping once and publishes the results.
func (c *Checker) CheckAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	pings := make(map[string]Ping, len(c.pings))
	for name, p := range c.pings {
		pings[name] = p
	}
	c.mu.RUnlock()

	results := make(map[string]Status, len(pings))
	var wg sync.WaitGroup
	var rmu sync.Mutex
	for name, ping := range pings {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()

			st := Status{Serving: true, CheckedAt: time.Now()}
			if err := ping(pctx); err != nil {
				st = Status{Serving: false, Error: err.Error(), CheckedAt: time.Now()}
			}
			rmu.Lock()
			results[name] = st
			rmu.Unlock()
		}()
	}
	wg.Wait()

	c.mu.Lock()
	overall := true
	for name, st := range results {
		prev, seen := c.status[name]
		if seen && prev.Serving != st.Serving {
			c.logger.Warn("Dependency health changed", "service", name, "serving", st.Serving, "error", st.Error)
		}
		c.status[name] = st
		c.srv.SetServingStatus(name, servingStatus(st.Serving))
		if c.required[name] && !st.Serving {
			overall = false
		}
	}
	c.mu.Unlock()
	c.srv.SetServingStatus(ServiceOverall, servingStatus(overall))

	return results
}

// Snapshot returns the last observed status of every service.
func (c *Checker) Snapshot() map[string]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Status, len(c.status))
	for name, st := range c.status {
		out[name] = st
	}
	return out
}

// Healthy reports whether every required service was serving at the last check.
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for name, req := range c.required {
		if st, ok := c.status[name]; req && (!ok || !st.Serving) {
			return false
		}
	}
	return true
}

// Services returns the registered service names in order.
func (c *Checker) Services() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.pings))
	for name := range c.pings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start checks once and then every interval until ctx is done.
func (c *Checker) Start(ctx context.Context, interval time.Duration) {
	c.CheckAll(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		c.logger.Info("Health checker started", "interval", interval, "services", c.Services())

		for {
			select {
			case <-ticker.C:
				c.CheckAll(ctx)
			case <-ctx.Done():
				c.logger.Info("Health checker shutting down", "reason", ctx.Err())
				c.srv.Shutdown()
				return
			}
		}
	}()
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// HTTPPing treats any response below 500 from url as reachable.
func HTTPPing(client *http.Client, url string, header http.Header) Ping {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("create ping request: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("ping %s: %w", url, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("ping %s: status %d", url, resp.StatusCode)
		}
		return nil
	}
}

// Configured reports a dependency as serving when it is set up at all.
func Configured(ok bool, what string) Ping {
	return func(context.Context) error {
		if !ok {
			return fmt.Errorf("%s not configured", what)
		}
		return nil
	}
}
