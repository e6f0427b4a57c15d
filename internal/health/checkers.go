package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// result is a small helper shared by the concrete checkers.
func result(component string, critical bool, start time.Time, err error, msg string) CheckResult {
	res := CheckResult{
		Component: component,
		Status:    StatusHealthy,
		Duration:  time.Since(start),
		Timestamp: time.Now().UTC(),
		Critical:  critical,
	}
	if err != nil {
		res.Status = StatusUnhealthy
		res.Message = err.Error()
	} else if msg != "" {
		res.Message = msg
	}
	return res
}

// HTTPChecker probes a URL and expects a 2xx answer. Used for the embedding
// service and the Qdrant readiness endpoint.
type HTTPChecker struct {
	name     string
	url      string
	critical bool
	client   *http.Client
}

// NewHTTPChecker builds a checker against url.
func NewHTTPChecker(name, url string, critical bool) *HTTPChecker {
	return &HTTPChecker{
		name:     name,
		url:      url,
		critical: critical,
		client:   &http.Client{},
	}
}

func (h *HTTPChecker) Name() string   { return h.name }
func (h *HTTPChecker) Critical() bool { return h.critical }

func (h *HTTPChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return result(h.name, h.critical, start, err, "")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return result(h.name, h.critical, start, err, "")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result(h.name, h.critical, start, fmt.Errorf("status %d", resp.StatusCode), "")
	}
	return result(h.name, h.critical, start, nil, "")
}

// RedisChecker pings a Redis instance backing the caches.
type RedisChecker struct {
	name     string
	rdb      *redis.Client
	critical bool
}

// NewRedisChecker builds a checker against addr. Redis is never critical:
// the mesh degrades to in-process caching without it.
func NewRedisChecker(name, addr string) *RedisChecker {
	return &RedisChecker{
		name: name,
		rdb:  redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (r *RedisChecker) Name() string   { return r.name }
func (r *RedisChecker) Critical() bool { return r.critical }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := r.rdb.Ping(ctx).Err()
	return result(r.name, r.critical, start, err, "")
}

// AgentStates reports the lifecycle state of every registered agent.
type AgentStates interface {
	Status(ctx context.Context) []AgentState
}

// AgentState is the minimal view the checker needs.
type AgentState struct {
	ID    string
	State string
}

// AgentsChecker fails when no agent is active; it degrades when some are.
type AgentsChecker struct {
	states AgentStates
}

// NewAgentsChecker builds a checker over the orchestrator's agent registry.
func NewAgentsChecker(states AgentStates) *AgentsChecker {
	return &AgentsChecker{states: states}
}

func (a *AgentsChecker) Name() string   { return "agents" }
func (a *AgentsChecker) Critical() bool { return true }

func (a *AgentsChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	states := a.states.Status(ctx)
	active := 0
	for _, s := range states {
		if s.State == "active" {
			active++
		}
	}
	res := result("agents", true, start, nil, fmt.Sprintf("%d/%d active", active, len(states)))
	switch {
	case len(states) == 0 || active == 0:
		res.Status = StatusUnhealthy
	case active < len(states):
		res.Status = StatusDegraded
		res.Critical = false
	}
	return res
}
