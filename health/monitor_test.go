package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, StatusHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, StatusDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", "")}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Aggregate("sys", tt.subs)
			if s.Status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, s.Status)
			}
			if s.Healthy != (tt.want == StatusHealthy) {
				t.Errorf("Healthy flag %v does not match status %s", s.Healthy, s.Status)
			}
			if len(s.SubStatuses) != len(tt.subs) {
				t.Errorf("Expected %d sub statuses, got %d", len(tt.subs), len(s.SubStatuses))
			}
		})
	}
}

func TestFromError(t *testing.T) {
	assert.True(t, FromError("nats", nil).IsHealthy())

	s := FromError("nats", fmt.Errorf("dial nats://user:pw@10.0.0.5:4222 failed"))
	assert.True(t, s.IsUnhealthy())
	assert.Equal(t, "dial [URL] failed", s.Message)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"failed to open /etc/weave/weave.yaml", "failed to open [PATH]"},
		{"connect to https://api.example.com/v1", "connect to [URL]"},
		{"timeout connecting to 192.168.1.100", "timeout connecting to [IP]"},
		{"failed to bind to :8080", "failed to bind to [PORT]"},
		{"auth failed token=abc123", "auth failed [REDACTED]"},
		{"plain message", "plain message"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitize(tt.in), "input %q", tt.in)
	}
}

func TestMonitor_Aggregate(t *testing.T) {
	m := NewMonitor("weave")
	m.Register("router", func() Status { return NewHealthy("ignored", "ok") })
	m.Register("nats", func() Status { return NewDegraded("nats", "reconnecting") })

	assert.Equal(t, []string{"nats", "router"}, m.Components())

	s := m.Aggregate()
	assert.Equal(t, "weave", s.Component)
	assert.True(t, s.IsDegraded())
	require.Len(t, s.SubStatuses, 2)
	assert.Equal(t, "nats", s.SubStatuses[0].Component)
	assert.Equal(t, "router", s.SubStatuses[1].Component, "component name comes from the registration")

	m.Remove("nats")
	assert.True(t, m.Aggregate().IsHealthy())
}

func TestMonitor_ServeHTTP(t *testing.T) {
	healthy := true
	m := NewMonitor("weave")
	m.Register("ws", func() Status {
		if healthy {
			return NewHealthy("ws", "listening")
		}
		return NewUnhealthy("ws", "closed")
	})

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var s Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.True(t, s.Healthy)
	require.Len(t, s.SubStatuses, 1)
	assert.Equal(t, "listening", s.SubStatuses[0].Message)

	healthy = false
	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor("weave")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			m.Register(fmt.Sprintf("part-%d", i), func() Status { return NewHealthy("", "") })
		}(i)
		go func() {
			defer wg.Done()
			_ = m.Aggregate()
		}()
	}
	wg.Wait()
	assert.Len(t, m.Components(), 8)
}
