package qga

import (
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/virtkit/qga/protocol"
)

// CircuitBreaker guards raw command execution against an agent that is down
// for a while, failing fast instead of burning a full timeout per call.
// Satisfied by *gobreaker.CircuitBreaker[protocol.Reply].
type CircuitBreaker interface {
	Execute(func() (protocol.Reply, error)) (protocol.Reply, error)
	State() gobreaker.State
}

// NewCircuitBreakerConfig returns a factory for Config.NewCircuitBreaker.
// This is a helper for common use cases: the breaker opens once at least 3
// commands in the rolling interval failed 60% of the time, stays open for
// timeout, then admits maxRequests probes.
//
// Error replies from the agent do not count as failures; only lock, socket
// and no-response errors reach the breaker.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) CircuitBreaker {
	return func(agentName string) CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        agentName,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}
		return gobreaker.NewCircuitBreaker[protocol.Reply](settings)
	}
}
