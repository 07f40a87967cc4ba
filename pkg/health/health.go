// Package health provides liveness and readiness handlers for the
// gateway. Liveness means the process is up; readiness additionally
// requires the database probe to succeed and the server not to be
// draining.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

const probeTimeout = 2 * time.Second

// Readiness state machine.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// SessionCounter reports the number of live sessions.
type SessionCounter interface {
	Len() int
}

// Checker tracks readiness and serves the probe endpoints. It is safe
// for concurrent use.
type Checker struct {
	state    atomic.Int32
	sessions SessionCounter
	probe    func(context.Context) error
}

// Config configures a Checker. Both fields are optional: without a
// probe, readiness is purely the state machine.
type Config struct {
	Sessions SessionCounter
	Probe    func(context.Context) error
}

// NewChecker creates a Checker in the Starting state.
func NewChecker(cfg Config) *Checker {
	return &Checker{
		sessions: cfg.Sessions,
		probe:    cfg.Probe,
	}
}

// SetReady transitions to the Ready state.
func (c *Checker) SetReady() { c.state.Store(stateReady) }

// SetDraining transitions to the Draining state. Call before shutdown
// so load balancers stop routing new sessions here.
func (c *Checker) SetDraining() { c.state.Store(stateDraining) }

// State returns the current state as a human-readable string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

type status struct {
	Status   string `json:"status"`
	Sessions *int   `json:"sessions,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Liveness always answers 200: the process is running.
func (c *Checker) Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, status{Status: "ok"})
	}
}

// Readiness answers 200 only when the state is Ready and the database
// probe, if any, succeeds.
func (c *Checker) Readiness() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := status{Status: c.State()}
		if c.sessions != nil {
			n := c.sessions.Len()
			body.Sessions = &n
		}

		if c.state.Load() != stateReady {
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		if c.probe != nil {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			if err := c.probe(ctx); err != nil {
				body.Error = err.Error()
				writeJSON(w, http.StatusServiceUnavailable, body)
				return
			}
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func writeJSON(w http.ResponseWriter, code int, v status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
