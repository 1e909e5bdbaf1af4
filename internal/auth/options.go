// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"log/slog"
	"time"
)

// Recorder receives auth flow outcomes, typically for metrics.
type Recorder interface {
	// RecordAttempt records a login, registration or federated login outcome.
	RecordAttempt(flow, outcome string)

	// RecordSessionStarted records a newly issued session.
	RecordSessionStarted(flow string)
}

// Flow names passed to Recorder.
const (
	FlowRegister  = "register"
	FlowLogin     = "login"
	FlowFederated = "federated"
)

// Outcomes passed to Recorder.RecordAttempt.
const (
	OutcomeSuccess     = "success"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
)

type noopRecorder struct{}

func (noopRecorder) RecordAttempt(string, string) {}
func (noopRecorder) RecordSessionStarted(string)  {}

// settings is shared by every component constructor.
type settings struct {
	logger   *slog.Logger
	now      func() time.Time
	ttl      time.Duration
	recorder Recorder
}

func newSettings(opts []Option) settings {
	s := settings{
		now:      time.Now,
		ttl:      DefaultSessionTTL,
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Option configures auth components.
type Option func(*settings)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithClock replaces time.Now, for deterministic expiry.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionTTL sets how long a new session stays valid.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *settings) {
		s.ttl = ttl
	}
}

// WithRecorder sets where flow outcomes are reported.
func WithRecorder(r Recorder) Option {
	return func(s *settings) {
		if r != nil {
			s.recorder = r
		}
	}
}
