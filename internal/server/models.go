package server

import (
	"github.com/mohammad-safakhou/refetch/internal/batch"
	"github.com/mohammad-safakhou/refetch/internal/judge"
	"github.com/mohammad-safakhou/refetch/internal/orchestrate"
	"github.com/mohammad-safakhou/refetch/internal/worker"
)

// HTTPError is the unified error body.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// RunRequest starts one retrieval run.
type RunRequest struct {
	Target      string            `json:"target"`
	Intent      judge.Intent      `json:"intent"`
	Directive   *worker.Directive `json:"directive,omitempty"`
	MaxAttempts int               `json:"max_attempts,omitempty"`
}

type AdviceAddRequest struct {
	Domain string `json:"domain"`
	Text   string `json:"text"`
}

// BatchRequest runs several jobs sequentially in one request.
type BatchRequest struct {
	Jobs []batch.Job `json:"jobs"`
}

type BatchResponse struct {
	Outcomes []BatchOutcome `json:"outcomes"`
}

type BatchOutcome struct {
	Target string                 `json:"target"`
	Result *orchestrate.RunResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}
