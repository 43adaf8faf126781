package model

import (
	"math/rand"
	"time"

	"telegram-image-generation/internal/domain"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type RequestStatus string

const (
	RequestStatusPending     RequestStatus = "pending"
	RequestStatusConfiguring RequestStatus = "configuring"
	RequestStatusQueued      RequestStatus = "queued"
	RequestStatusRunning     RequestStatus = "running"
	RequestStatusCompleted   RequestStatus = "completed"
	RequestStatusFailed      RequestStatus = "failed"
	RequestStatusCancelled   RequestStatus = "cancelled"
)

// ActiveStatuses are the non-terminal request states; at most
// max_parallel_per_user requests per user may sit in one of them.
var ActiveStatuses = []RequestStatus{
	RequestStatusPending,
	RequestStatusConfiguring,
	RequestStatusQueued,
	RequestStatusRunning,
}

func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestStatusCompleted, RequestStatusFailed, RequestStatusCancelled:
		return true
	}
	return false
}

// GenerationParams is the normalized input-parameter record of a request.
type GenerationParams struct {
	Size          string
	AspectRatio   string
	Resolution    string
	Quality       string
	InputFidelity string
	Language      string
}

// ChatCoords tells the poller where to deliver results and edit status.
type ChatCoords struct {
	ChatID          int64
	MessageID       int
	PromptMessageID int
}

// GenerationRequest is one user-submitted generation, from admission through
// a terminal state. Transitions are monotone: once terminal, never active again.
type GenerationRequest struct {
	ID             string
	PublicID       string // ULID shown to users
	UserID         string
	ModelID        string
	ModelKey       string
	Prompt         string
	Params         GenerationParams
	Chat           ChatCoords
	ReferenceCount int
	Cost           int64 // credits actually charged (0 for trial)
	Status         RequestStatus
	ErrorMessage   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

func NewGenerationRequest(userID string, m *Model, prompt string, params GenerationParams, chat ChatCoords, refCount int) (*GenerationRequest, error) {
	if userID == "" || m == nil || prompt == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0)
	return &GenerationRequest{
		ID:             uuid.NewString(),
		PublicID:       ulid.MustNew(ulid.Timestamp(now), entropy).String(),
		UserID:         userID,
		ModelID:        m.ID,
		ModelKey:       m.Key,
		Prompt:         prompt,
		Params:         params,
		Chat:           chat,
		ReferenceCount: refCount,
		Status:         RequestStatusConfiguring,
		CreatedAt:      now,
	}, nil
}

// TransitionTo enforces the monotone state machine: a terminal request
// accepts no further transitions.
func (r *GenerationRequest) TransitionTo(next RequestStatus) error {
	if r.Status.IsTerminal() {
		return domain.ErrTerminalState
	}
	now := time.Now().UTC()
	if next == RequestStatusRunning && r.StartedAt == nil {
		r.StartedAt = &now
	}
	if next.IsTerminal() {
		r.CompletedAt = &now
	}
	r.Status = next
	return nil
}

// Duration reports wall time from creation to completion, for result captions.
func (r *GenerationRequest) Duration() time.Duration {
	if r.CompletedAt == nil {
		return time.Since(r.CreatedAt)
	}
	return r.CompletedAt.Sub(r.CreatedAt)
}

// GenerationReference is one input image driving image-to-image generation.
type GenerationReference struct {
	ID        string
	RequestID string
	URL       string
	FileID    string // Telegram file handle, when the image came through chat
	CreatedAt time.Time
}

// GenerationResult is one output image. Results are deduplicated by URL
// within a request.
type GenerationResult struct {
	ID        string
	RequestID string
	URL       string
	FileID    string
	CreatedAt time.Time
}

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// GenerationJob correlates a request with the upstream provider's job.
type GenerationJob struct {
	ID           string
	RequestID    string
	Provider     string
	UpstreamID   string // external correlation key
	Status       JobStatus
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewGenerationJob(requestID, provider, upstreamID string) *GenerationJob {
	now := time.Now().UTC()
	return &GenerationJob{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		Provider:   provider,
		UpstreamID: upstreamID,
		Status:     JobStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TrialUse records consumption of the one-time free generation.
// At most one row exists per user, ever.
type TrialUse struct {
	ID        string
	UserID    string
	RequestID string
	CreatedAt time.Time
}
