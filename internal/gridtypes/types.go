// Package gridtypes defines the wire and persistence types shared by the
// Store, Worker Registry, Credit Engine, Worker Session, Scheduler, and HTTP
// Surface: jobs, workers, credit ledgers, and the validation rules the
// coordinator applies at every boundary. Keeping these in one package,
// rather than letting each component define its own, is what lets the HTTP
// and websocket boundaries agree on what "valid" means.
package gridtypes

import (
	"regexp"
	"strings"
)

// Job statuses.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Worker statuses.
const (
	WorkerIdle    = "idle"
	WorkerBusy    = "busy"
	WorkerOffline = "offline"
)

// Supported job languages.
const (
	LangPython     = "python"
	LangJavaScript = "javascript"
	LangNode       = "node"
	LangBash       = "bash"
)

// DefaultLanguage is used when a submission omits the language field.
const DefaultLanguage = LangPython

// SupportedLanguages is the full set of language tags the coordinator will
// queue work for; anything else is InvalidInput.
var SupportedLanguages = map[string]bool{
	LangPython:     true,
	LangJavaScript: true,
	LangNode:       true,
	LangBash:       true,
}

// Size limits.
const (
	MaxCodeBytes   = 1 << 20  // 1 MiB
	MaxOutputBytes = 10 << 20 // 10 MiB
	MaxUserIDLen   = 64
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// uuidV4Pattern matches the canonical, lower-case, hyphenated form of a
// version-4 UUID, including the variant nibble constraint.
var uuidV4Pattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// ValidUserID reports whether s is an acceptable submitter-id / owner-id.
func ValidUserID(s string) bool {
	return userIDPattern.MatchString(s)
}

// ValidUUIDv4 reports whether s is a canonical version-4 UUID.
func ValidUUIDv4(s string) bool {
	return uuidV4Pattern.MatchString(strings.ToLower(s))
}

// ValidLanguage reports whether lang is one of SupportedLanguages.
func ValidLanguage(lang string) bool {
	return SupportedLanguages[lang]
}

// Sanitize strips NUL and non-printable runes (keeping \n, \r, \t) and
// truncates to maxLen.
func Sanitize(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			// drop control characters and NUL
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if maxLen > 0 && len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}

// Limits are the resource constraints attached to a job at submission.
type Limits struct {
	TimeoutSeconds int `json:"timeout_s,omitempty"`
	CPUs           int `json:"cpus,omitempty"`
	MemoryMB       int `json:"memory,omitempty"`
}

// Caps are the capabilities a worker reports at hello time. CanExecute is a
// pointer so an absent JSON field can be told apart from an explicit
// `false`; Executable() applies the documented default of true.
type Caps struct {
	CPUCores   int   `json:"cpu_cores,omitempty"`
	GPUCount   int   `json:"gpu_count,omitempty"`
	CanExecute *bool `json:"can_execute,omitempty"`
}

// Executable returns caps.CanExecute, defaulting to true when the worker
// didn't report the field at all.
func (c Caps) Executable() bool {
	return c.CanExecute == nil || *c.CanExecute
}

// Job is the persisted and API representation of one execution request.
type Job struct {
	ID               string   `json:"job_id"`
	SubmitterID      string   `json:"user_id"`
	Code             string   `json:"-"`
	Language         string   `json:"language"`
	Status           string   `json:"status"`
	AssignedWorkerID string   `json:"worker_id,omitempty"`
	CreatedAt        float64  `json:"created_at"`
	StartedAt        float64  `json:"started_at,omitempty"`
	CompletedAt      float64  `json:"completed_at,omitempty"`
	Stdout           string   `json:"stdout,omitempty"`
	Stderr           string   `json:"stderr,omitempty"`
	ExitCode         *int     `json:"exit_code,omitempty"`
	Limits           Limits   `json:"limits"`
	ReservedCost     float64  `json:"reserved"`
	ActualDuration   *float64 `json:"duration_seconds,omitempty"`
	ActualCost       float64  `json:"cost,omitempty"`
}

// Worker is the persisted and API representation of one compute worker.
type Worker struct {
	ID            string  `json:"id"`
	OwnerID       string  `json:"owner_id,omitempty"`
	IP            string  `json:"ip,omitempty"`
	Caps          Caps    `json:"caps"`
	Status        string  `json:"status"`
	AuthTokenHash string  `json:"-"`
	LastHeartbeat float64 `json:"last_heartbeat,omitempty"`
	RegisteredAt  float64 `json:"registered_at,omitempty"`
	JobsCompleted int     `json:"jobs_completed"`
	CreditsEarned float64 `json:"credits_earned"`
}

// UserCredits is a submitter's (or owner's) credit ledger.
type UserCredits struct {
	UserID      string  `json:"user_id"`
	Balance     float64 `json:"balance"`
	TotalEarned float64 `json:"total_earned"`
	TotalSpent  float64 `json:"total_spent"`
	LastUpdated float64 `json:"last_updated"`
}

// UserAuth binds an owner-id to a hashed auth token.
type UserAuth struct {
	UserID        string  `json:"user_id"`
	AuthTokenHash string  `json:"-"`
	CreatedAt     float64 `json:"created_at"`
}
