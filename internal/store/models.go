package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrTierInUse = errors.New("tier in use")

	// ErrTooManyRows is returned instead of a silently truncated result when
	// an analytics query matches more rows than the store will load.
	ErrTooManyRows = errors.New("too many rows")
)

type User struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	Role          string
	TierID        string
	Status        string
	Locale        string
	CreatedAt     time.Time
	LastActiveAt  *time.Time
	DeactivatedAt *time.Time
	UpdatedAt     time.Time
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

type UserFilter struct {
	Search string
	TierID string
	Status string
	Role   string
	Limit  int
	Offset int
}

// UsageEvent mirrors one document of the app's usageEvents collection.
// SampleRate is the fraction of events the client recorded; 1 means unsampled.
type UsageEvent struct {
	ID         string
	UserID     string
	Feature    string
	EventType  string
	LatencyMs  float64
	TokensIn   int
	TokensOut  int
	Success    bool
	SampleRate float64
	OccurredAt time.Time
}

type UsageFilter struct {
	From    time.Time
	To      time.Time
	Feature string
	UserID  string
}

// PromptExecution mirrors one document of the promptExecutions collection.
type PromptExecution struct {
	ID         string
	PromptID   string
	Version    int
	Language   string
	Provider   string
	Model      string
	LatencyMs  float64
	TokensIn   int
	TokensOut  int
	Success    bool
	ErrorCode  string
	SampleRate float64
	UserID     string
	ExecutedAt time.Time
}

type ExecutionFilter struct {
	From     time.Time
	To       time.Time
	PromptID string
}

type PromptConfig struct {
	ID            string
	Name          string
	Description   string
	ActiveVersion int
	LatestVersion int
	Archived      bool
	CreatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type PromptVersion struct {
	ConfigID   string
	Version    int
	CommitHash string
	Message    string
	CreatedBy  string
	CreatedAt  time.Time
}

type CommitInfo struct {
	Hash        string
	Message     string
	Author      string
	CreatedAt   time.Time
	ParentCount int
}

// Limit is a per-feature quota. -1 means unlimited.
type Limit struct {
	Daily   int `json:"daily"`
	Monthly int `json:"monthly"`
}

type SubscriptionTier struct {
	ID            string
	Name          string
	Description   string
	PriceCents    int
	Currency      string
	BillingPeriod string
	Limits        map[string]Limit
	Features      []string
	IsDefault     bool
	SortOrder     int
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LimitPatch carries the override fields that were set. Nil leaves the tier value.
type LimitPatch struct {
	Daily   *int `json:"daily,omitempty"`
	Monthly *int `json:"monthly,omitempty"`
}

type QuotaOverride struct {
	ID        string
	UserID    string
	TierID    string
	Limits    map[string]LimitPatch
	Reason    string
	ExpiresAt *time.Time
	CreatedBy string
	CreatedAt time.Time
}

const (
	ChannelPush  = "push"
	ChannelEmail = "email"
	ChannelInApp = "in_app"

	NotificationQueued = "queued"
	NotificationSent   = "sent"
	NotificationFailed = "failed"
	NotificationRead   = "read"
)

type Notification struct {
	ID        string
	UserID    string
	Channel   string
	Title     string
	Body      string
	Status    string
	Error     string
	CreatedBy string
	CreatedAt time.Time
	SentAt    *time.Time
	ReadAt    *time.Time
}

type NotificationFilter struct {
	UserID  string
	Channel string
	Status  string
	From    time.Time
	To      time.Time
	Limit   int
	Offset  int
}

type NotificationCount struct {
	Channel string
	Status  string
	Count   int
}

type VocabularyTerm struct {
	ID         string
	Language   string
	Term       string
	Definition string
	Category   string
	Synonyms   []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type VocabularyFilter struct {
	Language string
	Category string
	IDs      []string
	Limit    int
	Offset   int
}

type ContentBlock struct {
	ID          string
	Slug        string
	Locale      string
	Section     string
	Title       string
	Body        string
	ImageKey    string
	SortOrder   int
	Published   bool
	PublishedAt *time.Time
	UpdatedBy   string
	UpdatedAt   time.Time
	CreatedAt   time.Time
}

type ContentFilter struct {
	Locale        string
	Section       string
	PublishedOnly bool
}

// DashboardCounts holds the counters the overview reads straight from SQL.
type DashboardCounts struct {
	TotalUsers    int
	NewUsers7d    int
	DisabledUsers int
	ActiveTiers   int
	PromptConfigs int
}
