package database

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User represents the 'users' table.
type User struct {
	ID             uuid.UUID  `db:"id"`
	FullName       string     `db:"full_name"`
	Email          string     `db:"email"`
	Handle         *string    `db:"handle"` // nullable until the user picks one
	HashedPassword string     `db:"hashed_password"`
	AvatarMIME     *string    `db:"avatar_mime"`
	Avatar         []byte     `db:"avatar"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	LastLoginAt    *time.Time `db:"last_login_at"`
}

// Workspace represents the 'workspaces' table.
type Workspace struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Slug      string    `db:"slug"`
	OwnerID   uuid.UUID `db:"owner_id"`
	PlanID    string    `db:"plan_id"`
	Credits   int64     `db:"credits"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// WorkspaceMember represents the 'workspace_members' table.
type WorkspaceMember struct {
	WorkspaceID uuid.UUID `db:"workspace_id"`
	UserID      uuid.UUID `db:"user_id"`
	Role        string    `db:"role"` // "owner", "admin", "member"
	JoinedAt    time.Time `db:"joined_at"`
}

// WorkspaceInvite represents the 'workspace_invites' table.
// The invite token itself is a signed JWT; only state lives here.
type WorkspaceInvite struct {
	ID              uuid.UUID  `db:"id"`
	WorkspaceID     uuid.UUID  `db:"workspace_id"`
	Email           string     `db:"email"`
	Role            string     `db:"role"`
	CreatedByUserID uuid.UUID  `db:"created_by_user_id"`
	ExpiresAt       time.Time  `db:"expires_at"`
	AcceptedBy      *uuid.UUID `db:"accepted_by"`
	AcceptedAt      *time.Time `db:"accepted_at"`
	RevokedAt       *time.Time `db:"revoked_at"`
	CreatedAt       time.Time  `db:"created_at"`
}

// APIKey represents the 'api_keys' table.
type APIKey struct {
	ID              uuid.UUID  `db:"id"`
	WorkspaceID     uuid.UUID  `db:"workspace_id"`
	Name            string     `db:"name"`
	KeyPrefix       string     `db:"key_prefix"`
	HashedKey       string     `db:"hashed_key"`
	CreatedByUserID uuid.UUID  `db:"created_by_user_id"`
	LastUsedAt      *time.Time `db:"last_used_at"`
	ExpiresAt       *time.Time `db:"expires_at"`
	RevokedAt       *time.Time `db:"revoked_at"`
	CreatedAt       time.Time  `db:"created_at"`
}

// Plan represents the 'plans' table (seeded by migration).
type Plan struct {
	ID             string `db:"id"` // "free", "pro", "studio"
	Name           string `db:"name"`
	MonthlyCredits int64  `db:"monthly_credits"`
	MaxMembers     int    `db:"max_members"`
	MaxVideos      int    `db:"max_videos"`
	PriceCents     int    `db:"price_cents"`
}

// Subscription represents the 'subscriptions' table (one row per workspace).
type Subscription struct {
	WorkspaceID      uuid.UUID  `db:"workspace_id"`
	PlanID           string     `db:"plan_id"`
	Status           string     `db:"status"` // "active", "past_due", "canceled"
	ProviderRef      *string    `db:"provider_ref"`
	CurrentPeriodEnd *time.Time `db:"current_period_end"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// CreditEntry represents the 'credit_ledger' table. Positive delta is a
// grant/refund, negative a debit.
type CreditEntry struct {
	ID          int64      `db:"id"`
	WorkspaceID uuid.UUID  `db:"workspace_id"`
	Delta       int64      `db:"delta"`
	Reason      string     `db:"reason"`
	VideoID     *uuid.UUID `db:"video_id"`
	CreatedAt   time.Time  `db:"created_at"`
}

// Video represents the 'videos' table.
type Video struct {
	ID              uuid.UUID  `db:"id"`
	WorkspaceID     uuid.UUID  `db:"workspace_id"`
	Title           string     `db:"title"`
	SourceURL       *string    `db:"source_url"`
	Status          string     `db:"status"` // "uploading", "uploaded", "processing", "ready", "failed"
	DurationMs      *int64     `db:"duration_ms"`
	PipelineJobID   *string    `db:"pipeline_job_id"`
	CreditsCharged  int64      `db:"credits_charged"`
	CreatedByUserID uuid.UUID  `db:"created_by_user_id"`
	FailureReason   *string    `db:"failure_reason"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	DeletedAt       *time.Time `db:"deleted_at"`
}

// Clip represents the 'clips' table. Clips are produced by the media
// pipeline as suggested segments of a processed video.
type Clip struct {
	ID          uuid.UUID `db:"id"`
	WorkspaceID uuid.UUID `db:"workspace_id"`
	VideoID     uuid.UUID `db:"video_id"`
	Title       string    `db:"title"`
	StartMs     int64     `db:"start_ms"`
	EndMs       int64     `db:"end_ms"`
	Transcript  *string   `db:"transcript"`
	Status      string    `db:"status"` // "suggested", "rendering", "rendered", "failed"
	RenderURL   *string   `db:"render_url"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// SocialAccount represents the 'social_accounts' table.
type SocialAccount struct {
	ID             uuid.UUID  `db:"id"`
	WorkspaceID    uuid.UUID  `db:"workspace_id"`
	Provider       string     `db:"provider"` // "x", "tiktok", "youtube", "linkedin"
	ExternalID     string     `db:"external_id"`
	DisplayName    string     `db:"display_name"`
	AccessToken    string     `db:"access_token"`
	RefreshToken   *string    `db:"refresh_token"`
	TokenExpiresAt *time.Time `db:"token_expires_at"`
	CreatedAt      time.Time  `db:"created_at"`
}

// ScheduledPost represents the 'scheduled_posts' table.
type ScheduledPost struct {
	ID              uuid.UUID  `db:"id"`
	WorkspaceID     uuid.UUID  `db:"workspace_id"`
	ClipID          *uuid.UUID `db:"clip_id"`
	VideoID         *uuid.UUID `db:"video_id"`
	Caption         string     `db:"caption"`
	PublishAt       time.Time  `db:"publish_at"`
	Status          string     `db:"status"` // "scheduled", "publishing", "published", "partial", "failed", "canceled"
	Attempts        int        `db:"attempts"`
	NextAttemptAt   *time.Time `db:"next_attempt_at"`
	LastError       *string    `db:"last_error"`
	CreatedByUserID uuid.UUID  `db:"created_by_user_id"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// PostTarget represents the 'post_targets' table: one row per social
// account a scheduled post publishes to.
type PostTarget struct {
	PostID          uuid.UUID `db:"post_id"`
	SocialAccountID uuid.UUID `db:"social_account_id"`
	Status          string    `db:"status"` // "pending", "published", "failed"
	ExternalPostID  *string   `db:"external_post_id"`
	Error           *string   `db:"error"`
}

// EventLog represents the 'event_logs' table (append-only per workspace).
type EventLog struct {
	ID          int64           `db:"id"` // bigserial maps to int64
	WorkspaceID uuid.UUID       `db:"workspace_id"`
	ActorUserID *uuid.UUID      `db:"actor_user_id"` // nil for system events
	EventType   string          `db:"event_type"`
	Details     json.RawMessage `db:"details"`
	CreatedAt   time.Time       `db:"created_at"`
}
