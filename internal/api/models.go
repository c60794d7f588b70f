package api

import (
	"time"

	"github.com/google/uuid"
)

// RegisterRequest defines the expected JSON body for user registration
type RegisterRequest struct {
	FullName string `json:"full_name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Handle   string `json:"handle"` // optional at signup
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type CreateWorkspaceRequest struct {
	Name string `json:"name" binding:"required"`
	Slug string `json:"slug" binding:"required"`
}

type UpdateWorkspaceRequest struct {
	Name *string `json:"name,omitempty"`
	Slug *string `json:"slug,omitempty"`
}

type WorkspaceResponse struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Slug    string    `json:"slug"`
	PlanID  string    `json:"plan_id"`
	Credits int64     `json:"credits"`
	Role    string    `json:"role,omitempty"` // caller's role, when known
}

type MemberResponse struct {
	UserID   uuid.UUID `json:"user_id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type CreateInviteRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role" binding:"required,oneof=admin member"`
}

type AcceptInviteRequest struct {
	Token string `json:"token" binding:"required"`
}

type UpdateMemberRequest struct {
	Role string `json:"role" binding:"required,oneof=admin member"`
}

type TransferOwnerRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

type CreateAPIKeyRequest struct {
	Name      string     `json:"name" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type APIKeyResponse struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	// Key is only populated on create/rotate; it is never retrievable later.
	Key string `json:"key,omitempty"`
}

type CreateVideoRequest struct {
	Title     string  `json:"title" binding:"required"`
	SourceURL *string `json:"source_url,omitempty"` // omit when uploading
}

type VideoResponse struct {
	ID            uuid.UUID `json:"id"`
	WorkspaceID   uuid.UUID `json:"workspace_id"`
	Title         string    `json:"title"`
	SourceURL     *string   `json:"source_url,omitempty"`
	Status        string    `json:"status"`
	DurationMs    *int64    `json:"duration_ms,omitempty"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type ProcessVideoRequest struct {
	// Operations requested from the media pipeline.
	DetectScenes    bool `json:"detect_scenes"`
	TranscribeAudio bool `json:"transcribe_audio"`
	SuggestClips    bool `json:"suggest_clips"`
}

type UploadCompleteRequest struct {
	SourceURL  string `json:"source_url" binding:"required"`
	DurationMs int64  `json:"duration_ms" binding:"required,gt=0"`
}

type ClipResponse struct {
	ID         uuid.UUID `json:"id"`
	VideoID    uuid.UUID `json:"video_id"`
	Title      string    `json:"title"`
	StartMs    int64     `json:"start_ms"`
	EndMs      int64     `json:"end_ms"`
	Transcript *string   `json:"transcript,omitempty"`
	Status     string    `json:"status"`
	RenderURL  *string   `json:"render_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type UpdateClipRequest struct {
	Title *string `json:"title,omitempty"`
}

type SocialAccountResponse struct {
	ID          uuid.UUID `json:"id"`
	Provider    string    `json:"provider"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type CreatePostRequest struct {
	ClipID     *uuid.UUID  `json:"clip_id,omitempty"`
	VideoID    *uuid.UUID  `json:"video_id,omitempty"`
	Caption    string      `json:"caption" binding:"required,max=2200"`
	PublishAt  time.Time   `json:"publish_at" binding:"required"`
	AccountIDs []uuid.UUID `json:"account_ids" binding:"required,min=1"`
}

type UpdatePostRequest struct {
	Caption   *string    `json:"caption,omitempty"`
	PublishAt *time.Time `json:"publish_at,omitempty"`
}

type PostTargetResponse struct {
	SocialAccountID uuid.UUID `json:"social_account_id"`
	Status          string    `json:"status"`
	ExternalPostID  *string   `json:"external_post_id,omitempty"`
	Error           *string   `json:"error,omitempty"`
}

type PostResponse struct {
	ID        uuid.UUID            `json:"id"`
	ClipID    *uuid.UUID           `json:"clip_id,omitempty"`
	VideoID   *uuid.UUID           `json:"video_id,omitempty"`
	Caption   string               `json:"caption"`
	PublishAt time.Time            `json:"publish_at"`
	Status    string               `json:"status"`
	Attempts  int                  `json:"attempts"`
	LastError *string              `json:"last_error,omitempty"`
	Targets   []PostTargetResponse `json:"targets,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}
