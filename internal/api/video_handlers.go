package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/reelworks/reel-backend/internal"
	"github.com/reelworks/reel-backend/internal/utils"
)

// Processing is billed per started minute of source footage.
const creditsPerMinute = 1

func processingCost(durationMs int64) int64 {
	mins := durationMs / 60000
	if durationMs%60000 != 0 || mins == 0 {
		mins++
	}
	return mins * creditsPerMinute
}

// CreateVideo registers a video in the workspace. With source_url set the
// video is immediately "uploaded"; without it the client gets an
// "uploading" record and finishes via the upload-complete endpoint.
func CreateVideo(c *gin.Context) {
	workspaceID, err := uuid.Parse(c.Param("workspaceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid workspace ID"})
		return
	}
	var req CreateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	// plan video quota
	var quota struct {
		MaxVideos int `db:"max_videos"`
		Count     int `db:"count"`
	}
	err = database.DB.Get(&quota, `
        SELECT p.max_videos, (SELECT COUNT(*) FROM videos v WHERE v.workspace_id=w.id AND v.deleted_at IS NULL) AS count
        FROM workspaces w JOIN plans p ON p.id=w.plan_id WHERE w.id=$1`, workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check plan limits"})
		return
	}
	if quota.MaxVideos > 0 && quota.Count >= quota.MaxVideos {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Video limit reached for the current plan"})
		return
	}

	status := "uploading"
	if req.SourceURL != nil && *req.SourceURL != "" {
		status = "uploaded"
	}
	video := database.Video{
		ID:              uuid.New(),
		WorkspaceID:     workspaceID,
		Title:           req.Title,
		SourceURL:       req.SourceURL,
		Status:          status,
		CreatedByUserID: uuid.MustParse(c.GetString("userID")),
		CreatedAt:       time.Now(),
	}
	_, err = database.DB.Exec(`INSERT INTO videos (id, workspace_id, title, source_url, status, created_by_user_id, created_at, updated_at)
	        VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		video.ID, video.WorkspaceID, video.Title, video.SourceURL, video.Status, video.CreatedByUserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create video"})
		return
	}
	recordEvent(workspaceID, actorID(c), "video.created", map[string]any{"video_id": video.ID, "title": video.Title})
	c.JSON(http.StatusCreated, VideoResponse{
		ID: video.ID, WorkspaceID: workspaceID, Title: video.Title, SourceURL: video.SourceURL,
		Status: video.Status, CreatedAt: video.CreatedAt,
	})
}

// ListVideos returns the workspace's videos, newest first. Soft-deleted
// videos are excluded.
func ListVideos(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	videos := []database.Video{}
	err := database.DB.Select(&videos, `SELECT id, workspace_id, title, source_url, status, duration_ms, pipeline_job_id, credits_charged, created_by_user_id, failure_reason, created_at, updated_at, deleted_at
	        FROM videos WHERE workspace_id=$1 AND deleted_at IS NULL ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list videos"})
		return
	}
	resp := make([]VideoResponse, 0, len(videos))
	for _, v := range videos {
		resp = append(resp, videoResponse(v))
	}
	c.JSON(http.StatusOK, resp)
}

func videoResponse(v database.Video) VideoResponse {
	return VideoResponse{
		ID: v.ID, WorkspaceID: v.WorkspaceID, Title: v.Title, SourceURL: v.SourceURL,
		Status: v.Status, DurationMs: v.DurationMs, FailureReason: v.FailureReason, CreatedAt: v.CreatedAt,
	}
}

func getWorkspaceVideo(c *gin.Context) (database.Video, bool) {
	var v database.Video
	err := database.DB.Get(&v, `SELECT id, workspace_id, title, source_url, status, duration_ms, pipeline_job_id, credits_charged, created_by_user_id, failure_reason, created_at, updated_at, deleted_at
	        FROM videos WHERE id=$1 AND workspace_id=$2 AND deleted_at IS NULL`, c.Param("videoId"), c.Param("workspaceId"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch video"})
		}
		return v, false
	}
	return v, true
}

// GetVideo returns one video.
func GetVideo(c *gin.Context) {
	v, ok := getWorkspaceVideo(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, videoResponse(v))
}

// DeleteVideo soft-deletes a video. Clips stay queryable through the
// video's history but the video no longer counts against the plan quota.
func DeleteVideo(c *gin.Context) {
	v, ok := getWorkspaceVideo(c)
	if !ok {
		return
	}
	if v.Status == "processing" {
		c.JSON(http.StatusConflict, gin.H{"error": "Video is processing; wait for the job to finish"})
		return
	}
	if _, err := database.DB.Exec(`UPDATE videos SET deleted_at=NOW(), updated_at=NOW() WHERE id=$1`, v.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete video"})
		return
	}
	recordEvent(v.WorkspaceID, actorID(c), "video.deleted", map[string]any{"video_id": v.ID})
	c.Status(http.StatusNoContent)
}

// UploadComplete finalizes a direct upload: records the stored object URL
// and duration and flips the video to "uploaded".
func UploadComplete(c *gin.Context) {
	v, ok := getWorkspaceVideo(c)
	if !ok {
		return
	}
	if v.Status != "uploading" {
		c.JSON(http.StatusConflict, gin.H{"error": "Video is not awaiting upload"})
		return
	}
	var req UploadCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	_, err := database.DB.Exec(`UPDATE videos SET source_url=$1, duration_ms=$2, status='uploaded', updated_at=NOW() WHERE id=$3`,
		req.SourceURL, req.DurationMs, v.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to finalize upload"})
		return
	}
	v.Status = "uploaded"
	v.SourceURL = &req.SourceURL
	v.DurationMs = &req.DurationMs
	c.JSON(http.StatusOK, videoResponse(v))
}

// ProcessVideo debits credits and dispatches the video to the media
// pipeline. The debit happens before dispatch in the same transaction
// that marks the video "processing"; a failed dispatch rolls both back.
func ProcessVideo(c *gin.Context) {
	v, ok := getWorkspaceVideo(c)
	if !ok {
		return
	}
	if v.Status != "uploaded" && v.Status != "failed" {
		c.JSON(http.StatusConflict, gin.H{"error": "Video must be uploaded before processing"})
		return
	}
	if v.SourceURL == nil || *v.SourceURL == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "Video has no source"})
		return
	}
	var req ProcessVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Media pipeline not configured"})
		return
	}

	duration := int64(60000)
	if v.DurationMs != nil {
		duration = *v.DurationMs
	}
	cost := processingCost(duration)

	tx, err := database.DB.Beginx()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start database transaction"})
		return
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	okDebit, err := debitCredits(tx, v.WorkspaceID, cost, "processing", &v.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reserve credits"})
		return
	}
	if !okDebit {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient credits"})
		return
	}

	jobID, err := pipeline.Dispatch(c.Request.Context(), v.ID, v.WorkspaceID, *v.SourceURL)
	if err != nil {
		RecordProcessingJob("dispatch_failed")
		if errors.Is(err, ErrPipelineUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Media pipeline unavailable, try again shortly"})
		} else {
			log.Printf("pipeline dispatch failed for video %s: %v", v.ID, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to dispatch processing job"})
		}
		return
	}

	if _, err = tx.Exec(`UPDATE videos SET status='processing', pipeline_job_id=$1, credits_charged=$2, failure_reason=NULL, updated_at=NOW() WHERE id=$3`,
		jobID, cost, v.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update video"})
		return
	}
	if err = tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit"})
		return
	}
	committed = true

	RecordProcessingJob("accepted")
	RecordCreditsDebited(v.WorkspaceID.String(), cost)
	recordEvent(v.WorkspaceID, actorID(c), "video.processing_started", map[string]any{
		"video_id": v.ID, "job_id": jobID, "credits": cost,
		"detect_scenes": req.DetectScenes, "transcribe_audio": req.TranscribeAudio, "suggest_clips": req.SuggestClips,
	})
	c.JSON(http.StatusAccepted, gin.H{"video_id": v.ID, "job_id": jobID, "status": "processing", "credits_charged": cost})
}

type pipelineClipPayload struct {
	Title      string  `json:"title"`
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Transcript *string `json:"transcript,omitempty"`
}

type pipelineCallback struct {
	JobID      string                `json:"job_id"`
	VideoID    uuid.UUID             `json:"video_id"`
	Status     string                `json:"status"` // "ready" or "failed"
	DurationMs *int64                `json:"duration_ms,omitempty"`
	Error      string                `json:"error,omitempty"`
	Clips      []pipelineClipPayload `json:"clips,omitempty"`
}

// PipelineWebhook receives job completion callbacks from the media
// pipeline. Failed jobs refund the charged credits. Suggested clips are
// inserted in the same transaction as the status flip so a retried
// callback never duplicates them.
func PipelineWebhook(c *gin.Context) {
	secret := os.Getenv("REEL_PIPELINE_SECRET")
	if secret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Pipeline webhook not configured"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 4<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}
	if err := utils.VerifySignedPayload(secret, c.GetHeader("Reel-Signature"), body, billingSignatureTolerance); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
		return
	}
	var cb pipelineCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid callback payload"})
		return
	}

	var v database.Video
	err = database.DB.Get(&v, `SELECT id, workspace_id, status, pipeline_job_id, credits_charged FROM videos WHERE id=$1`, cb.VideoID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown video"})
		return
	}
	if v.PipelineJobID == nil || *v.PipelineJobID != cb.JobID {
		c.JSON(http.StatusConflict, gin.H{"error": "Stale job callback"})
		return
	}
	if v.Status != "processing" {
		// retried callback; already settled
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	switch cb.Status {
	case "ready":
		if err := settleVideoReady(v, cb); err != nil {
			log.Printf("pipeline callback: settle ready failed for video %s: %v", v.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record result"})
			return
		}
		RecordProcessingJob("ready")
		PublishVideoReady(c.Request.Context(), v.WorkspaceID.String(), v.ID.String())
		recordEvent(v.WorkspaceID, nil, "video.ready", map[string]any{"video_id": v.ID, "clips": len(cb.Clips)})
	case "failed":
		if err := settleVideoFailed(v, cb.Error); err != nil {
			log.Printf("pipeline callback: settle failure failed for video %s: %v", v.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record result"})
			return
		}
		RecordProcessingJob("failed")
		PublishVideoFailed(c.Request.Context(), v.WorkspaceID.String(), v.ID.String(), cb.Error)
		recordEvent(v.WorkspaceID, nil, "video.failed", map[string]any{"video_id": v.ID, "error": cb.Error})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown job status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func settleVideoReady(v database.Video, cb pipelineCallback) error {
	tx, err := database.DB.Beginx()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.Exec(`UPDATE videos SET status='ready', duration_ms=COALESCE($1, duration_ms), updated_at=NOW() WHERE id=$2`,
		cb.DurationMs, v.ID); err != nil {
		return err
	}
	for _, cl := range cb.Clips {
		if cl.EndMs <= cl.StartMs {
			continue
		}
		if _, err = tx.Exec(`INSERT INTO clips (id, workspace_id, video_id, title, start_ms, end_ms, transcript, status, created_at, updated_at)
		        VALUES ($1, $2, $3, $4, $5, $6, $7, 'suggested', NOW(), NOW())`,
			uuid.New(), v.WorkspaceID, v.ID, cl.Title, cl.StartMs, cl.EndMs, cl.Transcript); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func settleVideoFailed(v database.Video, reason string) error {
	tx, err := database.DB.Beginx()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if reason == "" {
		reason = "processing failed"
	}
	if _, err = tx.Exec(`UPDATE videos SET status='failed', failure_reason=$1, updated_at=NOW() WHERE id=$2`, reason, v.ID); err != nil {
		return err
	}
	if err = refundCredits(tx, v.WorkspaceID, v.CreditsCharged, "processing_refund", &v.ID); err != nil {
		return err
	}
	return tx.Commit()
}
