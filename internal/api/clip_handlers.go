package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	database "github.com/reelworks/reel-backend/internal"
)

func clipResponse(cl database.Clip) ClipResponse {
	return ClipResponse{
		ID: cl.ID, VideoID: cl.VideoID, Title: cl.Title, StartMs: cl.StartMs, EndMs: cl.EndMs,
		Transcript: cl.Transcript, Status: cl.Status, RenderURL: cl.RenderURL, CreatedAt: cl.CreatedAt,
	}
}

// ListClips returns a video's clips ordered by start time.
func ListClips(c *gin.Context) {
	v, ok := getWorkspaceVideo(c)
	if !ok {
		return
	}
	clips := []database.Clip{}
	err := database.DB.Select(&clips, `SELECT id, workspace_id, video_id, title, start_ms, end_ms, transcript, status, render_url, created_at, updated_at
	        FROM clips WHERE video_id=$1 ORDER BY start_ms ASC`, v.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list clips"})
		return
	}
	resp := make([]ClipResponse, 0, len(clips))
	for _, cl := range clips {
		resp = append(resp, clipResponse(cl))
	}
	c.JSON(http.StatusOK, resp)
}

func getWorkspaceClip(c *gin.Context) (database.Clip, bool) {
	var cl database.Clip
	err := database.DB.Get(&cl, `SELECT id, workspace_id, video_id, title, start_ms, end_ms, transcript, status, render_url, created_at, updated_at
	        FROM clips WHERE id=$1 AND workspace_id=$2`, c.Param("clipId"), c.Param("workspaceId"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Clip not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch clip"})
		}
		return cl, false
	}
	return cl, true
}

// GetClip returns one clip.
func GetClip(c *gin.Context) {
	cl, ok := getWorkspaceClip(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, clipResponse(cl))
}

// UpdateClip renames a clip.
func UpdateClip(c *gin.Context) {
	cl, ok := getWorkspaceClip(c)
	if !ok {
		return
	}
	var req UpdateClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.Title == nil || *req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update"})
		return
	}
	if _, err := database.DB.Exec(`UPDATE clips SET title=$1, updated_at=NOW() WHERE id=$2`, *req.Title, cl.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update clip"})
		return
	}
	cl.Title = *req.Title
	c.JSON(http.StatusOK, clipResponse(cl))
}

// RenderClip enqueues a clip render job. The clip flips to "rendering"
// before the enqueue so a duplicate request returns 409 instead of
// queueing the job twice.
func RenderClip(c *gin.Context) {
	cl, ok := getWorkspaceClip(c)
	if !ok {
		return
	}
	if cl.Status == "rendering" {
		c.JSON(http.StatusConflict, gin.H{"error": "Clip is already rendering"})
		return
	}
	if cl.Status == "rendered" {
		c.JSON(http.StatusOK, clipResponse(cl))
		return
	}

	var video database.Video
	err := database.DB.Get(&video, `SELECT id, workspace_id, source_url, status FROM videos WHERE id=$1 AND deleted_at IS NULL`, cl.VideoID)
	if err != nil || video.SourceURL == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Source video is unavailable"})
		return
	}

	res, err := database.DB.Exec(`UPDATE clips SET status='rendering', updated_at=NOW() WHERE id=$1 AND status IN ('suggested','failed')`, cl.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update clip"})
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Clip is already rendering"})
		return
	}

	job := renderJob{
		ClipID:      cl.ID,
		WorkspaceID: cl.WorkspaceID,
		VideoID:     cl.VideoID,
		SourceURL:   *video.SourceURL,
		StartMs:     cl.StartMs,
		EndMs:       cl.EndMs,
	}
	if err := EnqueueRender(job); err != nil {
		// roll the status back so the clip can be retried
		_, _ = database.DB.Exec(`UPDATE clips SET status=$1, updated_at=NOW() WHERE id=$2`, cl.Status, cl.ID)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Render queue unavailable"})
		return
	}
	recordEvent(cl.WorkspaceID, actorID(c), "clip.render_queued", map[string]any{"clip_id": cl.ID})
	cl.Status = "rendering"
	c.JSON(http.StatusAccepted, clipResponse(cl))
}
