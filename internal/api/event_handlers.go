package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	database "github.com/reelworks/reel-backend/internal"
)

// recordEvent appends a row to the workspace event log. Failures are logged
// and swallowed; the event log never fails a request.
func recordEvent(workspaceID uuid.UUID, actor *uuid.UUID, eventType string, details map[string]any) {
	raw, _ := json.Marshal(details)
	_, err := database.DB.Exec(`INSERT INTO event_logs (workspace_id, actor_user_id, event_type, details, created_at)
	        VALUES ($1, $2, $3, $4, NOW())`, workspaceID, actor, eventType, raw)
	if err != nil {
		log.Printf("event log insert failed (workspace=%s type=%s): %v", workspaceID, eventType, err)
	}
}

type EventResponse struct {
	ID          int64           `json:"id"`
	ActorUserID *uuid.UUID      `json:"actor_user_id,omitempty"`
	EventType   string          `json:"event_type"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// GetEventLogs returns the workspace event log, newest first.
// Query params: type (exact match), before (event id for paging), limit (<=200).
func GetEventLogs(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	before := int64(0)
	if v := c.Query("before"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			before = n
		}
	}
	eventType := c.Query("type")

	query := `SELECT id, actor_user_id, event_type, details, created_at FROM event_logs WHERE workspace_id=$1`
	args := []any{workspaceID}
	if eventType != "" {
		args = append(args, eventType)
		query += ` AND event_type=$` + strconv.Itoa(len(args))
	}
	if before > 0 {
		args = append(args, before)
		query += ` AND id<$` + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	query += ` ORDER BY id DESC LIMIT $` + strconv.Itoa(len(args))

	rows := []struct {
		ID          int64           `db:"id"`
		ActorUserID *uuid.UUID      `db:"actor_user_id"`
		EventType   string          `db:"event_type"`
		Details     json.RawMessage `db:"details"`
		CreatedAt   time.Time       `db:"created_at"`
	}{}
	if err := database.DB.Select(&rows, query, args...); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch event logs"})
		return
	}
	resp := make([]EventResponse, 0, len(rows))
	for _, r := range rows {
		resp = append(resp, EventResponse{ID: r.ID, ActorUserID: r.ActorUserID, EventType: r.EventType, Details: r.Details, CreatedAt: r.CreatedAt})
	}
	c.JSON(http.StatusOK, resp)
}
