package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	database "github.com/reelworks/reel-backend/internal"
)

// ListDLQ returns recent messages from the render DLQ stream.
// GET /admin/queue/dlq?count=50
func ListDLQ(c *gin.Context) {
	if redisClient == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "queue disabled"})
		return
	}
	count := 50
	if v := c.Query("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			if n > 500 {
				n = 500 // cap to avoid huge responses
			}
			count = n
		}
	}
	// Optional pagination: before_id or older_than (unix seconds)
	max := "+"
	if bid := c.Query("before_id"); bid != "" {
		// Exclusive upper bound to avoid duplicating last seen id
		max = "(" + bid
	} else if ot := c.Query("older_than"); ot != "" {
		if sec, err := strconv.ParseInt(ot, 10, 64); err == nil && sec > 0 {
			// Use stream ID time portion for bound: (<ms-0
			ms := sec * 1000
			max = fmt.Sprintf("(%d-0", ms)
		}
	}
	// newest first
	msgs, err := redisClient.XRevRangeN(c, renderDLQStream, max, "-", int64(count)).Result()
	if err != nil && err != redis.Nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, _ := redisClient.XLen(c, renderDLQStream).Result()
	SetDLQDepth("render", total)
	type item struct {
		ID         string      `json:"id"`
		Payload    interface{} `json:"payload"`
		Reason     string      `json:"reason"`
		Deliveries int64       `json:"deliveries"`
		At         int64       `json:"at"`
	}
	out := make([]item, 0, len(msgs))
	for _, m := range msgs {
		it := item{ID: m.ID}
		if v, ok := m.Values["payload"]; ok {
			it.Payload = v
		}
		if v, ok := m.Values["reason"].(string); ok {
			it.Reason = v
		}
		switch d := m.Values["deliveries"].(type) {
		case int64:
			it.Deliveries = d
		case int:
			it.Deliveries = int64(d)
		case string:
			if n, err := strconv.ParseInt(d, 10, 64); err == nil {
				it.Deliveries = n
			}
		}
		switch at := m.Values["at"].(type) {
		case int64:
			it.At = at
		case int:
			it.At = int64(at)
		case string:
			if n, err := strconv.ParseInt(at, 10, 64); err == nil {
				it.At = n
			}
		}
		out = append(out, it)
	}
	nextBefore := ""
	if len(out) > 0 {
		// XREVRANGE returns newest->oldest; last element is the next page cursor (older)
		nextBefore = out[len(out)-1].ID
	}
	c.JSON(http.StatusOK, gin.H{"items": out, "count": len(out), "total": total, "next_before_id": nextBefore})
}

// RequeueDLQ re-enqueues DLQ messages back to the main render stream and removes them from DLQ.
// POST /admin/queue/dlq/requeue { ids?: [], all?: bool, count?: number }
func RequeueDLQ(c *gin.Context) {
	if redisClient == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "queue disabled"})
		return
	}
	var req struct {
		IDs   []string `json:"ids"`
		All   bool     `json:"all"`
		Count int      `json:"count"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Count <= 0 {
		req.Count = 200
	}
	if req.Count > 1000 {
		req.Count = 1000
	}
	ids := req.IDs
	// If requeuing all, fetch up to Count oldest first
	if req.All {
		msgs, err := redisClient.XRangeN(c, renderDLQStream, "-", "+", int64(req.Count)).Result()
		if err != nil && err != redis.Nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		ids = make([]string, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no ids provided and all=false"})
		return
	}
	requeued := 0
	failed := 0
	for _, id := range ids {
		// Read message to get payload
		xs, err := redisClient.XRange(c, renderDLQStream, id, id).Result()
		if err != nil || len(xs) == 0 {
			failed++
			continue
		}
		m := xs[0]
		var payloadStr string
		switch v := m.Values["payload"].(type) {
		case string:
			payloadStr = v
		case []byte:
			payloadStr = string(v)
		default:
			if b, err := json.Marshal(v); err == nil {
				payloadStr = string(b)
			}
		}
		if payloadStr == "" {
			failed++
			continue
		}
		// flip the clip back to rendering so the worker picks it up cleanly
		var job renderJob
		if err := json.Unmarshal([]byte(payloadStr), &job); err == nil {
			_, _ = database.DB.Exec(`UPDATE clips SET status='rendering', updated_at=NOW() WHERE id=$1 AND status='failed'`, job.ClipID)
		}
		// Add back to main stream
		if err := redisClient.XAdd(c, &redis.XAddArgs{Stream: renderStream, Values: map[string]any{"payload": payloadStr}}).Err(); err != nil {
			failed++
			continue
		}
		// Delete from DLQ
		_ = redisClient.XDel(c, renderDLQStream, id).Err()
		requeued++
	}
	if total, err := redisClient.XLen(c, renderDLQStream).Result(); err == nil {
		SetDLQDepth("render", total)
	}
	c.JSON(http.StatusOK, gin.H{"requeued": requeued, "failed": failed})
}

// DeleteDLQ removes DLQ messages without requeue.
// POST /admin/queue/dlq/delete { ids?: [], all?: bool, count?: number }
func DeleteDLQ(c *gin.Context) {
	if redisClient == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "queue disabled"})
		return
	}
	var req struct {
		IDs   []string `json:"ids"`
		All   bool     `json:"all"`
		Count int      `json:"count"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Count <= 0 {
		req.Count = 200
	}
	if req.Count > 1000 {
		req.Count = 1000
	}

	ids := req.IDs
	if req.All {
		msgs, err := redisClient.XRangeN(c, renderDLQStream, "-", "+", int64(req.Count)).Result()
		if err != nil && err != redis.Nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		ids = make([]string, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no ids provided and all=false"})
		return
	}
	deleted := 0
	for _, id := range ids {
		if _, err := redisClient.XDel(c, renderDLQStream, id).Result(); err == nil {
			deleted++
		}
	}
	if total, err := redisClient.XLen(c, renderDLQStream).Result(); err == nil {
		SetDLQDepth("render", total)
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// AdminHealth returns a full-state health snapshot for dashboards and readiness gates.
// GET /admin/health
// Includes: DB ping, Redis ping, render queue lengths, group pending, and DLQ size.
func AdminHealth(c *gin.Context) {
	// DB ping with timeout
	dbOK := false
	dbMs := int64(0)
	{
		start := time.Now()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 300*time.Millisecond)
		defer cancel()
		if err := database.DB.DB.PingContext(ctx); err == nil {
			dbOK = true
		}
		dbMs = time.Since(start).Milliseconds()
	}

	// Redis ping (prefer existing queue redisClient; else try env-configured client briefly)
	redisOK := false
	redisMs := int64(0)
	var rdb *redis.Client
	if redisClient != nil {
		rdb = redisClient
	} else {
		addr := os.Getenv("REEL_REDIS_ADDR")
		if addr == "" {
			addr = os.Getenv("REDIS_ADDR")
		}
		if addr != "" {
			rdb = redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REEL_REDIS_PASSWORD")})
			defer func() { _ = rdb.Close() }()
		}
	}
	if rdb != nil {
		start := time.Now()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 300*time.Millisecond)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err == nil {
			redisOK = true
		}
		redisMs = time.Since(start).Milliseconds()
	}

	// Queue snapshot
	queue := gin.H{"enabled": redisClient != nil}
	if rdb != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 400*time.Millisecond)
		defer cancel()
		renderLen, _ := rdb.XLen(ctx, renderStream).Result()
		dlqLen, _ := rdb.XLen(ctx, renderDLQStream).Result()
		pendingTotal := int64(0)
		if p, err := rdb.XPending(ctx, renderStream, renderGroup).Result(); err == nil && p != nil {
			pendingTotal = p.Count
		}
		queue = gin.H{
			"enabled":              true,
			"render_stream_len":    renderLen,
			"render_group_pending": pendingTotal,
			"dlq_len":              dlqLen,
		}
		// Keep DLQ depth gauge fresh
		SetDLQDepth("render", dlqLen)
	}

	status := http.StatusOK
	overall := "ok"
	if !dbOK || (rdb != nil && !redisOK) {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status": overall,
		"db":     gin.H{"ok": dbOK, "ping_ms": dbMs},
		"redis":  gin.H{"ok": redisOK, "ping_ms": redisMs},
		"queue":  queue,
		"ts":     time.Now().UTC().Format(time.RFC3339),
	})
}

// QueueDrain toggles drain mode to stop reading new messages while allowing pending to finish.
// POST /admin/queue/drain { "enable": true|false }
func QueueDrain(c *gin.Context) {
	var req struct {
		Enable bool `json:"enable"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	drainMode = req.Enable
	status := gin.H{"drain": drainMode}
	if redisClient != nil {
		if p, err := redisClient.XPending(c, renderStream, renderGroup).Result(); err == nil && p != nil {
			status["render_pending"] = p.Count
		}
		if x, err := redisClient.XLen(c, renderDLQStream).Result(); err == nil {
			status["dlq_len"] = x
		}
	}
	c.JSON(http.StatusOK, status)
}

// QueueDrainStatus returns the current drain status and queue snapshot.
// GET /admin/queue/drain/status
func QueueDrainStatus(c *gin.Context) {
	status := gin.H{"drain": drainMode}
	if redisClient != nil {
		if p, err := redisClient.XPending(c, renderStream, renderGroup).Result(); err == nil && p != nil {
			status["render_pending"] = p.Count
		}
		if x, err := redisClient.XLen(c, renderDLQStream).Result(); err == nil {
			status["dlq_len"] = x
		}
	}
	c.JSON(http.StatusOK, status)
}

// QueueDrainComplete returns whether the worker has drained (no pending for threshold ticks)
// GET /admin/queue/drain/complete
func QueueDrainComplete(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"drained": drainedComplete})
}
