package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	database "github.com/reelworks/reel-backend/internal"
)

var (
	redisClient *redis.Client
	// drainMode prevents readers from consuming new messages; reclaimer continues to finish pending
	drainMode bool
	// drainedComplete becomes true after drainMode is enabled and pending == 0 for N consecutive ticks
	drainedComplete       bool
	drainZeroPendingTicks int
)

const renderStream = "reel:jobs:render"
const renderGroup = "render"
const renderDLQStream = "reel:jobs:render:dlq"

type renderJob struct {
	ClipID      uuid.UUID `json:"clip_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	VideoID     uuid.UUID `json:"video_id"`
	SourceURL   string    `json:"source_url"`
	StartMs     int64     `json:"start_ms"`
	EndMs       int64     `json:"end_ms"`
}

func initRedisFromEnv() bool {
	if os.Getenv("REEL_QUEUE_ENABLE") == "" {
		return false
	}
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	redisClient = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	})
	return true
}

// StartRenderWorker starts the Redis Streams consumer pool that renders
// clips through the media pipeline.
func StartRenderWorker(ctx context.Context) {
	if !initRedisFromEnv() {
		return
	}
	// Log worker online and pending summary for runbooks
	if p, err := redisClient.XPending(ctx, renderStream, renderGroup).Result(); err == nil && p != nil {
		log.Printf("render worker online: pending=%d", p.Count)
	} else {
		log.Printf("render worker online: pending=unknown (group may be new)")
	}
	// Ensure consumer group exists
	_ = redisClient.XGroupCreateMkStream(ctx, renderStream, renderGroup, "$").Err()
	// Worker pool size
	workers := 2
	if v := os.Getenv("REEL_QUEUE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			workers = n
		}
	}
	// Read batch size
	readCount := 4
	if v := os.Getenv("REEL_QUEUE_READ_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			readCount = n
		}
	}
	// Optional global rate limit (per second)
	var rateTicker *time.Ticker
	if v := os.Getenv("REEL_QUEUE_RATE_PER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rateTicker = time.NewTicker(time.Second / time.Duration(n))
		}
	}

	// Start workers (distinct consumer names)
	for i := 0; i < workers; i++ {
		consumer := fmt.Sprintf("worker-%d-%d", time.Now().UnixNano(), i)
		go func(consumerName string) {
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if drainMode {
					// In drain, skip reading new items; let reclaimer finish pending
					time.Sleep(500 * time.Millisecond)
					continue
				}
				streams, err := redisClient.XReadGroup(ctx, &redis.XReadGroupArgs{
					Group:    renderGroup,
					Consumer: consumerName,
					Streams:  []string{renderStream, ">"},
					Count:    int64(readCount),
					Block:    5 * time.Second,
				}).Result()
				if err != nil && err != redis.Nil {
					time.Sleep(500 * time.Millisecond)
					continue
				}
				for _, s := range streams {
					for _, msg := range s.Messages {
						if rateTicker != nil {
							select {
							case <-ctx.Done():
								return
							case <-rateTicker.C:
							}
						}
						ack := processRenderMessage(ctx, msg)
						if ack {
							_, _ = redisClient.XAck(ctx, renderStream, renderGroup, msg.ID).Result()
						}
					}
				}
			}
		}(consumer)
	}

	// Reclaimer: scans pending and reclaims or DLQs
	minIdle := 30 * time.Second
	if v := os.Getenv("REEL_QUEUE_PENDING_IDLE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			minIdle = time.Duration(ms) * time.Millisecond
		}
	}
	maxDeliveries := 3
	if v := os.Getenv("REEL_QUEUE_MAX_DELIVERIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxDeliveries = n
		}
	}
	scanEvery := 10 * time.Second
	if v := os.Getenv("REEL_QUEUE_RECLAIM_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			scanEvery = time.Duration(ms) * time.Millisecond
		}
	}
	// Drain empty threshold (consecutive zero-pending ticks required to mark drained)
	emptyThresh := 3
	if v := os.Getenv("REEL_QUEUE_DRAIN_EMPTY_TICKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			emptyThresh = n
		}
	}
	batch := 10
	if v := os.Getenv("REEL_QUEUE_AUTOCLAIM_BATCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			batch = n
		}
	}
	reclaimer := fmt.Sprintf("reclaimer-%d", time.Now().UnixNano())
	go func() {
		ticker := time.NewTicker(scanEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			// Update a summary pending gauge for alerting and drain progression
			if p, err := redisClient.XPending(ctx, renderStream, renderGroup).Result(); err == nil && p != nil {
				SetQueuePending("render", p.Count)
				if drainMode {
					if p.Count == 0 {
						drainZeroPendingTicks++
						if drainZeroPendingTicks >= emptyThresh {
							drainedComplete = true
						}
					} else {
						drainZeroPendingTicks = 0
						drainedComplete = false
					}
				} else {
					// not draining; reset
					drainZeroPendingTicks = 0
					drainedComplete = false
				}
			}
			// Inspect pending with details to get delivery counts
			pendings, err := redisClient.XPendingExt(ctx, &redis.XPendingExtArgs{
				Stream: renderStream,
				Group:  renderGroup,
				Start:  "-",
				End:    "+",
				Count:  int64(batch),
			}).Result()
			if err != nil || len(pendings) == 0 {
				continue
			}
			for _, p := range pendings {
				if p.Idle < minIdle {
					continue
				}
				if int(p.RetryCount) >= maxDeliveries {
					// Move to DLQ
					// Fetch message to capture payload
					msgs, _ := redisClient.XRange(ctx, renderStream, p.ID, p.ID).Result()
					var payload any = map[string]any{"error": "missing"}
					if len(msgs) == 1 {
						payload = msgs[0].Values["payload"]
					}
					_, _ = redisClient.XAdd(ctx, &redis.XAddArgs{
						Stream: renderDLQStream,
						Values: map[string]any{
							"payload":    payload,
							"reason":     fmt.Sprintf("max deliveries %d exceeded", maxDeliveries),
							"deliveries": p.RetryCount,
							"at":         time.Now().Unix(),
						},
					}).Result()
					RecordDLQInsert("render", "max_deliveries_exceeded")
					if xlen, err := redisClient.XLen(ctx, renderDLQStream).Result(); err == nil {
						SetDLQDepth("render", xlen)
					}
					// Mark the clip failed so the UI stops showing a spinner
					failClipFromPayload(payload)
					// Ack original to drop it
					_, _ = redisClient.XAck(ctx, renderStream, renderGroup, p.ID).Result()
					continue
				}
				// Claim and process
				claimed, err := redisClient.XClaim(ctx, &redis.XClaimArgs{
					Stream:   renderStream,
					Group:    renderGroup,
					Consumer: reclaimer,
					MinIdle:  minIdle,
					Messages: []string{p.ID},
				}).Result()
				if err != nil || len(claimed) == 0 {
					continue
				}
				for _, msg := range claimed {
					ack := processRenderMessage(ctx, msg)
					if ack {
						_, _ = redisClient.XAck(ctx, renderStream, renderGroup, msg.ID).Result()
					}
				}
			}
		}
	}()
}

// EnqueueRender publishes a clip render job to Redis Streams.
func EnqueueRender(job renderJob) error {
	if redisClient == nil {
		return fmt.Errorf("queue disabled")
	}
	b, _ := json.Marshal(job)
	return redisClient.XAdd(context.Background(), &redis.XAddArgs{
		Stream: renderStream,
		Values: map[string]any{"payload": string(b)},
	}).Err()
}

// processRenderMessage renders one clip. Returns true when the message
// should be ACKed; false leaves it pending for retry/reclaim.
func processRenderMessage(ctx context.Context, msg redis.XMessage) bool {
	var job renderJob
	if payload, ok := msg.Values["payload"].(string); ok {
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			// malformed; drop
			return true
		}
	} else {
		return true
	}

	// Idempotence: a retried delivery for an already-rendered clip is a no-op
	var status string
	if err := database.DB.Get(&status, `SELECT status FROM clips WHERE id=$1`, job.ClipID); err != nil {
		// clip deleted underneath us; drop the job
		return true
	}
	if status == "rendered" {
		return true
	}

	if pipeline == nil {
		// cannot render without the pipeline; leave pending for reclaim
		return false
	}
	renderURL, err := pipeline.RenderClip(ctx, job.SourceURL, job.StartMs, job.EndMs)
	if err != nil {
		log.Printf("render failed for clip %s: %v", job.ClipID, err)
		RecordRender("error")
		return false
	}

	if _, err := database.DB.Exec(`UPDATE clips SET status='rendered', render_url=$1, updated_at=NOW() WHERE id=$2`, renderURL, job.ClipID); err != nil {
		log.Printf("render result store failed for clip %s: %v", job.ClipID, err)
		return false
	}
	RecordRender("success")
	PublishClipRendered(ctx, job.WorkspaceID.String(), job.ClipID.String())
	recordEvent(job.WorkspaceID, nil, "clip.rendered", map[string]any{"clip_id": job.ClipID, "video_id": job.VideoID})
	return true
}

func failClipFromPayload(payload any) {
	s, ok := payload.(string)
	if !ok {
		return
	}
	var job renderJob
	if err := json.Unmarshal([]byte(s), &job); err != nil {
		return
	}
	_, _ = database.DB.Exec(`UPDATE clips SET status='failed', updated_at=NOW() WHERE id=$1 AND status='rendering'`, job.ClipID)
	RecordRender("dlq")
}
