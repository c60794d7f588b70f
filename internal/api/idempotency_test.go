package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestSweepIdemStore(t *testing.T) {
	idemStore.Store("stale-entry", idemRecord{status: 200, ts: time.Now().Add(-48 * time.Hour)})
	idemStore.Store("fresh-entry", idemRecord{status: 200, ts: time.Now()})

	sweepIdemStore(24 * time.Hour)

	if _, ok := idemStore.Load("stale-entry"); ok {
		t.Fatal("stale entry survived the sweep")
	}
	if _, ok := idemStore.Load("fresh-entry"); !ok {
		t.Fatal("fresh entry should survive the sweep")
	}
	idemStore.Delete("fresh-entry")
}

func TestIdempotencyMiddleware_ReplaysResponse(t *testing.T) {
	gin.SetMode(gin.TestMode)

	calls := 0
	r := gin.New()
	r.POST("/workspaces/:workspaceId/videos", IdempotencyMiddlewareFromEnv(), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"call": calls})
	})

	wsID := uuid.New().String()
	send := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/workspaces/"+wsID+"/videos", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	first := send("idem-1", `{"title":"a"}`)
	if first.Code != http.StatusCreated || calls != 1 {
		t.Fatalf("first request: code=%d calls=%d", first.Code, calls)
	}

	replay := send("idem-1", `{"title":"a"}`)
	if calls != 1 {
		t.Fatalf("replayed request hit the handler; calls=%d", calls)
	}
	if replay.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatal("replay missing X-Idempotent-Replay header")
	}
	if replay.Body.String() != first.Body.String() {
		t.Fatalf("replay body %q differs from original %q", replay.Body.String(), first.Body.String())
	}

	// same key, reformatted but equivalent JSON still replays
	send("idem-1", `{ "title" : "a" }`)
	if calls != 1 {
		t.Fatalf("canonically equal body should replay; calls=%d", calls)
	}

	// same key with a different payload is a new request
	fresh := send("idem-1", `{"title":"b"}`)
	if calls != 2 {
		t.Fatalf("different payload should reach the handler; calls=%d", calls)
	}
	if fresh.Header().Get("X-Idempotent-Replay") == "true" {
		t.Fatal("different payload must not be served from cache")
	}

	// no key bypasses the cache entirely
	send("", `{"title":"a"}`)
	if calls != 3 {
		t.Fatalf("keyless request should reach the handler; calls=%d", calls)
	}
}
