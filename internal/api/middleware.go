package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	database "github.com/reelworks/reel-backend/internal"
	"github.com/reelworks/reel-backend/internal/utils"
)

// AuthMiddleware creates a Gin middleware for JWT session authentication
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		tokenString := parts[1]

		jwtSecret, err := utils.GetJwtSecretBytes()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "JWT secret configuration error"})
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return jwtSecret, nil
		})

		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
			userID, _ := claims["user_id"].(string)
			if userID == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
				return
			}
			c.Set("userID", userID)
			c.Next()
		} else {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		}
	}
}

// WorkspaceMemberMiddleware ensures the JWT user belongs to the workspace in
// the :workspaceId route param. Sets workspaceRole for downstream gates.
func WorkspaceMemberMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := c.Get("userID")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		workspaceID := c.Param("workspaceId")
		if workspaceID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing workspace id"})
			return
		}
		if _, err := uuid.Parse(workspaceID); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid workspace id"})
			return
		}
		var role string
		err := database.DB.Get(&role, `SELECT role FROM workspace_members WHERE workspace_id=$1 AND user_id=$2`, workspaceID, userID)
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Not a member of this workspace"})
			return
		}
		c.Set("workspaceRole", role)
		c.Next()
	}
}

// RequireWorkspaceAdmin checks that the authenticated member is admin or owner.
func RequireWorkspaceAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("workspaceRole")
		if role == "admin" || role == "owner" {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin privileges required"})
	}
}

// RequireWorkspaceOwner restricts a route to the workspace owner.
func RequireWorkspaceOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("workspaceRole") != "owner" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Owner privileges required"})
			return
		}
		c.Next()
	}
}

// ApiKeyAuthMiddleware authenticates requests using a workspace API key.
// Expected header: either X-API-Key or Authorization: REEL <key>
// On success, sets workspaceID, apiKeyPrefix, apiKeyID in context.
func ApiKeyAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-API-Key")
		if raw == "" {
			auth := c.GetHeader("Authorization")
			if auth != "" {
				parts := strings.SplitN(auth, " ", 2)
				if len(parts) == 2 && strings.EqualFold(parts[0], "REEL") {
					raw = parts[1]
				}
			}
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key required"})
			return
		}
		const prefix = "reel_sk_"
		if !strings.HasPrefix(raw, prefix) || len(raw) <= len(prefix)+8 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key format"})
			return
		}
		randomPart := raw[len(prefix):]
		keyPrefix := randomPart[:8]

		var key database.APIKey
		err := database.DB.Get(&key, `SELECT id, workspace_id, name, key_prefix, hashed_key, created_by_user_id, last_used_at, expires_at, revoked_at, created_at FROM api_keys WHERE key_prefix=$1 AND revoked_at IS NULL LIMIT 1`, keyPrefix)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key not found or revoked"})
			return
		}
		if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key expired"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(key.HashedKey), []byte(raw)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		now := time.Now()
		_, _ = database.DB.Exec(`UPDATE api_keys SET last_used_at=$1 WHERE id=$2`, now, key.ID)
		RecordAPIKeyUsage(keyPrefix, key.WorkspaceID.String())
		c.Set("workspaceID", key.WorkspaceID.String())
		c.Set("apiKeyPrefix", keyPrefix)
		c.Set("apiKeyID", key.ID.String())
		c.Next()
	}
}

// WorkspaceParamFromKey copies the API key's workspace into the route
// params so workspace-scoped handlers can be mounted on the key-auth
// surface without a :workspaceId segment.
func WorkspaceParamFromKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Params = append(c.Params, gin.Param{Key: "workspaceId", Value: c.GetString("workspaceID")})
		c.Next()
	}
}

// RequestIDMiddleware ensures every request has an X-Request-ID. If absent, generate one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.New().String()
		}
		ctx := context.WithValue(c.Request.Context(), "requestID", rid)
		c.Request = c.Request.WithContext(ctx)
		c.Set("requestID", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

// --- API Version middleware ---
// Reads REEL-Version request header; if absent, uses default; always sets X-REEL-Version in response.
func VersionMiddleware(defaultVersion string) gin.HandlerFunc {
	if defaultVersion == "" {
		defaultVersion = "2026-08-01"
	}
	return func(c *gin.Context) {
		ver := c.GetHeader("REEL-Version")
		if ver == "" {
			ver = defaultVersion
		}
		c.Set("reelVersion", ver)
		c.Writer.Header().Set("X-REEL-Version", ver)
		c.Next()
	}
}

// --- In-memory sliding-window rate limiter ---
// Two adjacent fixed windows per client; the effective count weights the
// previous window by its remaining overlap. A background sweep evicts
// entries idle for more than two windows.

type clientWindow struct {
	prevCount   int
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

type slidingLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   int
	window  time.Duration
}

func newSlidingLimiter(limit int, window time.Duration) *slidingLimiter {
	l := &slidingLimiter{
		clients: make(map[string]*clientWindow),
		limit:   limit,
		window:  window,
	}
	go l.sweep()
	return l
}

// allow reports whether the request fits the window, and if not, how long
// until it would.
func (l *slidingLimiter) allow(key string) (bool, time.Duration) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	cw, ok := l.clients[key]
	if !ok {
		l.clients[key] = &clientWindow{count: 1, windowStart: now, lastSeen: now}
		return true, 0
	}
	cw.lastSeen = now
	elapsed := now.Sub(cw.windowStart)
	if elapsed >= 2*l.window {
		cw.prevCount = 0
		cw.count = 1
		cw.windowStart = now
		return true, 0
	}
	if elapsed >= l.window {
		cw.prevCount = cw.count
		cw.count = 0
		cw.windowStart = cw.windowStart.Add(l.window)
		elapsed -= l.window
	}
	// Weight the previous window by how much of it still overlaps.
	overlap := 1 - float64(elapsed)/float64(l.window)
	effective := float64(cw.count) + float64(cw.prevCount)*overlap
	if effective < float64(l.limit) {
		cw.count++
		return true, 0
	}
	retryAfter := l.window - elapsed
	return false, retryAfter
}

// sweep drops clients idle for two full windows. Runs for the life of the
// process; limiters are created once per route group.
func (l *slidingLimiter) sweep() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-2 * l.window)
		l.mu.Lock()
		for k, cw := range l.clients {
			if cw.lastSeen.Before(cutoff) {
				delete(l.clients, k)
			}
		}
		l.mu.Unlock()
	}
}

// rateLimitKey prefers the API key prefix (stable even behind shared NAT)
// and falls back to client IP for unauthenticated traffic.
func rateLimitKey(c *gin.Context) string {
	if kp := c.GetString("apiKeyPrefix"); kp != "" {
		return "key:" + kp
	}
	ip := c.ClientIP()
	if net.ParseIP(ip) == nil {
		ip = "unknown"
	}
	return "ip:" + ip
}

// RateLimitMiddleware limits requests per client key. Intended for /v1 endpoints.
func RateLimitMiddleware(limitPerMinute int) gin.HandlerFunc {
	if limitPerMinute <= 0 {
		limitPerMinute = 60
	}
	limiter := newSlidingLimiter(limitPerMinute, time.Minute)
	return func(c *gin.Context) {
		ok, retryAfter := limiter.allow(rateLimitKey(c))
		if !ok {
			RecordRateLimited(c.FullPath())
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Try again later."})
			return
		}
		c.Next()
	}
}

// PublicRateLimitMiddlewareFromEnv throttles the unauthenticated surface
// (login, register, oauth callbacks) keyed by client IP, so credential
// stuffing burns the window instead of bcrypt time. REEL_PUBLIC_RPM tunes
// the per-minute budget; 0 disables.
func PublicRateLimitMiddlewareFromEnv() gin.HandlerFunc {
	rpm := parseEnvInt("REEL_PUBLIC_RPM", 30)
	if rpm <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return RateLimitMiddleware(rpm)
}

// --- Optional Redis-backed rate limiter for distributed deployments ---
// Uses minute-window keys per client. Enable with REEL_REDIS_ADDR; configure
// limit via REEL_V1_RPM. Falls back to in-memory limiter if Redis is not
// configured or unreachable.

// RateLimitMiddlewareFromEnv builds a rate-limit middleware using env config.
// REEL_V1_RPM (default 60). If REEL_REDIS_ADDR is set, use Redis; else in-memory.
func RateLimitMiddlewareFromEnv() gin.HandlerFunc {
	rpm := 60
	if v := os.Getenv("REEL_V1_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rpm = n
		}
	}
	addr := os.Getenv("REEL_REDIS_ADDR")
	if addr == "" {
		return RateLimitMiddleware(rpm)
	}
	rc := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REEL_REDIS_PASSWORD"),
		DB:       parseEnvInt("REEL_REDIS_DB", 0),
	})
	fallback := RateLimitMiddleware(rpm)

	return func(c *gin.Context) {
		clientKey := rateLimitKey(c)
		now := time.Now().UTC()
		key := fmt.Sprintf("rl:%s:%04d%02d%02d%02d%02d", clientKey, now.Year(), int(now.Month()), now.Day(), now.Hour(), now.Minute())
		ctx, cancel := context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
		defer cancel()

		n, err := rc.Incr(ctx, key).Result()
		if err != nil {
			fallback(c)
			return
		}
		_ = rc.Expire(ctx, key, 61*time.Second).Err()
		if int(n) > rpm {
			RecordRateLimited(c.FullPath())
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded. Try again later."})
			return
		}
		c.Next()
	}
}

// helpers
func parseEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// --- Idempotency middleware (Redis-backed if configured, else in-memory) ---
type captureWriter struct {
	gin.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

type idemRecord struct {
	status int
	body   []byte
	ts     time.Time
}

var (
	idemStore     sync.Map // key -> idemRecord
	idemSweepOnce sync.Once
)

// sweepIdemStore evicts cached responses older than ttl. The Redis path
// expires keys natively; this covers the in-memory fallback.
func sweepIdemStore(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)
	idemStore.Range(func(k, v any) bool {
		if rec, ok := v.(idemRecord); ok && rec.ts.Before(cutoff) {
			idemStore.Delete(k)
		}
		return true
	})
}

func getRedisFromEnv() *redis.Client {
	addr := os.Getenv("REEL_REDIS_ADDR")
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REEL_REDIS_PASSWORD"), DB: parseEnvInt("REEL_REDIS_DB", 0)})
}

// IdempotencyMiddlewareFromEnv caches responses for POST requests that include
// an Idempotency-Key header on mutating workspace routes.
func IdempotencyMiddlewareFromEnv() gin.HandlerFunc {
	rc := getRedisFromEnv()
	ttl := time.Hour * 24
	if rc == nil {
		idemSweepOnce.Do(func() {
			go func() {
				ticker := time.NewTicker(time.Hour)
				defer ticker.Stop()
				for range ticker.C {
					sweepIdemStore(ttl)
				}
			}()
		})
	}
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		key := c.GetHeader("Idempotency-Key")
		if key == "" {
			c.Next()
			return
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !strings.Contains(path, "/workspaces/") {
			c.Next()
			return
		}
		// scope with workspace id when available
		workspaceID := c.Param("workspaceId")
		// also scope by a canonical digest of the body so a reused key with a
		// different payload starts a fresh request instead of replaying a
		// response that belongs to someone else's call
		var bodyDigest string
		if c.Request.Body != nil {
			if raw, err := io.ReadAll(c.Request.Body); err == nil {
				c.Request.Body = io.NopCloser(bytes.NewReader(raw))
				sum := sha256.Sum256(utils.CanonicalizeJSON(raw))
				bodyDigest = hex.EncodeToString(sum[:8])
			}
		}
		storageKey := fmt.Sprintf("idem:%s:%s:%s", workspaceID, key, bodyDigest)
		if rc != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 250*time.Millisecond)
			defer cancel()
			if data, err := rc.Get(ctx, storageKey).Bytes(); err == nil && len(data) >= 3 {
				// format: <status>\n<body>
				for i := 0; i < len(data); i++ {
					if data[i] == '\n' {
						statusStr := string(data[:i])
						body := data[i+1:]
						if s, err2 := strconv.Atoi(statusStr); err2 == nil {
							c.Status(s)
							c.Writer.Header().Set("X-Idempotent-Replay", "true")
							_, _ = c.Writer.Write(body)
							c.Abort()
							return
						}
						break
					}
				}
			}
		} else {
			if v, ok := idemStore.Load(storageKey); ok {
				if rec, ok2 := v.(idemRecord); ok2 && time.Since(rec.ts) < ttl {
					c.Status(rec.status)
					c.Writer.Header().Set("X-Idempotent-Replay", "true")
					_, _ = c.Writer.Write(rec.body)
					c.Abort()
					return
				}
			}
		}

		cw := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = cw
		c.Next()
		// after handler, store result
		status := cw.status
		body := cw.buf.Bytes()
		if rc != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer cancel()
			payload := []byte(strconv.Itoa(status) + "\n")
			payload = append(payload, body...)
			_ = rc.Set(ctx, storageKey, payload, ttl).Err()
		} else {
			idemStore.Store(storageKey, idemRecord{status: status, body: append([]byte(nil), body...), ts: time.Now()})
		}
	}
}
