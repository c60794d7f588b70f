package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	database "github.com/reelworks/reel-backend/internal"
	"github.com/reelworks/reel-backend/internal/api"
	"github.com/reelworks/reel-backend/internal/mesh"
)

func main() {
	database.Connect()

	// Determine listen port from environment (PORT or REEL_PORT), default to 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = os.Getenv("REEL_PORT")
	}
	if port == "" {
		port = "8080"
	}
	log.Println("Starting Reel backend server on :" + port + "...")
	router := gin.Default()
	// OpenTelemetry tracing (optional)
	if shutdown, ok := api.SetupOTelFromEnv(); ok {
		defer shutdown(context.Background())
		router.Use(otelgin.Middleware("reel-backend"))
	}

	// Event bus (NATS when built with the nats tag and configured, else local)
	if bus, err := mesh.NewBusFromEnv(); err != nil {
		log.Printf("event bus disabled: %v", err)
	} else {
		api.SetBus(bus)
	}

	// Media pipeline client for processing dispatch and clip renders
	if !api.InitPipelineClient() {
		log.Println("REEL_PIPELINE_URL not set; video processing is disabled")
	}

	// Background workers share a cancellable context tied to SIGINT/SIGTERM
	wctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		<-sigc
		log.Println("signal received, cancelling workers...")
		cancel()
	}()
	if os.Getenv("REEL_QUEUE_ENABLE") != "" {
		go api.StartRenderWorker(wctx)
	}
	if os.Getenv("REEL_PUBLISHER_DISABLE") == "" {
		api.StartPostPublisher(wctx)
	}

	// Metrics
	router.Use(api.MetricsMiddleware())
	// Assign a Request ID to every request for tracing
	router.Use(api.RequestIDMiddleware())
	// API versioning header middleware
	router.Use(api.VersionMiddleware("2026-08-01"))

	config := cors.Config{
		AllowAllOrigins:  true, // development default; narrow with REEL_CORS_ORIGINS
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key", "X-Request-ID", "Idempotency-Key", "REEL-Version"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if origins := os.Getenv("REEL_CORS_ORIGINS"); origins != "" {
		config.AllowAllOrigins = false
		parts := strings.Split(origins, ",")
		allow := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				allow = append(allow, s)
			}
		}
		if len(allow) > 0 {
			config.AllowOrigins = allow
		}
	}
	router.Use(cors.New(config))
	// Optionally configure trusted proxies (comma-separated CIDRs or IPs)
	if tp := os.Getenv("REEL_TRUSTED_PROXIES"); tp != "" {
		parts := strings.Split(tp, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if err := router.SetTrustedProxies(parts); err != nil {
			log.Printf("warning: failed to set trusted proxies: %v", err)
		}
	}

	// --- Public routes, IP-throttled ---
	publicLimit := api.PublicRateLimitMiddlewareFromEnv()
	authRoutes := router.Group("/auth")
	authRoutes.Use(publicLimit)
	{
		authRoutes.POST("/register", api.RegisterUser)
		authRoutes.POST("/login", api.LoginUser)
	}
	router.GET("/sso/:provider/login", publicLimit, api.SSOLogin)
	router.GET("/sso/:provider/callback", publicLimit, api.SSOCallback)
	// Signature-verified callbacks from external systems
	router.POST("/webhooks/billing", api.BillingWebhook)
	router.POST("/webhooks/pipeline", api.PipelineWebhook)
	// Social OAuth callback (state-verified)
	router.GET("/social/:provider/callback", publicLimit, api.SocialCallback)
	// Plan catalog is public for pricing pages
	router.GET("/plans", api.ListPlans)

	// Programmatic API surface, authenticated by workspace API key
	coreRoutes := router.Group("/v1")
	coreRoutes.Use(api.ApiKeyAuthMiddleware())
	coreRoutes.Use(api.RateLimitMiddlewareFromEnv())
	coreRoutes.Use(api.WorkspaceParamFromKey())
	{
		coreRoutes.GET("/videos", api.ListVideos)
		coreRoutes.GET("/videos/:videoId", api.GetVideo)
		coreRoutes.POST("/videos/:videoId/process", api.ProcessVideo)
		coreRoutes.GET("/videos/:videoId/clips", api.ListClips)
		coreRoutes.GET("/clips/:clipId", api.GetClip)
		coreRoutes.POST("/clips/:clipId/render", api.RenderClip)
	}

	// Health and readiness
	router.GET("/healthz", func(c *gin.Context) { c.Status(200) })
	router.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 300*time.Millisecond)
		defer cancel()
		if err := database.DB.DB.PingContext(ctx); err != nil {
			c.JSON(503, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
		// If the render queue is enabled, require Redis to be reachable
		if os.Getenv("REEL_QUEUE_ENABLE") != "" {
			addr := os.Getenv("REEL_REDIS_ADDR")
			if addr == "" {
				addr = os.Getenv("REDIS_ADDR")
			}
			if addr == "" {
				c.JSON(503, gin.H{"status": "not ready", "error": "redis addr not configured"})
				return
			}
			rdb := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REEL_REDIS_PASSWORD")})
			rctx, rcancel := context.WithTimeout(c.Request.Context(), 300*time.Millisecond)
			defer rcancel()
			if err := rdb.Ping(rctx).Err(); err != nil {
				c.JSON(503, gin.H{"status": "not ready", "error": "redis ping failed"})
				_ = rdb.Close()
				return
			}
			_ = rdb.Close()
		}
		c.JSON(200, gin.H{"status": "ready"})
	})

	// OpenAPI JSON, Swagger UI, and Prometheus metrics
	router.GET("/openapi.json", api.OpenAPIJSON)
	router.GET("/docs", api.SwaggerUI)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Admin utilities
	admin := router.Group("/admin")
	admin.Use(api.AuthMiddleware())
	{
		admin.GET("/health", api.AdminHealth)
		admin.POST("/queue/drain", api.QueueDrain)
		admin.GET("/queue/drain/status", api.QueueDrainStatus)
		admin.GET("/queue/drain/complete", api.QueueDrainComplete)
		admin.GET("/queue/dlq", api.ListDLQ)
		admin.POST("/queue/dlq/requeue", api.RequeueDLQ)
		admin.POST("/queue/dlq/delete", api.DeleteDLQ)
	}

	// --- Protected routes (user JWT) ---
	protectedRoutes := router.Group("/")
	protectedRoutes.Use(api.AuthMiddleware())
	{
		// User profile endpoints
		protectedRoutes.GET("/me", api.GetMe)
		protectedRoutes.PUT("/me", api.UpdateMe)
		protectedRoutes.PUT("/me/password", api.UpdatePassword)
		protectedRoutes.PUT("/me/avatar", api.UpdateAvatar)
		protectedRoutes.GET("/me/avatar", api.GetAvatar)

		protectedRoutes.GET("/workspaces/mine", api.GetMyWorkspaces)
		protectedRoutes.POST("/workspaces", api.CreateWorkspace)
		// Invite acceptance happens before membership, so it sits outside
		// the workspace group
		protectedRoutes.POST("/invites/accept", api.AcceptInvite)

		wsRoutes := protectedRoutes.Group("/workspaces/:workspaceId")
		wsRoutes.Use(api.WorkspaceMemberMiddleware())
		// Apply idempotency for POST requests with Idempotency-Key header
		wsRoutes.Use(api.IdempotencyMiddlewareFromEnv())
		{
			wsRoutes.GET("", api.GetWorkspaceByID)
			wsRoutes.PUT("", api.RequireWorkspaceAdmin(), api.UpdateWorkspace)
			wsRoutes.DELETE("", api.RequireWorkspaceOwner(), api.DeleteWorkspace)

			memberRoutes := wsRoutes.Group("/members")
			{
				memberRoutes.GET("", api.ListMembers)
				memberRoutes.PUT("/:userId", api.RequireWorkspaceAdmin(), api.UpdateMemberRole)
				memberRoutes.DELETE("/:userId", api.RequireWorkspaceAdmin(), api.RemoveMember)
				memberRoutes.POST("/transfer-owner", api.RequireWorkspaceOwner(), api.TransferOwnership)
			}

			inviteRoutes := wsRoutes.Group("/invites")
			{
				inviteRoutes.POST("", api.RequireWorkspaceAdmin(), api.CreateInvite)
				inviteRoutes.GET("", api.RequireWorkspaceAdmin(), api.ListInvites)
				inviteRoutes.DELETE("/:inviteId", api.RequireWorkspaceAdmin(), api.RevokeInvite)
			}

			apiKeyRoutes := wsRoutes.Group("/apikeys")
			{
				apiKeyRoutes.POST("", api.RequireWorkspaceAdmin(), api.CreateAPIKey)
				apiKeyRoutes.GET("", api.RequireWorkspaceAdmin(), api.GetAPIKeys)
				apiKeyRoutes.DELETE("/:keyId", api.RequireWorkspaceAdmin(), api.DeleteAPIKey)
				apiKeyRoutes.POST("/:keyId/rotate", api.RequireWorkspaceAdmin(), api.RotateAPIKey)
			}

			billingRoutes := wsRoutes.Group("/billing")
			{
				billingRoutes.GET("", api.GetBilling)
				billingRoutes.GET("/usage", api.GetUsage)
				billingRoutes.POST("/checkout", api.RequireWorkspaceAdmin(), api.CreateCheckoutIntent)
			}

			videoRoutes := wsRoutes.Group("/videos")
			{
				videoRoutes.POST("", api.CreateVideo)
				videoRoutes.GET("", api.ListVideos)
				videoRoutes.GET("/:videoId", api.GetVideo)
				videoRoutes.DELETE("/:videoId", api.DeleteVideo)
				videoRoutes.POST("/:videoId/upload-complete", api.UploadComplete)
				videoRoutes.POST("/:videoId/process", api.ProcessVideo)
				videoRoutes.GET("/:videoId/clips", api.ListClips)
			}

			clipRoutes := wsRoutes.Group("/clips")
			{
				clipRoutes.GET("/:clipId", api.GetClip)
				clipRoutes.PATCH("/:clipId", api.UpdateClip)
				clipRoutes.POST("/:clipId/render", api.RenderClip)
			}

			socialRoutes := wsRoutes.Group("/social")
			{
				socialRoutes.POST("/:provider/connect", api.RequireWorkspaceAdmin(), api.ConnectSocialAccount)
				socialRoutes.GET("/accounts", api.ListSocialAccounts)
				socialRoutes.DELETE("/accounts/:accountId", api.RequireWorkspaceAdmin(), api.DisconnectSocialAccount)
			}

			postRoutes := wsRoutes.Group("/posts")
			{
				postRoutes.POST("", api.CreatePost)
				postRoutes.GET("", api.ListPosts)
				postRoutes.GET("/:postId", api.GetPost)
				postRoutes.PATCH("/:postId", api.UpdatePost)
				postRoutes.DELETE("/:postId", api.CancelPost)
			}

			logRoutes := wsRoutes.Group("/logs")
			{
				logRoutes.GET("", api.GetEventLogs)
			}
		}
	}

	err := router.Run(":" + port)
	if err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
