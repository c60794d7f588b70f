package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/oauth2"

	database "github.com/reelworks/reel-backend/internal"
)

var socialProviders = map[string]bool{"x": true, "tiktok": true, "youtube": true, "linkedin": true}

// loadSocialOAuthConfig builds the oauth2 config for a social provider
// from env. Unlike SSO these are plain OAuth2 flows, not OIDC.
func loadSocialOAuthConfig(provider string) (*oauth2.Config, error) {
	upper := strings.ToUpper(provider)
	clientID := os.Getenv("REEL_SOCIAL_" + upper + "_CLIENT_ID")
	clientSecret := os.Getenv("REEL_SOCIAL_" + upper + "_CLIENT_SECRET")
	authURL := os.Getenv("REEL_SOCIAL_" + upper + "_AUTH_URL")
	tokenURL := os.Getenv("REEL_SOCIAL_" + upper + "_TOKEN_URL")
	if clientID == "" || clientSecret == "" || authURL == "" || tokenURL == "" {
		return nil, fmt.Errorf("provider %s is not configured", provider)
	}
	redirect := strings.TrimRight(getEnvAny("REEL_API_BASE_URL", "PUBLIC_API_BASE"), "/") + "/social/" + provider + "/callback"
	scopes := []string{}
	if s := os.Getenv("REEL_SOCIAL_" + upper + "_SCOPES"); s != "" {
		scopes = strings.Split(s, ",")
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
		RedirectURL:  redirect,
		Scopes:       scopes,
	}, nil
}

// ConnectSocialAccount starts the OAuth2 flow for a provider. The state
// token carries workspace and user so the callback can attach the account.
func ConnectSocialAccount(c *gin.Context) {
	provider := strings.ToLower(c.Param("provider"))
	if !socialProviders[provider] {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown provider"})
		return
	}
	cfg, err := loadSocialOAuthConfig(provider)
	if err != nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
		return
	}
	st, err := signState(jwtlib.MapClaims{
		"typ":          "social_state",
		"prov":         provider,
		"workspace_id": c.Param("workspaceId"),
		"user_id":      c.GetString("userID"),
		"exp":          time.Now().Add(10 * time.Minute).Unix(),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign state"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authorize_url": cfg.AuthCodeURL(st, oauth2.AccessTypeOffline)})
}

// SocialCallback finishes the OAuth2 flow and stores the account tokens.
func SocialCallback(c *gin.Context) {
	provider := strings.ToLower(c.Param("provider"))
	if !socialProviders[provider] {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown provider"})
		return
	}
	cfg, err := loadSocialOAuthConfig(provider)
	if err != nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
		return
	}
	claims, err := verifyState(c.Query("state"))
	if err != nil || claims["typ"] != "social_state" || claims["prov"] != provider {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid state"})
		return
	}
	workspaceID, err := uuid.Parse(fmt.Sprint(claims["workspace_id"]))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid state"})
		return
	}
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing code"})
		return
	}
	tok, err := cfg.Exchange(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token exchange failed"})
		return
	}

	externalID := fmt.Sprint(tok.Extra("user_id"))
	displayName := fmt.Sprint(tok.Extra("screen_name"))
	if externalID == "" || externalID == "<nil>" {
		externalID = uuid.NewString()
	}
	if displayName == "" || displayName == "<nil>" {
		displayName = provider + " account"
	}
	var refresh *string
	if tok.RefreshToken != "" {
		refresh = &tok.RefreshToken
	}
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		expiry = &tok.Expiry
	}

	id := uuid.New()
	_, err = database.DB.Exec(`INSERT INTO social_accounts (id, workspace_id, provider, external_id, display_name, access_token, refresh_token, token_expires_at, created_at)
	        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
	        ON CONFLICT (workspace_id, provider, external_id) DO UPDATE SET
	            display_name=EXCLUDED.display_name, access_token=EXCLUDED.access_token,
	            refresh_token=COALESCE(EXCLUDED.refresh_token, social_accounts.refresh_token),
	            token_expires_at=EXCLUDED.token_expires_at`,
		id, workspaceID, provider, externalID, displayName, tok.AccessToken, refresh, expiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store account"})
		return
	}
	recordEvent(workspaceID, nil, "social.connected", map[string]any{"provider": provider})
	c.JSON(http.StatusOK, gin.H{"connected": true, "provider": provider})
}

// ListSocialAccounts returns connected accounts. Tokens are never exposed.
func ListSocialAccounts(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	accounts := []database.SocialAccount{}
	err := database.DB.Select(&accounts, `SELECT id, workspace_id, provider, external_id, display_name, access_token, refresh_token, token_expires_at, created_at
	        FROM social_accounts WHERE workspace_id=$1 ORDER BY created_at ASC`, workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list accounts"})
		return
	}
	resp := make([]SocialAccountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, SocialAccountResponse{ID: a.ID, Provider: a.Provider, DisplayName: a.DisplayName, CreatedAt: a.CreatedAt})
	}
	c.JSON(http.StatusOK, resp)
}

// DisconnectSocialAccount removes a connected account. Scheduled posts
// targeting it keep their history; pending targets fail at publish time.
func DisconnectSocialAccount(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	accountID, err := uuid.Parse(c.Param("accountId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account ID"})
		return
	}
	res, err := database.DB.Exec(`DELETE FROM social_accounts WHERE id=$1 AND workspace_id=$2`, accountID, workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to disconnect account"})
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// CreatePost schedules a post for one or more connected accounts.
func CreatePost(c *gin.Context) {
	workspaceID, err := uuid.Parse(c.Param("workspaceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid workspace ID"})
		return
	}
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.PublishAt.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "publish_at must be in the future"})
		return
	}
	if req.ClipID == nil && req.VideoID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clip_id or video_id is required"})
		return
	}
	if req.ClipID != nil {
		var status string
		if err := database.DB.Get(&status, `SELECT status FROM clips WHERE id=$1 AND workspace_id=$2`, req.ClipID, workspaceID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Clip not found"})
			return
		}
		if status != "rendered" {
			c.JSON(http.StatusConflict, gin.H{"error": "Clip must be rendered before scheduling"})
			return
		}
	}
	// all target accounts must belong to this workspace
	var owned int
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM social_accounts WHERE workspace_id=? AND id IN (?)`, workspaceID, req.AccountIDs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account list"})
		return
	}
	query = database.DB.Rebind(query)
	if err := database.DB.Get(&owned, query, args...); err != nil || owned != len(req.AccountIDs) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "One or more accounts are not connected to this workspace"})
		return
	}

	tx, err := database.DB.Beginx()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start database transaction"})
		return
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	postID := uuid.New()
	if _, err = tx.Exec(`INSERT INTO scheduled_posts (id, workspace_id, clip_id, video_id, caption, publish_at, status, attempts, created_by_user_id, created_at, updated_at)
	        VALUES ($1,$2,$3,$4,$5,$6,'scheduled',0,$7,NOW(),NOW())`,
		postID, workspaceID, req.ClipID, req.VideoID, req.Caption, req.PublishAt, uuid.MustParse(c.GetString("userID"))); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule post"})
		return
	}
	for _, acc := range req.AccountIDs {
		if _, err = tx.Exec(`INSERT INTO post_targets (post_id, social_account_id, status) VALUES ($1,$2,'pending')`, postID, acc); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule post"})
			return
		}
	}
	if err = tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit"})
		return
	}
	recordEvent(workspaceID, actorID(c), "post.scheduled", map[string]any{"post_id": postID, "publish_at": req.PublishAt})
	c.JSON(http.StatusCreated, PostResponse{
		ID: postID, ClipID: req.ClipID, VideoID: req.VideoID, Caption: req.Caption,
		PublishAt: req.PublishAt, Status: "scheduled", CreatedAt: time.Now(),
	})
}

func postResponse(p database.ScheduledPost, targets []database.PostTarget) PostResponse {
	resp := PostResponse{
		ID: p.ID, ClipID: p.ClipID, VideoID: p.VideoID, Caption: p.Caption, PublishAt: p.PublishAt,
		Status: p.Status, Attempts: p.Attempts, LastError: p.LastError, CreatedAt: p.CreatedAt,
	}
	for _, t := range targets {
		resp.Targets = append(resp.Targets, PostTargetResponse{
			SocialAccountID: t.SocialAccountID, Status: t.Status, ExternalPostID: t.ExternalPostID, Error: t.Error,
		})
	}
	return resp
}

// ListPosts returns scheduled posts, soonest first. Optional ?status= filter.
func ListPosts(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	posts := []database.ScheduledPost{}
	query := `SELECT id, workspace_id, clip_id, video_id, caption, publish_at, status, attempts, next_attempt_at, last_error, created_by_user_id, created_at, updated_at
	        FROM scheduled_posts WHERE workspace_id=$1`
	args := []any{workspaceID}
	if s := c.Query("status"); s != "" {
		args = append(args, s)
		query += ` AND status=$2`
	}
	query += ` ORDER BY publish_at ASC LIMIT 200`
	if err := database.DB.Select(&posts, query, args...); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list posts"})
		return
	}
	resp := make([]PostResponse, 0, len(posts))
	for _, p := range posts {
		resp = append(resp, postResponse(p, nil))
	}
	c.JSON(http.StatusOK, resp)
}

func getWorkspacePost(c *gin.Context) (database.ScheduledPost, bool) {
	var p database.ScheduledPost
	err := database.DB.Get(&p, `SELECT id, workspace_id, clip_id, video_id, caption, publish_at, status, attempts, next_attempt_at, last_error, created_by_user_id, created_at, updated_at
	        FROM scheduled_posts WHERE id=$1 AND workspace_id=$2`, c.Param("postId"), c.Param("workspaceId"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch post"})
		}
		return p, false
	}
	return p, true
}

// GetPost returns one post with its per-account targets.
func GetPost(c *gin.Context) {
	p, ok := getWorkspacePost(c)
	if !ok {
		return
	}
	targets := []database.PostTarget{}
	_ = database.DB.Select(&targets, `SELECT post_id, social_account_id, status, external_post_id, error FROM post_targets WHERE post_id=$1`, p.ID)
	c.JSON(http.StatusOK, postResponse(p, targets))
}

// UpdatePost edits caption or publish time. Only posts still in
// "scheduled" can change.
func UpdatePost(c *gin.Context) {
	p, ok := getWorkspacePost(c)
	if !ok {
		return
	}
	if p.Status != "scheduled" {
		c.JSON(http.StatusConflict, gin.H{"error": "Only scheduled posts can be edited"})
		return
	}
	var req UpdatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.Caption == nil && req.PublishAt == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Nothing to update"})
		return
	}
	if req.PublishAt != nil && req.PublishAt.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "publish_at must be in the future"})
		return
	}
	if req.Caption != nil {
		p.Caption = *req.Caption
	}
	if req.PublishAt != nil {
		p.PublishAt = *req.PublishAt
	}
	// guard the status again inside the update so a concurrent publisher
	// claim cannot be overwritten
	res, err := database.DB.Exec(`UPDATE scheduled_posts SET caption=$1, publish_at=$2, updated_at=NOW() WHERE id=$3 AND status='scheduled'`,
		p.Caption, p.PublishAt, p.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update post"})
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Post is no longer editable"})
		return
	}
	c.JSON(http.StatusOK, postResponse(p, nil))
}

// CancelPost cancels a scheduled post before it publishes.
func CancelPost(c *gin.Context) {
	p, ok := getWorkspacePost(c)
	if !ok {
		return
	}
	res, err := database.DB.Exec(`UPDATE scheduled_posts SET status='canceled', updated_at=NOW() WHERE id=$1 AND status='scheduled'`, p.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel post"})
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Post can no longer be canceled"})
		return
	}
	recordEvent(p.WorkspaceID, actorID(c), "post.canceled", map[string]any{"post_id": p.ID})
	c.Status(http.StatusNoContent)
}
