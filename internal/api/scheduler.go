package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"

	database "github.com/reelworks/reel-backend/internal"
)

const maxPublishAttempts = 5

var (
	publisherOnce sync.Once
	publisherCron *cron.Cron
)

// StartPostPublisher runs the scheduled-post publisher on a cron loop
// (every minute by default). Multiple instances can run concurrently;
// claiming uses FOR UPDATE SKIP LOCKED so each post is picked up once.
func StartPostPublisher(ctx context.Context) {
	publisherOnce.Do(func() {
		spec := os.Getenv("REEL_PUBLISHER_CRON")
		if spec == "" {
			spec = "* * * * *"
		}
		publisherCron = cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)))
		_, err := publisherCron.AddFunc(spec, func() { publishDuePosts(ctx) })
		if err != nil {
			log.Printf("post publisher: bad cron spec %q: %v", spec, err)
			return
		}
		publisherCron.Start()
		go func() {
			<-ctx.Done()
			publisherCron.Stop()
		}()
		log.Printf("post publisher online (spec %q)", spec)
	})
}

// publishingClaimTTL bounds how long a claim may sit in "publishing".
// Past it the claiming instance is assumed dead and the post requeues.
const publishingClaimTTL = 10 * time.Minute

// recoverStalePublishing requeues posts stranded mid-publish by a crashed
// instance. Runs at the top of every cron tick; the re-claim counts as a
// fresh attempt toward the retry cap.
func recoverStalePublishing() {
	res, err := database.DB.Exec(`UPDATE scheduled_posts SET status='scheduled', next_attempt_at=NOW(), updated_at=NOW()
	        WHERE status='publishing' AND updated_at < NOW() - make_interval(secs => $1)`,
		int(publishingClaimTTL.Seconds()))
	if err != nil {
		log.Printf("post publisher: stale claim recovery failed: %v", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("post publisher: requeued %d stranded posts", n)
	}
}

func publishDuePosts(ctx context.Context) {
	recoverStalePublishing()
	batch := 20
	for {
		posts, err := claimDuePosts(batch)
		if err != nil {
			log.Printf("post publisher: claim failed: %v", err)
			return
		}
		if len(posts) == 0 {
			return
		}
		for _, p := range posts {
			publishPost(ctx, p)
		}
		if len(posts) < batch {
			return
		}
	}
}

// claimDuePosts flips due posts to "publishing" and returns them. The
// SELECT and UPDATE share one transaction; SKIP LOCKED keeps concurrent
// publishers from claiming the same rows.
func claimDuePosts(limit int) ([]database.ScheduledPost, error) {
	tx, err := database.DB.Beginx()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	posts := []database.ScheduledPost{}
	err = tx.Select(&posts, `SELECT id, workspace_id, clip_id, video_id, caption, publish_at, status, attempts, next_attempt_at, last_error, created_by_user_id, created_at, updated_at
	        FROM scheduled_posts
	        WHERE status='scheduled' AND publish_at<=NOW() AND (next_attempt_at IS NULL OR next_attempt_at<=NOW())
	        ORDER BY publish_at ASC
	        LIMIT $1
	        FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, err
	}
	for i := range posts {
		if _, err = tx.Exec(`UPDATE scheduled_posts SET status='publishing', attempts=attempts+1, updated_at=NOW() WHERE id=$1`, posts[i].ID); err != nil {
			return nil, err
		}
		posts[i].Attempts++
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return posts, nil
}

type publishTarget struct {
	SocialAccountID uuid.UUID  `db:"social_account_id"`
	Status          string     `db:"status"`
	Provider        string     `db:"provider"`
	DisplayName     string     `db:"display_name"`
	AccessToken     string     `db:"access_token"`
	RefreshToken    *string    `db:"refresh_token"`
	TokenExpiresAt  *time.Time `db:"token_expires_at"`
}

// freshAccessToken returns a usable access token for the account,
// refreshing through the provider's token endpoint when the stored one
// is expired or about to expire. Refreshed tokens are persisted.
func freshAccessToken(ctx context.Context, t publishTarget) (string, error) {
	if t.TokenExpiresAt == nil || time.Until(*t.TokenExpiresAt) > time.Minute {
		return t.AccessToken, nil
	}
	if t.RefreshToken == nil || *t.RefreshToken == "" {
		return "", fmt.Errorf("token for %s expired and no refresh token stored", t.Provider)
	}
	cfg, err := loadSocialOAuthConfig(t.Provider)
	if err != nil {
		return "", err
	}
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: *t.RefreshToken,
		Expiry:       *t.TokenExpiresAt,
	}).Token()
	if err != nil {
		return "", fmt.Errorf("refresh token for %s: %w", t.Provider, err)
	}
	refresh := *t.RefreshToken
	if tok.RefreshToken != "" {
		refresh = tok.RefreshToken
	}
	_, _ = database.DB.Exec(`UPDATE social_accounts SET access_token=$1, refresh_token=$2, token_expires_at=$3 WHERE id=$4`,
		tok.AccessToken, refresh, tok.Expiry, t.SocialAccountID)
	return tok.AccessToken, nil
}

func publishPost(ctx context.Context, p database.ScheduledPost) {
	targets := []publishTarget{}
	err := database.DB.Select(&targets, `SELECT t.social_account_id, t.status, a.provider, a.display_name, a.access_token, a.refresh_token, a.token_expires_at
	        FROM post_targets t JOIN social_accounts a ON a.id = t.social_account_id
	        WHERE t.post_id=$1 AND t.status='pending'`, p.ID)
	if err != nil {
		log.Printf("post publisher: target load failed for post %s: %v", p.ID, err)
		reschedulePost(p, "failed to load targets")
		return
	}
	// also count targets whose account was disconnected after scheduling
	var orphaned int
	_ = database.DB.Get(&orphaned, `SELECT COUNT(*) FROM post_targets t
	        WHERE t.post_id=$1 AND t.status='pending'
	        AND NOT EXISTS (SELECT 1 FROM social_accounts a WHERE a.id=t.social_account_id)`, p.ID)
	if orphaned > 0 {
		_, _ = database.DB.Exec(`UPDATE post_targets SET status='failed', error='account disconnected'
		        WHERE post_id=$1 AND status='pending'
		        AND NOT EXISTS (SELECT 1 FROM social_accounts a WHERE a.id=post_targets.social_account_id)`, p.ID)
	}

	mediaURL, err := resolvePostMedia(p)
	if err != nil {
		failPost(p, err.Error())
		return
	}

	succeeded, failed := 0, orphaned
	for _, t := range targets {
		extID, err := publishToProvider(ctx, t, p.Caption, mediaURL)
		if err != nil {
			failed++
			RecordPostPublish(t.Provider, false)
			msg := err.Error()
			_, _ = database.DB.Exec(`UPDATE post_targets SET status='failed', error=$1 WHERE post_id=$2 AND social_account_id=$3`, msg, p.ID, t.SocialAccountID)
			continue
		}
		succeeded++
		RecordPostPublish(t.Provider, true)
		_, _ = database.DB.Exec(`UPDATE post_targets SET status='published', external_post_id=$1, error=NULL WHERE post_id=$2 AND social_account_id=$3`, extID, p.ID, t.SocialAccountID)
	}

	switch {
	case failed == 0 && succeeded > 0:
		_, _ = database.DB.Exec(`UPDATE scheduled_posts SET status='published', last_error=NULL, updated_at=NOW() WHERE id=$1`, p.ID)
		PublishPostPublished(ctx, p.WorkspaceID.String(), p.ID.String())
		recordEvent(p.WorkspaceID, nil, "post.published", map[string]any{"post_id": p.ID, "targets": succeeded})
	case succeeded > 0:
		_, _ = database.DB.Exec(`UPDATE scheduled_posts SET status='partial', last_error='some targets failed', updated_at=NOW() WHERE id=$1`, p.ID)
		recordEvent(p.WorkspaceID, nil, "post.partial", map[string]any{"post_id": p.ID, "published": succeeded, "failed": failed})
	default:
		reschedulePost(p, "all targets failed")
	}
}

// reschedulePost backs the post off for a retry, or fails it after the
// attempt cap. Backoff doubles per attempt starting at one minute.
func reschedulePost(p database.ScheduledPost, reason string) {
	if p.Attempts >= maxPublishAttempts {
		failPost(p, reason)
		return
	}
	delay := time.Minute << (p.Attempts - 1)
	next := time.Now().Add(delay)
	_, _ = database.DB.Exec(`UPDATE scheduled_posts SET status='scheduled', next_attempt_at=$1, last_error=$2, updated_at=NOW() WHERE id=$3`,
		next, reason, p.ID)
	// reset pending targets that failed so the retry covers them
	_, _ = database.DB.Exec(`UPDATE post_targets SET status='pending' WHERE post_id=$1 AND status='failed' AND error <> 'account disconnected'`, p.ID)
}

func failPost(p database.ScheduledPost, reason string) {
	_, _ = database.DB.Exec(`UPDATE scheduled_posts SET status='failed', last_error=$1, updated_at=NOW() WHERE id=$2`, reason, p.ID)
	recordEvent(p.WorkspaceID, nil, "post.failed", map[string]any{"post_id": p.ID, "reason": reason})
}

// resolvePostMedia returns the rendered clip URL or the source video URL.
func resolvePostMedia(p database.ScheduledPost) (string, error) {
	if p.ClipID != nil {
		var u *string
		if err := database.DB.Get(&u, `SELECT render_url FROM clips WHERE id=$1`, p.ClipID); err != nil || u == nil {
			return "", fmt.Errorf("rendered clip is unavailable")
		}
		return *u, nil
	}
	if p.VideoID != nil {
		var u *string
		if err := database.DB.Get(&u, `SELECT source_url FROM videos WHERE id=$1 AND deleted_at IS NULL`, p.VideoID); err != nil || u == nil {
			return "", fmt.Errorf("source video is unavailable")
		}
		return *u, nil
	}
	return "", fmt.Errorf("post has no media")
}

// publishToProvider calls the provider's publish endpoint with the
// account's token. Each provider gets its own circuit breaker.
func publishToProvider(ctx context.Context, t publishTarget, caption, mediaURL string) (string, error) {
	endpoint := os.Getenv("REEL_SOCIAL_" + strings.ToUpper(t.Provider) + "_PUBLISH_URL")
	if endpoint == "" {
		return "", fmt.Errorf("provider %s has no publish endpoint configured", t.Provider)
	}
	br := GetBreaker("social_" + t.Provider)
	if !br.Allow() {
		return "", fmt.Errorf("provider %s temporarily unavailable", t.Provider)
	}
	body, _ := json.Marshal(map[string]string{"caption": caption, "media_url": mediaURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	token, err := freshAccessToken(ctx, t)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		br.ReportFailure()
		RecordExternalOp("social_publish", time.Since(start), false)
		return "", fmt.Errorf("publish to %s: %w", t.Provider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		if resp.StatusCode >= 500 {
			br.ReportFailure()
		}
		RecordExternalOp("social_publish", time.Since(start), false)
		return "", fmt.Errorf("publish to %s: status %d", t.Provider, resp.StatusCode)
	}
	br.ReportSuccess()
	RecordExternalOp("social_publish", time.Since(start), true)

	var out struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	return out.ID, nil
}
