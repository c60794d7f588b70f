package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	database "github.com/reelworks/reel-backend/internal"
)

// mintAPIKey returns the raw key and its lookup prefix. Format:
// reel_sk_<8-char prefix><48-char secret>; the prefix is indexed, the full
// key is only ever stored as a bcrypt hash.
func mintAPIKey() (raw, prefix string, err error) {
	buf := make([]byte, 28)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	random := hex.EncodeToString(buf)
	prefix = random[:8]
	raw = "reel_sk_" + random
	return raw, prefix, nil
}

// CreateAPIKey mints a new workspace API key. The raw key is returned once
// and never retrievable afterwards.
func CreateAPIKey(c *gin.Context) {
	workspaceID, err := uuid.Parse(c.Param("workspaceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid workspace ID"})
		return
	}
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be in the future"})
		return
	}

	raw, prefix, err := mintAPIKey()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate key"})
		return
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash key"})
		return
	}

	key := database.APIKey{
		ID:              uuid.New(),
		WorkspaceID:     workspaceID,
		Name:            req.Name,
		KeyPrefix:       prefix,
		HashedKey:       string(hashed),
		CreatedByUserID: uuid.MustParse(c.GetString("userID")),
		ExpiresAt:       req.ExpiresAt,
		CreatedAt:       time.Now(),
	}
	_, err = database.DB.NamedExec(`INSERT INTO api_keys (id, workspace_id, name, key_prefix, hashed_key, created_by_user_id, expires_at, created_at)
	        VALUES (:id, :workspace_id, :name, :key_prefix, :hashed_key, :created_by_user_id, :expires_at, :created_at)`, key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store key"})
		return
	}
	recordEvent(workspaceID, actorID(c), "apikey.created", map[string]any{"key_prefix": prefix, "name": req.Name})
	c.JSON(http.StatusCreated, APIKeyResponse{
		ID: key.ID, Name: key.Name, KeyPrefix: prefix, ExpiresAt: key.ExpiresAt, CreatedAt: key.CreatedAt, Key: raw,
	})
}

// GetAPIKeys lists active API keys for a workspace. Secrets are never returned.
func GetAPIKeys(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	rows := []struct {
		ID         uuid.UUID  `db:"id"`
		Name       string     `db:"name"`
		KeyPrefix  string     `db:"key_prefix"`
		LastUsedAt *time.Time `db:"last_used_at"`
		ExpiresAt  *time.Time `db:"expires_at"`
		CreatedAt  time.Time  `db:"created_at"`
	}{}
	err := database.DB.Select(&rows, `SELECT id, name, key_prefix, last_used_at, expires_at, created_at
	        FROM api_keys WHERE workspace_id=$1 AND revoked_at IS NULL ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list keys"})
		return
	}
	resp := make([]APIKeyResponse, 0, len(rows))
	for _, r := range rows {
		resp = append(resp, APIKeyResponse{ID: r.ID, Name: r.Name, KeyPrefix: r.KeyPrefix, LastUsedAt: r.LastUsedAt, ExpiresAt: r.ExpiresAt, CreatedAt: r.CreatedAt})
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteAPIKey revokes an API key. Revocation is a soft delete so the key
// prefix stays attributable in event logs.
func DeleteAPIKey(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	keyID, err := uuid.Parse(c.Param("keyId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key ID"})
		return
	}
	res, err := database.DB.Exec(`UPDATE api_keys SET revoked_at=NOW() WHERE id=$1 AND workspace_id=$2 AND revoked_at IS NULL`, keyID, workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke key"})
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// RotateAPIKey revokes the old key and mints a replacement with the same
// name and expiry in one transaction.
func RotateAPIKey(c *gin.Context) {
	workspaceID, err := uuid.Parse(c.Param("workspaceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid workspace ID"})
		return
	}
	keyID, err := uuid.Parse(c.Param("keyId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid key ID"})
		return
	}

	var old database.APIKey
	err = database.DB.Get(&old, `SELECT id, workspace_id, name, key_prefix, hashed_key, created_by_user_id, last_used_at, expires_at, revoked_at, created_at
	        FROM api_keys WHERE id=$1 AND workspace_id=$2 AND revoked_at IS NULL`, keyID, workspaceID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		return
	}

	raw, prefix, err := mintAPIKey()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate key"})
		return
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash key"})
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
	if _, err = tx.Exec(`UPDATE api_keys SET revoked_at=NOW() WHERE id=$1`, old.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke old key"})
		return
	}
	newID := uuid.New()
	if _, err = tx.Exec(`INSERT INTO api_keys (id, workspace_id, name, key_prefix, hashed_key, created_by_user_id, expires_at, created_at)
	        VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		newID, workspaceID, old.Name, prefix, string(hashed), old.CreatedByUserID, old.ExpiresAt); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store new key"})
		return
	}
	if err = tx.Commit(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to commit rotation"})
		return
	}
	recordEvent(workspaceID, actorID(c), "apikey.rotated", map[string]any{"old_prefix": old.KeyPrefix, "new_prefix": prefix})
	c.JSON(http.StatusOK, APIKeyResponse{ID: newID, Name: old.Name, KeyPrefix: prefix, ExpiresAt: old.ExpiresAt, CreatedAt: time.Now(), Key: raw})
}
