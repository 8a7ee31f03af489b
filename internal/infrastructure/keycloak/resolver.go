// Package keycloak resolves notification recipients to Keycloak user IDs
// through the Admin REST API.
package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrUserNotFound is returned when no enabled user owns the e-mail address.
var ErrUserNotFound = errors.New("keycloak: no user with that email")

// Resolver implements application.UserResolver.
type Resolver struct {
	adminURL     string // e.g. "http://keycloak:8080"
	realm        string // realm the users live in
	adminRealm   string // realm used for admin login, usually "master"
	clientID     string
	clientSecret string

	httpClient *http.Client

	// Lookups are cached to avoid a Keycloak round trip per video event.
	mu        sync.RWMutex
	cacheTTL  time.Duration
	cacheData map[string]cacheEntry // key: lower-cased e-mail
}

type cacheEntry struct {
	userID    string
	expiresAt time.Time
}

// Config holds the Keycloak connection settings.
type Config struct {
	AdminURL     string
	Realm        string
	AdminRealm   string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	CacheTTL     time.Duration
}

// New creates a Resolver. Zero timeout and TTL fall back to 10s and 5m.
func New(cfg Config) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.AdminRealm == "" {
		cfg.AdminRealm = "master"
	}
	return &Resolver{
		adminURL:     strings.TrimRight(cfg.AdminURL, "/"),
		realm:        cfg.Realm,
		adminRealm:   cfg.AdminRealm,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		cacheTTL:     cfg.CacheTTL,
		cacheData:    make(map[string]cacheEntry),
	}
}

type keycloakUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Enabled bool   `json:"enabled"`
}

// UserIDByEmail returns the ID of the enabled user registered with email.
func (r *Resolver) UserIDByEmail(ctx context.Context, email string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	if id, ok := r.fromCache(key); ok {
		return id, nil
	}

	token, err := r.adminToken(ctx)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("email", key)
	q.Set("exact", "true")
	endpoint := fmt.Sprintf("%s/admin/realms/%s/users?%s", r.adminURL, url.PathEscape(r.realm), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("keycloak users(%s): %w", r.realm, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("keycloak users(%s): status %d", r.realm, resp.StatusCode)
	}

	var users []keycloakUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return "", fmt.Errorf("decode keycloak users: %w", err)
	}

	for _, u := range users {
		if u.Enabled && strings.EqualFold(u.Email, key) {
			r.toCache(key, u.ID)
			return u.ID, nil
		}
	}
	return "", ErrUserNotFound
}

// adminToken fetches a short-lived admin access token with client credentials.
func (r *Resolver) adminToken(ctx context.Context) (string, error) {
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", r.adminURL, url.PathEscape(r.adminRealm))

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", r.clientID)
	form.Set("client_secret", r.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("keycloak admin token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("keycloak admin token: status %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("keycloak returned empty access_token")
	}
	return tok.AccessToken, nil
}

func (r *Resolver) fromCache(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cacheData[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.userID, true
}

func (r *Resolver) toCache(key, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheData[key] = cacheEntry{userID: userID, expiresAt: time.Now().Add(r.cacheTTL)}
}
