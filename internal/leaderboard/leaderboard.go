// Package leaderboard uploads today's count and keeps the leaderboard the server returns.
package leaderboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aayushbajaj/keyrace/internal/auth"
)

const maxBodySize = 1 << 20

var (
	// ErrUnauthenticated means there is no token to upload with. Nothing was sent.
	ErrUnauthenticated = errors.New("leaderboard: not logged in")
	// ErrMalformed means the server replied with something other than a leaderboard array.
	ErrMalformed = errors.New("leaderboard: malformed response")
)

// Entry is one ranked player.
type Entry struct {
	Username  string `json:"username"`
	AvatarURL string `json:"gravatar"`
	Score     int64  `json:"score"`
}

// ProfileURL links to the player's GitHub profile.
func (e Entry) ProfileURL() string {
	return "https://github.com/" + e.Username
}

// ScoreString renders the score, marking the leader at rank 0.
func (e Entry) ScoreString(rank int) string {
	s := strconv.FormatInt(e.Score, 10)
	if rank == 0 {
		s += " 🎉"
	}
	return s
}

// CredentialSource supplies the bearer token.
type CredentialSource interface {
	Get() auth.Credential
}

// Cache keeps the last accepted leaderboard across restarts.
type Cache interface {
	SaveLeaderboard(data []byte) error
	LoadLeaderboard() ([]byte, error)
}

// Uploader owns the local leaderboard snapshot.
type Uploader struct {
	client *http.Client
	creds  CredentialSource
	cache  Cache
	logger *zap.Logger

	mu      sync.Mutex
	host    string
	entries []Entry
	updated time.Time
	subs    []chan []Entry
}

// NewUploader creates an uploader for host. cache may be nil.
func NewUploader(host string, client *http.Client, creds CredentialSource, cache Cache, logger *zap.Logger) *Uploader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		host:   strings.TrimRight(host, "/"),
		client: client,
		creds:  creds,
		cache:  cache,
		logger: logger,
	}
}

// LoadCache restores the last accepted leaderboard. A missing or unreadable cache is ignored.
func (u *Uploader) LoadCache() {
	if u.cache == nil {
		return
	}
	data, err := u.cache.LoadLeaderboard()
	if err != nil {
		u.logger.Warn("failed to load leaderboard cache", zap.Error(err))
		return
	}
	if len(data) == 0 {
		return
	}
	entries, err := decodeEntries(data)
	if err != nil {
		u.logger.Warn("ignoring corrupt leaderboard cache", zap.Error(err))
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = entries
	u.publishLocked()
}

// Push uploads count and replaces the leaderboard with the server's reply.
// On any failure the current leaderboard is kept and the error returned.
func (u *Uploader) Push(ctx context.Context, count int64, onlyFollows bool) error {
	token := ""
	if u.creds != nil {
		token = u.creds.Get().Token
	}
	if token == "" {
		return ErrUnauthenticated
	}

	q := url.Values{}
	q.Set("count", strconv.FormatInt(count, 10))
	if onlyFollows {
		q.Set("only_follows", "1")
	}
	u.mu.Lock()
	host := u.host
	u.mu.Unlock()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/count?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Warn("count upload failed", zap.Error(err))
		return fmt.Errorf("count upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		u.logger.Warn("count upload rejected", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("count upload returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		u.logger.Warn("failed to read leaderboard", zap.Error(err))
		return fmt.Errorf("failed to read leaderboard: %w", err)
	}
	entries, err := decodeEntries(body)
	if err != nil {
		u.logger.Warn("discarding leaderboard response", zap.Error(err))
		return err
	}

	u.mu.Lock()
	u.entries = entries
	u.updated = time.Now()
	u.publishLocked()
	u.mu.Unlock()

	u.logger.Debug("leaderboard updated", zap.Int64("count", count), zap.Int("players", len(entries)))
	if u.cache != nil {
		data, err := json.Marshal(entries)
		if err == nil {
			err = u.cache.SaveLeaderboard(data)
		}
		if err != nil {
			u.logger.Warn("failed to cache leaderboard", zap.Error(err))
		}
	}
	return nil
}

// SetHost points later pushes at a different leaderboard server.
func (u *Uploader) SetHost(host string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.host = strings.TrimRight(host, "/")
}

// Entries returns a copy of the leaderboard in server order.
func (u *Uploader) Entries() []Entry {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Entry(nil), u.entries...)
}

// UpdatedAt returns when the last successful push replaced the leaderboard.
func (u *Uploader) UpdatedAt() time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.updated
}

// Subscribe returns a channel holding the latest leaderboard.
func (u *Uploader) Subscribe() <-chan []Entry {
	u.mu.Lock()
	defer u.mu.Unlock()
	ch := make(chan []Entry, 1)
	ch <- append([]Entry(nil), u.entries...)
	u.subs = append(u.subs, ch)
	return ch
}

func (u *Uploader) publishLocked() {
	for _, ch := range u.subs {
		select {
		case <-ch:
		default:
		}
		ch <- append([]Entry(nil), u.entries...)
	}
}

type wireEntry struct {
	Username *string `json:"username"`
	Gravatar *string `json:"gravatar"`
	Score    *int64  `json:"score"`
}

// decodeEntries accepts only a JSON array whose elements carry every Entry field.
func decodeEntries(data []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrMalformed
	}
	var wire []wireEntry
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	entries := make([]Entry, 0, len(wire))
	for i, w := range wire {
		if w.Username == nil || w.Gravatar == nil || w.Score == nil {
			return nil, fmt.Errorf("%w: entry %d is incomplete", ErrMalformed, i)
		}
		entries = append(entries, Entry{Username: *w.Username, AvatarURL: *w.Gravatar, Score: *w.Score})
	}
	return entries, nil
}
