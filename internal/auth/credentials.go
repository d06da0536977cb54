// Package auth holds the GitHub credential and runs the OAuth device flow that obtains it.
package auth

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aayushbajaj/keyrace/internal/storage"
)

// KV is the settings store the credential is persisted in.
type KV interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// Credential is a copy of the stored GitHub identity.
type Credential struct {
	Token    string
	Username string
	LoggedIn bool
}

// Credentials is the single owner of the persisted token and username.
type Credentials struct {
	mu       sync.Mutex
	kv       KV
	logger   *zap.Logger
	token    string
	username string
	loggedIn bool
	watchers []func(Credential)
}

// NewCredentials loads the stored credential from kv.
func NewCredentials(kv KV, logger *zap.Logger) (*Credentials, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	token, err := kv.GetSetting(storage.SettingGitHubToken)
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	username, err := kv.GetSetting(storage.SettingGitHubUsername)
	if err != nil {
		return nil, fmt.Errorf("failed to read username: %w", err)
	}
	return &Credentials{
		kv:       kv,
		logger:   logger,
		token:    token,
		username: username,
		loggedIn: token != "",
	}, nil
}

// Get returns the current credential.
func (c *Credentials) Get() Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Credentials) snapshotLocked() Credential {
	return Credential{Token: c.token, Username: c.username, LoggedIn: c.loggedIn}
}

// Watch registers fn to run after every change. fn must not call back into c.
func (c *Credentials) Watch(fn func(Credential)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

// SetToken stores token. An empty token logs the user out but keeps the username.
func (c *Credentials) SetToken(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.kv.SetSetting(storage.SettingGitHubToken, token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	c.token = token
	c.loggedIn = token != ""
	c.notifyLocked()
	return nil
}

// SetUsername stores the GitHub login.
func (c *Credentials) SetUsername(username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.kv.SetSetting(storage.SettingGitHubUsername, username); err != nil {
		return fmt.Errorf("failed to store username: %w", err)
	}
	c.username = username
	c.notifyLocked()
	return nil
}

// Clear forgets both token and username.
func (c *Credentials) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.kv.SetSetting(storage.SettingGitHubToken, ""); err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	if err := c.kv.SetSetting(storage.SettingGitHubUsername, ""); err != nil {
		return fmt.Errorf("failed to clear username: %w", err)
	}
	c.token = ""
	c.username = ""
	c.loggedIn = false
	c.notifyLocked()
	c.logger.Info("credentials cleared")
	return nil
}

func (c *Credentials) notifyLocked() {
	cred := c.snapshotLocked()
	for _, fn := range c.watchers {
		fn(cred)
	}
}
