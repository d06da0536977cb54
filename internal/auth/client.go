package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	deviceCodePath  = "/login/device/code"
	accessTokenPath = "/login/oauth/access_token"
	userPath        = "/user"

	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

	// maxBodySize bounds every response body read from GitHub.
	maxBodySize = 1 << 20
)

var (
	// ErrInvalidCredential means GitHub rejected the stored token. The token has been cleared.
	ErrInvalidCredential = errors.New("auth: github rejected the stored token")
	// ErrExpired means the user did not approve the device code within the attempt budget.
	ErrExpired = errors.New("auth: device authorization expired")
)

// Options configure the device flow endpoints and polling budget.
type Options struct {
	BaseURL            string
	APIURL             string
	PollAttempts       int
	IntervalMultiplier int
	DefaultInterval    time.Duration
	HTTPClient         *http.Client

	// Sleep waits between polls. It returns early with ctx's error.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnAuthorized runs on the polling goroutine once a token is stored.
	OnAuthorized func(Credential)
}

// DefaultOptions returns GitHub's public endpoints and the stock polling budget.
func DefaultOptions() Options {
	return Options{
		BaseURL:            "https://github.com",
		APIURL:             "https://api.github.com",
		PollAttempts:       20,
		IntervalMultiplier: 2,
		DefaultInterval:    15 * time.Second,
		HTTPClient:         &http.Client{Timeout: 30 * time.Second},
	}
}

// Client runs the GitHub OAuth device flow and resolves the user's login.
type Client struct {
	creds  *Credentials
	logger *zap.Logger
	opts   Options
}

// NewClient fills unset options from DefaultOptions.
func NewClient(creds *Credentials, logger *zap.Logger, opts Options) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.APIURL == "" {
		opts.APIURL = def.APIURL
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = def.PollAttempts
	}
	if opts.IntervalMultiplier <= 0 {
		opts.IntervalMultiplier = def.IntervalMultiplier
	}
	if opts.DefaultInterval <= 0 {
		opts.DefaultInterval = def.DefaultInterval
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = def.HTTPClient
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")
	return &Client{creds: creds, logger: logger, opts: opts}
}

// Credentials returns the store the client writes to.
func (c *Client) Credentials() *Credentials { return c.creds }

// StartDeviceAuth requests a device code and starts polling for the token in the background.
// ctx bounds the whole flow; canceling it ends the session in StateCanceled.
// If the code cannot be obtained the returned session is already StateFailed with empty codes.
func (c *Client) StartDeviceAuth(ctx context.Context, clientID, scope string) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	s := newSession(id.String())
	log := c.logger.With(zap.String("session", s.ID))

	params, err := c.postForm(ctx, c.opts.BaseURL+deviceCodePath, url.Values{
		"client_id": {clientID},
		"scope":     {scope},
	})
	if err == nil && (params.Get("device_code") == "" || params.Get("user_code") == "") {
		err = errors.New("device code response is missing device_code or user_code")
	}
	if err != nil {
		err = fmt.Errorf("failed to start device authorization: %w", err)
		log.Warn("device authorization could not start", zap.Error(err))
		s.finish(StateFailed, err)
		return s, err
	}

	s.userCode = params.Get("user_code")
	s.verificationURI = params.Get("verification_uri")
	interval := c.pollInterval(params.Get("interval"))

	s.setState(StatePolling)
	log.Info("device authorization started",
		zap.String("verification_uri", s.verificationURI),
		zap.Duration("poll_interval", interval))

	go c.poll(ctx, s, log, clientID, params.Get("device_code"), interval)
	return s, nil
}

// pollInterval applies the multiplier to the server's suggested interval in seconds.
func (c *Client) pollInterval(raw string) time.Duration {
	base := c.opts.DefaultInterval
	if raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			base = time.Duration(secs * float64(time.Second))
		}
	}
	return base * time.Duration(c.opts.IntervalMultiplier)
}

func (c *Client) poll(ctx context.Context, s *Session, log *zap.Logger, clientID, deviceCode string, interval time.Duration) {
	for attempt := 1; attempt <= c.opts.PollAttempts; attempt++ {
		if err := c.opts.Sleep(ctx, interval); err != nil {
			log.Info("device authorization canceled", zap.Error(err))
			s.finish(StateCanceled, err)
			return
		}

		params, err := c.postForm(ctx, c.opts.BaseURL+accessTokenPath, url.Values{
			"client_id":   {clientID},
			"device_code": {deviceCode},
			"grant_type":  {deviceGrantType},
		})
		if err != nil {
			log.Debug("token poll failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		token := params.Get("access_token")
		if token == "" {
			log.Debug("authorization pending",
				zap.Int("attempt", attempt), zap.String("error", params.Get("error")))
			continue
		}

		if err := c.creds.SetToken(token); err != nil {
			log.Error("failed to store token", zap.Error(err))
			s.finish(StateFailed, err)
			return
		}
		if _, err := c.ResolveUsername(ctx); err != nil {
			log.Warn("failed to resolve username", zap.Error(err))
		}
		log.Info("device authorization complete", zap.Int("attempts", attempt))
		s.finish(StateAuthorized, nil)
		if c.opts.OnAuthorized != nil {
			c.opts.OnAuthorized(c.creds.Get())
		}
		return
	}

	log.Info("device authorization expired", zap.Int("attempts", c.opts.PollAttempts))
	s.finish(StateExpired, ErrExpired)
}

// ResolveUsername looks up the login for the stored token and stores it.
// With no token it does nothing. A 401 clears the token and returns ErrInvalidCredential.
func (c *Client) ResolveUsername(ctx context.Context) (string, error) {
	cred := c.creds.Get()
	if cred.Token == "" {
		return "", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.APIURL+userPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build user request: %w", err)
	}
	req.Header.Set("Authorization", "token "+cred.Token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("user request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		c.logger.Warn("github rejected token, clearing it")
		if err := c.creds.SetToken(""); err != nil {
			return "", errors.Join(ErrInvalidCredential, err)
		}
		return "", ErrInvalidCredential
	default:
		return "", fmt.Errorf("user request returned status %d", resp.StatusCode)
	}

	var user struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&user); err != nil {
		return "", fmt.Errorf("failed to decode user: %w", err)
	}
	if user.Login == "" {
		return "", errors.New("user response has no login")
	}
	if err := c.creds.SetUsername(user.Login); err != nil {
		return "", err
	}
	return user.Login, nil
}

// postForm posts form to endpoint and parses the url-encoded reply.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (url.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	params, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return params, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
