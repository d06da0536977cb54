// Package app assembles the keyrace components and runs them against a capture feed.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aayushbajaj/keyrace/internal/auth"
	"github.com/aayushbajaj/keyrace/internal/clock"
	"github.com/aayushbajaj/keyrace/internal/config"
	"github.com/aayushbajaj/keyrace/internal/counter"
	"github.com/aayushbajaj/keyrace/internal/keylogger"
	"github.com/aayushbajaj/keyrace/internal/leaderboard"
	"github.com/aayushbajaj/keyrace/internal/storage"
)

// EventSource is a running capture feed. *keylogger.Feed implements it.
type EventSource interface {
	Events() <-chan keylogger.Event
	Disabled() <-chan struct{}
}

// Options override collaborators, mostly for tests.
type Options struct {
	Clock      clock.Clock
	HTTPClient *http.Client
	// AuthSleep replaces the wait between device flow polls.
	AuthSleep func(ctx context.Context, d time.Duration) error
}

// Service owns every long-lived component.
type Service struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *storage.Store
	clock  clock.Clock

	Creds    *auth.Credentials
	Auth     *auth.Client
	Counter  *counter.Aggregator
	Uploader *leaderboard.Uploader

	onlyFollows atomic.Bool
	uploads     chan int64

	closeOnce sync.Once
}

// NewService opens the database at cfg.Storage.Path and wires the components.
func NewService(cfg *config.Config, logger *zap.Logger, opts Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	s, err := newService(cfg, logger, store, opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return s, nil
}

func newService(cfg *config.Config, logger *zap.Logger, store *storage.Store, opts Options) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}

	creds, err := auth.NewCredentials(store, logger.Named("auth"))
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		clock:   opts.Clock,
		Creds:   creds,
		uploads: make(chan int64, 1),
	}
	s.onlyFollows.Store(store.GetPreferences().OnlyShowFollows)

	authClient := opts.HTTPClient
	if authClient == nil {
		authClient = &http.Client{Timeout: cfg.GitHub.Timeout}
	}
	s.Auth = auth.NewClient(creds, logger.Named("auth"), auth.Options{
		BaseURL:            cfg.GitHub.BaseURL,
		APIURL:             cfg.GitHub.APIURL,
		PollAttempts:       cfg.GitHub.PollAttempts,
		IntervalMultiplier: cfg.GitHub.IntervalMultiplier,
		DefaultInterval:    cfg.GitHub.DefaultInterval,
		HTTPClient:         authClient,
		Sleep:              opts.AuthSleep,
		OnAuthorized:       func(auth.Credential) { s.TriggerUpload() },
	})

	uploadClient := opts.HTTPClient
	if uploadClient == nil {
		uploadClient = &http.Client{Timeout: cfg.Leaderboard.Timeout}
	}
	s.Uploader = leaderboard.NewUploader(cfg.Leaderboard.Host, uploadClient, creds, store, logger.Named("leaderboard"))

	s.Counter = counter.NewAggregator(opts.Clock, store, logger.Named("counter"), counter.Options{
		RetainMinutes: cfg.Counter.RetainMinutes,
		RetainGrace:   cfg.Counter.RetainGrace,
		OnMinute:      s.queueUpload,
	})
	return s, nil
}

// Store exposes the database for read-only commands.
func (s *Service) Store() *storage.Store { return s.store }

// Start restores persisted state. Load failures are logged, never fatal.
func (s *Service) Start() {
	if err := s.Counter.Load(); err != nil {
		s.logger.Warn("starting with empty counters", zap.Error(err))
	}
	s.Uploader.LoadCache()
}

// Run consumes feed until ctx is done or the feed closes. Uploads run on their own goroutine
// so a slow server never delays ingestion.
func (s *Service) Run(ctx context.Context, feed EventSource) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		events := feed.Events()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					s.logger.Info("capture feed closed")
					return nil
				}
				s.Counter.Ingest(ev.Code, ev.Time)
			}
		}
	})

	g.Go(func() error {
		disabled := feed.Disabled()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-disabled:
				s.logger.Warn("event tap was disabled by the system and has been re-enabled")
			}
		}
	})

	g.Go(func() error {
		s.uploadLoop(ctx)
		return nil
	})

	g.Go(func() error {
		s.BackfillUsername(ctx)
		return nil
	})

	err := g.Wait()
	s.Counter.Save()
	return err
}

func (s *Service) uploadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case count := <-s.uploads:
			err := s.Uploader.Push(ctx, count, s.onlyFollows.Load())
			if err != nil && !errors.Is(err, leaderboard.ErrUnauthenticated) {
				s.logger.Debug("upload skipped", zap.Error(err))
			}
		}
	}
}

// queueUpload hands count to the upload loop, replacing any count still waiting.
func (s *Service) queueUpload(count int64) {
	for {
		select {
		case s.uploads <- count:
			return
		default:
		}
		select {
		case <-s.uploads:
		default:
		}
	}
}

// TriggerUpload queues an upload of the current total.
func (s *Service) TriggerUpload() {
	s.queueUpload(s.Counter.Total())
}

// BackfillUsername resolves the login once when a token exists without one.
func (s *Service) BackfillUsername(ctx context.Context) {
	cred := s.Creds.Get()
	if cred.Token == "" || cred.Username != "" {
		return
	}
	if _, err := s.Auth.ResolveUsername(ctx); err != nil {
		s.logger.Warn("failed to resolve username", zap.Error(err))
	}
}

// Login starts the device flow. Poll with the returned session.
func (s *Service) Login(ctx context.Context) (*auth.Session, error) {
	if err := s.cfg.ValidateNetwork(); err != nil {
		return nil, err
	}
	return s.Auth.StartDeviceAuth(ctx, s.cfg.GitHub.ClientID, s.cfg.GitHub.Scope)
}

// Logout forgets the stored GitHub credential.
func (s *Service) Logout() error {
	return s.Creds.Clear()
}

// OnlyFollows reports the leaderboard filter preference.
func (s *Service) OnlyFollows() bool { return s.onlyFollows.Load() }

// SetOnlyFollows persists the preference and uploads right away so the leaderboard reflects it.
func (s *Service) SetOnlyFollows(enabled bool) error {
	if err := s.store.SetOnlyShowFollows(enabled); err != nil {
		return fmt.Errorf("failed to save preference: %w", err)
	}
	s.onlyFollows.Store(enabled)
	s.TriggerUpload()
	return nil
}

// PushNow uploads synchronously, for commands that need the fresh leaderboard.
func (s *Service) PushNow(ctx context.Context) error {
	return s.Uploader.Push(ctx, s.Counter.Total(), s.onlyFollows.Load())
}

// Snapshot returns the live counters.
func (s *Service) Snapshot() counter.Snapshot { return s.Counter.Snapshot() }

// Leaderboard returns the last accepted leaderboard.
func (s *Service) Leaderboard() []leaderboard.Entry { return s.Uploader.Entries() }

// History returns daily totals for the last days days, ending today.
func (s *Service) History(days int) ([]storage.DayTotal, error) {
	return s.store.GetHistoricalTotals(s.clock.Now(), days)
}

// Reload applies settings that can change while running.
func (s *Service) Reload(cfg *config.Config) {
	s.Uploader.SetHost(cfg.Leaderboard.Host)
	s.logger.Info("configuration reloaded", zap.String("leaderboard_host", cfg.Leaderboard.Host))
}

// Close persists the counters and closes the database.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.Counter.Close()
		err = s.store.Close()
	})
	return err
}
