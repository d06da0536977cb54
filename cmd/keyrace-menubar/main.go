//go:build darwin
// +build darwin

// Command keyrace-menubar shows today's keystroke count in the macOS menu bar.
package main

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework Cocoa

#import <Cocoa/Cocoa.h>

// Open URL in default browser (synchronous, returns success)
static int openURL(const char* url) {
    __block int success = 0;

    void (^openBlock)(void) = ^{
        @autoreleasepool {
            NSURL *nsurl = [NSURL URLWithString:[NSString stringWithUTF8String:url]];
            if (nsurl != nil) {
                success = [[NSWorkspace sharedWorkspace] openURL:nsurl] ? 1 : 0;
            }
        }
    };

    if ([NSThread isMainThread]) {
        openBlock();
    } else {
        dispatch_sync(dispatch_get_main_queue(), openBlock);
    }

    return success;
}
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"runtime"
	"syscall"
	"unsafe"

	"github.com/caseymrm/menuet"
	"go.uber.org/zap"

	"github.com/aayushbajaj/keyrace/internal/app"
	"github.com/aayushbajaj/keyrace/internal/config"
	"github.com/aayushbajaj/keyrace/internal/counter"
	"github.com/aayushbajaj/keyrace/internal/keylogger"
	"github.com/aayushbajaj/keyrace/internal/logging"
)

// Version is set at build time via ldflags: -X main.Version=$(VERSION)
var Version = "dev"

type menubar struct {
	svc    *app.Service
	logger *zap.Logger
	ctx    context.Context
}

func init() {
	runtime.LockOSThread()
}

func main() {
	// Ensure HOME is set (needed when launched via launchctl/open)
	if os.Getenv("HOME") == "" {
		if u, err := user.Current(); err == nil {
			os.Setenv("HOME", u.HomeDir)
		}
	}

	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting keyrace menu bar app", zap.String("version", Version))

	svc, err := app.NewService(cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal("failed to open keyrace", zap.Error(err))
	}
	defer svc.Close()
	svc.Start()

	feed, err := keylogger.Start()
	if err != nil {
		if errors.Is(err, keylogger.ErrNoPermission) {
			showPermissionAlert()
		}
		logger.Fatal("failed to start keylogger", zap.Error(err))
	}
	defer keylogger.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.Watch(config.DefaultConfigPath(), logger, svc.Reload); err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	}

	go func() {
		if err := svc.Run(ctx, feed); err != nil {
			logger.Error("counter stopped", zap.Error(err))
		}
		// The feed closed, so the title would never change again.
		os.Exit(0)
	}()

	m := &menubar{svc: svc, logger: logger, ctx: ctx}
	go m.watchCounts()
	go m.watchLeaderboard()

	menuet.App().Label = "com.keyrace.menubar"
	menuet.App().Children = m.items
	menuet.App().SetMenuState(&menuet.MenuState{Title: counter.FormatCount(svc.Snapshot().Counters.Total)})
	menuet.App().RunApplication()
}

func showPermissionAlert() {
	clicked := menuet.App().Alert(menuet.Alert{
		MessageText:     "Accessibility Permission Required",
		InformativeText: "Keyrace needs Accessibility access to count keystrokes.\n\nOpen System Settings > Privacy & Security > Accessibility, enable keyrace-menubar, then restart the app.",
		Buttons:         []string{"Open System Settings", "Quit"},
	})
	if clicked.Button == 0 {
		openURL("x-apple.systempreferences:com.apple.preference.security?Privacy_Accessibility")
	}
}

func openURL(url string) bool {
	cURL := C.CString(url)
	defer C.free(unsafe.Pointer(cURL))
	return C.openURL(cURL) == 1
}

// watchCounts keeps the menu bar title in step with the aggregator.
func (m *menubar) watchCounts() {
	snaps := m.svc.Counter.Subscribe()
	for {
		select {
		case <-m.ctx.Done():
			return
		case snap := <-snaps:
			menuet.App().SetMenuState(&menuet.MenuState{Title: counter.FormatCount(snap.Counters.Total)})
			menuet.App().MenuChanged()
		}
	}
}

func (m *menubar) watchLeaderboard() {
	updates := m.svc.Uploader.Subscribe()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-updates:
			menuet.App().MenuChanged()
		}
	}
}

func (m *menubar) items() []menuet.MenuItem {
	snap := m.svc.Snapshot()

	items := []menuet.MenuItem{
		{Text: fmt.Sprintf("Today: %s keystrokes", counter.FormatCount(snap.Counters.Total)), FontWeight: menuet.WeightBold},
		{Text: minutesLine(snap)},
		{
			Text: hoursLine(snap),
			Children: func() []menuet.MenuItem {
				var children []menuet.MenuItem
				for _, line := range hourLines(m.svc.Snapshot()) {
					children = append(children, menuet.MenuItem{Text: line})
				}
				return children
			},
		},
		{Type: menuet.Separator},
	}

	entries := m.svc.Leaderboard()
	if len(entries) > 0 {
		items = append(items, menuet.MenuItem{Text: "Leaderboard", FontWeight: menuet.WeightBold})
		for _, line := range leaderboardLines(entries) {
			url := line.URL
			items = append(items, menuet.MenuItem{
				Text:    line.Text,
				Clicked: func() { openURL(url) },
			})
		}
		items = append(items, menuet.MenuItem{Type: menuet.Separator})
	}

	cred := m.svc.Creds.Get()
	if cred.LoggedIn {
		items = append(items,
			menuet.MenuItem{Text: accountLine(cred)},
			menuet.MenuItem{
				Text:  "Only show people I follow",
				State: m.svc.OnlyFollows(),
				Clicked: func() {
					if err := m.svc.SetOnlyFollows(!m.svc.OnlyFollows()); err != nil {
						m.logger.Warn("failed to save follows setting", zap.Error(err))
					}
					menuet.App().MenuChanged()
				},
			},
			menuet.MenuItem{Text: "Log out", Clicked: m.logout},
		)
	} else {
		items = append(items, menuet.MenuItem{Text: "Log in with GitHub", Clicked: m.login})
	}
	return items
}

func (m *menubar) login() {
	session, err := m.svc.Login(m.ctx)
	if err != nil {
		m.logger.Warn("failed to start login", zap.Error(err))
		menuet.App().Alert(menuet.Alert{
			MessageText:     "Login failed",
			InformativeText: err.Error(),
		})
		return
	}

	clicked := menuet.App().Alert(menuet.Alert{
		MessageText:     "Log in with GitHub",
		InformativeText: fmt.Sprintf("Enter the code %s on the page that opens next.", session.UserCode()),
		Buttons:         []string{"Open GitHub", "Cancel"},
	})
	if clicked.Button != 0 {
		return
	}
	if !openURL(session.VerificationURI()) {
		m.logger.Warn("failed to open verification page", zap.String("url", session.VerificationURI()))
	}

	go func() {
		state, err := session.Wait(m.ctx)
		msg, ok := loginResult(state, err, m.svc.Creds.Get())
		if ok {
			menuet.App().Notification(menuet.Notification{Title: "Keyrace", Message: msg})
		} else {
			m.logger.Info("login did not complete", zap.Stringer("state", state), zap.Error(err))
		}
		menuet.App().MenuChanged()
	}()
}

func (m *menubar) logout() {
	if err := m.svc.Logout(); err != nil {
		m.logger.Warn("failed to log out", zap.Error(err))
	}
	menuet.App().MenuChanged()
}
