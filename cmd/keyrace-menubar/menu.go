package main

import (
	"fmt"

	"github.com/aayushbajaj/keyrace/internal/auth"
	"github.com/aayushbajaj/keyrace/internal/counter"
	"github.com/aayushbajaj/keyrace/internal/leaderboard"
	"github.com/aayushbajaj/keyrace/internal/tui"
)

// menuLine is one row of the menu, independent of the menu bar toolkit.
type menuLine struct {
	Text string
	URL  string
}

func minutesLine(snap counter.Snapshot) string {
	return "Last 20 min  " + tui.Sparkline(snap.Charts.Minutes)
}

func hoursLine(snap counter.Snapshot) string {
	return "Today        " + tui.Sparkline(snap.Charts.Hours)
}

// hourLines lists each hour that saw typing.
func hourLines(snap counter.Snapshot) []string {
	var lines []string
	for h, v := range snap.Charts.Hours {
		if v > 0 {
			lines = append(lines, fmt.Sprintf("%02d:00  %d", h, v))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "No activity yet")
	}
	return lines
}

func leaderboardLines(entries []leaderboard.Entry) []menuLine {
	lines := make([]menuLine, 0, len(entries))
	for i, e := range entries {
		lines = append(lines, menuLine{
			Text: fmt.Sprintf("%d. @%s  %s", i+1, e.Username, e.ScoreString(i)),
			URL:  e.ProfileURL(),
		})
	}
	return lines
}

func accountLine(cred auth.Credential) string {
	switch {
	case !cred.LoggedIn:
		return "Not logged in"
	case cred.Username == "":
		return "Logged in"
	default:
		return "Logged in as @" + cred.Username
	}
}

// loginResult turns a finished device-flow session into the notification text.
// ok is false when the session ended without a token.
func loginResult(state auth.State, err error, cred auth.Credential) (msg string, ok bool) {
	if state != auth.StateAuthorized {
		if err != nil {
			return "Login " + state.String() + ": " + err.Error(), false
		}
		return "Login " + state.String(), false
	}
	return accountLine(cred), true
}
