package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/aayushbajaj/keyrace/internal/counter"
	"github.com/aayushbajaj/keyrace/internal/leaderboard"
	"github.com/aayushbajaj/keyrace/internal/storage"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	leaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F2C94C"))

	historyDays     int
	leaderboardFind string
	leaderboardPush bool
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show today's keystroke counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()
			printStats(cmd.OutOrStdout(), svc.Counter.Total(), svc.Counter.Charts())
			return nil
		},
	}
}

func printStats(w io.Writer, total int64, charts counter.Charts) {
	fmt.Fprintln(w, headerStyle.Render(counter.FormatCount(total)))
	fmt.Fprintln(w)

	fmt.Fprintln(w, headerStyle.Render("By hour"))
	for h, v := range charts.Hours {
		if v == 0 {
			continue
		}
		fmt.Fprintf(w, "  %s %d\n", mutedStyle.Render(fmt.Sprintf("%02d:00", h)), v)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, headerStyle.Render("Letters"))
	printHistogram(w, charts.Keys, 'a')
	fmt.Fprintln(w, headerStyle.Render("Symbols and digits"))
	printHistogram(w, charts.Symbols, '!')

	fmt.Fprintln(w, headerStyle.Render("Keyboard"))
	kb := charts.Keyboard
	for _, row := range kb.Rows {
		cells := make([]string, len(row))
		for i, k := range row {
			cells[i] = heatCell(k, kb.Max)
		}
		fmt.Fprintln(w, "  "+strings.Join(cells, " "))
	}
}

func printHistogram(w io.Writer, values []int64, first rune) {
	var parts []string
	for i, v := range values {
		if v > 0 {
			parts = append(parts, fmt.Sprintf("%c:%d", first+rune(i), v))
		}
	}
	if len(parts) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  none"))
		return
	}
	fmt.Fprintln(w, "  "+strings.Join(parts, " "))
}

// heatCell shades a key by its share of the busiest key.
func heatCell(k counter.KeyCount, busiest int64) string {
	style := lipgloss.NewStyle().Padding(0, 1)
	if busiest > 0 && k.Count > 0 {
		level := 1 + int(k.Count*4/busiest)
		colors := []string{"#1B3A2B", "#1E5C3A", "#23804A", "#2AA45B", "#34C76C"}
		if level > len(colors) {
			level = len(colors)
		}
		style = style.Background(lipgloss.Color(colors[level-1]))
	}
	return style.Render(k.Unshifted)
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show daily totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if historyDays <= 0 {
				return fmt.Errorf("--days must be > 0")
			}
			svc, _, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			days, err := svc.History(historyDays)
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}
			printHistory(cmd.OutOrStdout(), days)
			return nil
		},
	}
	cmd.Flags().IntVar(&historyDays, "days", 7, "number of days to show")
	return cmd
}

func printHistory(w io.Writer, days []storage.DayTotal) {
	var total int64
	for _, d := range days {
		total += d.Keystrokes
		fmt.Fprintf(w, "%s  %d\n", mutedStyle.Render(d.Date), d.Keystrokes)
	}
	fmt.Fprintf(w, "%s  %d\n", headerStyle.Render("total"), total)
}

func newLeaderboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the leaderboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			if leaderboardPush {
				if err := svc.PushNow(cmd.Context()); err != nil {
					logErrf("showing cached leaderboard: %v\n", err)
				}
			}
			printLeaderboard(cmd.OutOrStdout(), leaderboard.FilterEntries(svc.Leaderboard(), leaderboardFind))
			return nil
		},
	}
	cmd.Flags().StringVar(&leaderboardFind, "find", "", "fuzzy filter by username")
	cmd.Flags().BoolVar(&leaderboardPush, "refresh", true, "upload today's count and fetch a fresh leaderboard")
	return cmd
}

func printLeaderboard(w io.Writer, ranked []leaderboard.Ranked) {
	if len(ranked) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No players"))
		return
	}
	for _, r := range ranked {
		line := fmt.Sprintf("%3d. @%-20s %-12s %s", r.Rank+1, r.Username, r.ScoreString(r.Rank), mutedStyle.Render(r.ProfileURL()))
		if r.Rank == 0 {
			line = leaderStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}

func newFollowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "follows [on|off]",
		Short:     "Show or set whether the leaderboard only lists people you follow",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				fmt.Fprintf(out, "only show follows: %v\n", svc.OnlyFollows())
				return nil
			}
			var enabled bool
			switch args[0] {
			case "on":
				enabled = true
			case "off":
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
			if err := svc.SetOnlyFollows(enabled); err != nil {
				return err
			}
			if err := svc.PushNow(cmd.Context()); err != nil {
				logErrf("preference saved; upload failed: %v\n", err)
			}
			fmt.Fprintf(out, "only show follows: %v\n", enabled)
			return nil
		},
	}
}
