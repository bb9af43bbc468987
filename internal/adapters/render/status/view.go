package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/crawlpool/internal/application"
	"github.com/bnema/crawlpool/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	Now time.Time
	// ShowAccounts lists every account under its platform summary.
	ShowAccounts bool
}

func renderView(status application.Status, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Crawl Pool Status"),
		s.header.Render(proxyHeader(status.Proxy)),
		s.header.Render(fmt.Sprintf("platforms: %d", len(status.Accounts))),
	}

	if len(status.Accounts) == 0 {
		lines = append(lines, s.empty.Render("No accounts registered."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, snapshot := range status.Accounts {
		lines = append(lines, s.section.Render(renderPlatform(snapshot, opts, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func proxyHeader(snapshot *domain.PoolSnapshot) string {
	if snapshot == nil {
		return "proxies: disabled"
	}

	return fmt.Sprintf(
		"proxies: %d idle, %d in use, %d expired, %d discarded",
		snapshot.Available, snapshot.InUse, snapshot.Expired, snapshot.Discarded,
	)
}

func renderPlatform(snapshot domain.AccountPoolSnapshot, opts RenderOptions, s styles) string {
	total := snapshot.Total()
	parts := []string{
		s.platform.Render(fmt.Sprintf("%s (%d accounts)", snapshot.Platform, total)),
		availabilityLine(snapshot, s),
	}

	if snapshot.Banned > 0 && snapshot.Banned == total {
		parts = append(parts, s.warning.Render("all accounts banned"))
	}

	if opts.ShowAccounts {
		for _, account := range snapshot.Accounts {
			parts = append(parts, accountLine(account, opts.Now, s))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func availabilityLine(snapshot domain.AccountPoolSnapshot, s styles) string {
	percent := 0.0
	if total := snapshot.Total(); total > 0 {
		percent = 100 * float64(snapshot.Available) / float64(total)
	}

	percentStyle := lipgloss.NewStyle().Foreground(interpolateColor(percent, 0, 100))
	counts := strings.Join([]string{
		s.available.Render(fmt.Sprintf("%d available", snapshot.Available)),
		s.inUse.Render(fmt.Sprintf("%d in use", snapshot.InUse)),
		s.cooling.Render(fmt.Sprintf("%d cooling", snapshot.CoolingDown)),
		s.banned.Render(fmt.Sprintf("%d banned", snapshot.Banned)),
	}, ", ")

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		renderProgressBar(percent, 24, s),
		" ",
		percentStyle.Render(fmt.Sprintf("%3.0f%% ready", clampPercent(percent))),
		" ",
		counts,
	)
}

func accountLine(account domain.Account, now time.Time, s styles) string {
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		"  ",
		s.username.Render(account.Username),
		" ",
		stateLabel(account, now, s),
		" ",
		s.meta.Render(fmt.Sprintf("tasks %d, last used %s", account.TaskCount, formatLastUsed(account.LastUsedAt, now))),
	)
}

func stateLabel(account domain.Account, now time.Time, s styles) string {
	switch account.State {
	case domain.AccountInUse:
		return s.inUse.Render("in use")
	case domain.AccountCoolingDown:
		if now.IsZero() {
			return s.cooling.Render("cooling")
		}
		return s.cooling.Render(fmt.Sprintf("cooling (%s)", formatCooldown(account.CooldownUntil, now)))
	case domain.AccountBanned:
		return s.banned.Render("banned")
	default:
		return s.available.Render("available")
	}
}

func formatLastUsed(lastUsed, now time.Time) string {
	if lastUsed.IsZero() {
		return "never"
	}
	if now.IsZero() {
		return lastUsed.Format(time.RFC3339)
	}

	return humanizeDuration(now.Sub(lastUsed)) + " ago"
}

func formatCooldown(until, now time.Time) string {
	if !until.After(now) {
		return "ready now"
	}

	return "ready in " + humanizeDuration(until.Sub(now))
}

func humanizeDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	switch {
	case d < time.Minute:
		return plural(int(d/time.Second), "second")
	case d < time.Hour:
		return plural(int(math.Ceil(d.Minutes())), "minute")
	case d < 24*time.Hour:
		return plural(int(math.Ceil(d.Hours())), "hour")
	default:
		return plural(int(math.Ceil(d.Hours()/24)), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}

	return fmt.Sprintf("%d %ss", n, unit)
}

func renderProgressBar(filledPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	filled := int(math.Round(float64(width) * clampPercent(filledPercent) / 100.0))
	if filled > width {
		filled = width
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// interpolateColor maps value onto the ANSI greyscale ramp, 240 at min and
// 255 at max.
func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	return lipgloss.Color(fmt.Sprintf("%d", int(240+15*normalized)))
}
