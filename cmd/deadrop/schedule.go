// ABOUTME: Scheduler snippet generation for periodic drain invocations
// ABOUTME: Emits static crontab and systemd timer text; never talks to a scheduler

package main

import (
	"fmt"
	"strings"
	"time"
)

// drainCommand builds the command line a scheduler will run. Non-empty
// overrides are carried as explicit flags so the scheduled drain hits
// the same store and config this invocation resolved.
func drainCommand(binPath, agent, dbOverride, configOverride string) string {
	parts := []string{binPath, "drain"}
	if dbOverride != "" {
		parts = append(parts, "--db", dbOverride)
	}
	if configOverride != "" {
		parts = append(parts, "--config", configOverride)
	}
	parts = append(parts, agent)
	return strings.Join(parts, " ")
}

// cronSnippet renders a crontab line running drainCmd periodically.
// Cron's resolution is one minute, so sub-minute intervals are
// rounded up.
func cronSnippet(drainCmd string, interval time.Duration) string {
	minutes := int(interval.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	var schedule string
	switch {
	case minutes < 60:
		schedule = fmt.Sprintf("*/%d * * * *", minutes)
	case minutes%60 == 0 && minutes < 24*60:
		schedule = fmt.Sprintf("0 */%d * * *", minutes/60)
	default:
		// Awkward intervals fall back to hourly.
		schedule = "0 * * * *"
	}

	return fmt.Sprintf("%s %s", schedule, drainCmd)
}

// systemdSnippet renders a user service and timer pair invoking
// drainCmd every interval.
func systemdSnippet(drainCmd, agent string, interval time.Duration) string {
	return fmt.Sprintf(`[Unit]
Description=Drain deadrop inbox for %[2]s

[Service]
Type=oneshot
ExecStart=%[1]s

---

[Unit]
Description=Periodic deadrop drain for %[2]s

[Timer]
OnBootSec=%[3]s
OnUnitActiveSec=%[3]s

[Install]
WantedBy=timers.target`, drainCmd, agent, interval)
}
