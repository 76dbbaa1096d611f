package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RunHousekeepingCycle logs a slot report every interval until ctx ends.
// Slots armed for longer than staleAfter are reported but left alone:
// only card-scan has an expiry.
func (r *Registry) RunHousekeepingCycle(ctx context.Context, interval, staleAfter time.Duration) {
	r.log.Info("Housekeeping cycle started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Housekeeping cycle stopping")
			return
		case <-ticker.C:
			report, stale := r.Report(staleAfter)
			r.log.Info(report)
			for _, st := range stale {
				r.log.Warn("Measurement slot active past stale threshold",
					zap.String("modality", st.Modality.String()),
					zap.String("owner", st.Owner),
					zap.Duration("armed_for", r.now().Sub(st.ArmedAt)))
			}
		}
	}
}

// Report renders the slot table and returns the slots considered stale.
func (r *Registry) Report(staleAfter time.Duration) (string, []SlotState) {
	now := r.now()
	var stale []SlotState

	var report strings.Builder
	report.WriteString("\n--- Measurement Slots ---\n")
	report.WriteString(fmt.Sprintf("%-15s | %-15s | %-7s | %-9s | %-7s | %-10s\n",
		"Modality", "Owner", "Active", "Signaled", "Result", "Armed For"))
	report.WriteString(strings.Repeat("-", 78) + "\n")

	for _, st := range r.Snapshot() {
		armedFor := "-"
		if st.Active {
			d := now.Sub(st.ArmedAt).Truncate(time.Second)
			armedFor = d.String()
			if staleAfter > 0 && d >= staleAfter {
				stale = append(stale, st)
			}
		}
		owner := st.Owner
		if owner == "" {
			owner = "none"
		}
		report.WriteString(fmt.Sprintf("%-15s | %-15s | %-7t | %-9t | %-7t | %-10s\n",
			st.Modality, owner, st.Active, st.Signaled, st.HasResult, armedFor))
	}
	report.WriteString(fmt.Sprintf("Stale slots (%d)\n", len(stale)))
	report.WriteString(strings.Repeat("-", 78))
	return report.String(), stale
}
