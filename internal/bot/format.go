package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/blockedby/backupbot/internal/backup"
	"github.com/blockedby/backupbot/internal/captions"
)

func jobTitle(job *backup.Job) string {
	if job.Kind == backup.KindForward {
		return "Auto-forward"
	}
	if job.Mode == backup.ModeExact {
		return "Exact backup"
	}
	return "Backup"
}

func count(n int) string {
	return humanize.Comma(int64(n))
}

func formatProgress(p backup.Progress) string {
	total := "?"
	if t := p.Job.Total(); t > 0 {
		total = count(t)
	}
	return fmt.Sprintf("📊 %s progress: %s/%s\n✅ %s  ❌ %s  🔍 %s  ⏳ %s",
		jobTitle(p.Job), count(p.Done), total,
		count(p.Counters.Succeeded), count(p.Counters.Failed), count(p.Counters.Missing), count(p.Counters.FloodWaits))
}

func formatResult(p backup.Progress, elapsed time.Duration) string {
	var b strings.Builder
	switch {
	case p.Err != nil:
		fmt.Fprintf(&b, "❌ %s aborted: %v\n", jobTitle(p.Job), p.Err)
	case p.Stopped:
		fmt.Fprintf(&b, "⏹ %s stopped\n", jobTitle(p.Job))
	default:
		fmt.Fprintf(&b, "✅ %s complete!\n", jobTitle(p.Job))
	}
	fmt.Fprintf(&b, "📁 %s → %s\n\n", p.Job.Source.Title, p.Job.Dest.Title)
	fmt.Fprintf(&b, "✅ Success: %s\n", count(p.Counters.Succeeded))
	fmt.Fprintf(&b, "❌ Failed: %s\n", count(p.Counters.Failed))
	if p.Job.Kind == backup.KindBackup {
		fmt.Fprintf(&b, "🔍 Not found: %s\n", count(p.Counters.Missing))
	}
	fmt.Fprintf(&b, "⏳ Flood waits: %s\n", count(p.Counters.FloodWaits))
	fmt.Fprintf(&b, "⏱ Took %s", elapsed.Round(time.Second))
	return b.String()
}

func formatSnapshot(s backup.Snapshot) string {
	var b strings.Builder
	state := "running"
	switch {
	case s.Stopping:
		state = "stopping"
	case !s.Running && s.Stopped:
		state = "stopped"
	case !s.Running:
		state = "finished"
	}

	kind := "Backup"
	if s.Kind == backup.KindForward {
		kind = "Auto-forward"
	}
	fmt.Fprintf(&b, "📦 %s %s\n", kind, state)
	fmt.Fprintf(&b, "📁 %s → %s\n", s.Source, s.Dest)
	if s.Total > 0 {
		fmt.Fprintf(&b, "📊 %s/%s attempted\n", count(s.Counters.Attempted), count(s.Total))
	} else {
		fmt.Fprintf(&b, "📊 %s attempted\n", count(s.Counters.Attempted))
	}
	if s.Running && s.Current != 0 {
		fmt.Fprintf(&b, "➡️ Current message: %d\n", s.Current)
	}
	fmt.Fprintf(&b, "✅ %s  ❌ %s  🔍 %s  ⏳ %s\n",
		count(s.Counters.Succeeded), count(s.Counters.Failed), count(s.Counters.Missing), count(s.Counters.FloodWaits))
	fmt.Fprintf(&b, "🕐 Started %s", humanize.Time(s.StartedAt))
	return b.String()
}

func formatSession(v captions.View) string {
	return fmt.Sprintf("✏️ Caption editor: %s\n🎯 Targets: %d  📝 Rules: %d\n🚦 Speed: %s  ⏳ Flood waits: %d",
		v.State, v.Targets, v.Rules, v.Preset, v.FloodWaits)
}

func formatEditStats(st captions.EditStats) string {
	var b strings.Builder
	switch {
	case !st.Final:
		fmt.Fprintf(&b, "✏️ Editing: %s/%s\n", count(st.Done), count(st.Total))
	case st.Stopped:
		b.WriteString("⏹ Caption edit stopped\n")
	default:
		b.WriteString("✅ Caption edit complete!\n")
	}
	fmt.Fprintf(&b, "✅ Edited: %s\n", count(st.Edited))
	fmt.Fprintf(&b, "➖ Unchanged: %s\n", count(st.Unchanged))
	fmt.Fprintf(&b, "🔍 Not found: %s\n", count(st.Missing))
	fmt.Fprintf(&b, "❌ Failed: %s\n", count(st.Failed))
	fmt.Fprintf(&b, "⏳ Flood waits: %s", count(st.FloodWaits))
	if st.Downgraded {
		fmt.Fprintf(&b, "\n🐢 Slowed down to %s", st.Preset)
	}
	if st.Final {
		fmt.Fprintf(&b, "\n⏱ Took %s", st.Duration.Round(time.Second))
	}
	return b.String()
}

func formatRules(rules captions.Rules) string {
	if len(rules) == 0 {
		return "📝 No rules yet. Add one with /rule search -> replacement"
	}
	var b strings.Builder
	b.WriteString("📝 Rules, applied in order:")
	for i, r := range rules {
		replace := r.Replace
		if replace == "" {
			replace = "(remove)"
		}
		fmt.Fprintf(&b, "\n%d. %s → %s", i+1, r.Search, replace)
	}
	return b.String()
}

func formatPresets(all []captions.Preset, current string) string {
	var b strings.Builder
	b.WriteString("🚦 Speed presets:")
	for _, p := range all {
		mark := "  "
		if p.Name == current {
			mark = "👉"
		}
		fmt.Fprintf(&b, "\n%s %s: %s-%s per edit, batches of %d, %s pause",
			mark, p.Name, p.MinDelay, p.MaxDelay, p.BatchSize, p.BatchPause)
	}
	b.WriteString("\n\nUse /speed <name> to switch.")
	return b.String()
}
