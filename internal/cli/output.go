package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/runoshun/git-taskflow/internal/domain"
	"github.com/runoshun/git-taskflow/internal/usecase"
)

var styles = DefaultStyles()

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintError writes err for a human, with the details typed errors carry.
func PrintError(w io.Writer, err error) {
	code := domain.ResultCodeOf(err)
	_, _ = fmt.Fprintf(w, "%s %s\n", styles.Error.Render(string(code)), err)

	var pre *domain.PreconditionError
	if errors.As(err, &pre) && len(pre.Missing) > 1 {
		for _, m := range pre.Missing {
			_, _ = fmt.Fprintf(w, "  - %s\n", m)
		}
	}
	var esc *domain.EscalationError
	if errors.As(err, &esc) {
		printEscalation(w, esc.Report)
	}
}

func printEscalation(w io.Writer, r domain.EscalationReport) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:  %s\n", r.Task)
	if r.State != "" {
		fmt.Fprintf(&b, "State: %s\n", r.State)
	}
	fmt.Fprintf(&b, "Issue: %s", r.Issue)
	if len(r.Attempted) > 0 {
		b.WriteString("\n\nAttempted:")
		for _, a := range r.Attempted {
			fmt.Fprintf(&b, "\n  - %s", a)
		}
	}
	if len(r.Options) > 0 {
		b.WriteString("\n\nOptions:")
		for _, o := range r.Options {
			fmt.Fprintf(&b, "\n  - %s", o)
		}
	}
	_, _ = fmt.Fprintln(w, styles.Box.Render(b.String()))
}

func printTaskDetails(w io.Writer, out *usecase.ShowTaskOutput) {
	rec := out.Task
	_, _ = fmt.Fprintf(w, "%s  %s\n", styles.Title.Render(rec.TaskName), styles.StateStyle(rec.State).Render(string(rec.State)))
	_, _ = fmt.Fprintf(w, "%s %s\n", styles.Label.Render("Description:"), rec.Description())
	_, _ = fmt.Fprintf(w, "%s %s\n", styles.Label.Render("Owner:"), rec.OwnerID)
	_, _ = fmt.Fprintf(w, "%s %s\n", styles.Label.Render("Base:"), rec.BaseBranch())
	if rec.RiskLevel != "" {
		_, _ = fmt.Fprintf(w, "%s %s\n", styles.Label.Render("Risk:"), rec.RiskLevel)
		_, _ = fmt.Fprintf(w, "%s %s\n", styles.Label.Render("Agents:"), strings.Join(rec.RequiredAgents, ", "))
	}
	if out.Lock != nil && out.Lock.State != rec.State {
		_, _ = fmt.Fprintf(w, "%s lock records %s\n", styles.Warning.Render("Warning:"), out.Lock.State)
	}
	if next := rec.State.Next(); len(next) > 0 {
		names := make([]string, len(next))
		for i, s := range next {
			names[i] = string(s)
		}
		_, _ = fmt.Fprintf(w, "%s %s\n", styles.Label.Render("Next:"), strings.Join(names, " | "))
	}

	if len(out.Statuses) > 0 {
		_, _ = fmt.Fprintf(w, "\n%s\n", styles.Label.Render("Agents"))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, name := range sortedKeys(out.Statuses) {
			st := out.Statuses[name]
			_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", name, st.Mode, st.Status, st.Decision, st.WorkRemaining)
		}
		_ = tw.Flush()
	}

	_, _ = fmt.Fprintf(w, "\n%s\n", styles.Label.Render("History"))
	for _, tr := range rec.TransitionLog {
		line := fmt.Sprintf("  %s  %s", tr.Timestamp.Format(time.DateTime), tr.To)
		if tr.Justification != "" {
			line += "  " + styles.Muted.Render(tr.Justification)
		}
		_, _ = fmt.Fprintln(w, line)
	}

	if len(out.FollowUps) > 0 {
		_, _ = fmt.Fprintf(w, "\n%s\n", styles.Label.Render("Follow-ups"))
		for _, f := range out.FollowUps {
			_, _ = fmt.Fprintf(w, "  %s  %s: %s\n", styles.Muted.Render(f.ID[:8]), f.Agent, f.Objection)
		}
	}
	if len(out.Log) > 0 {
		_, _ = fmt.Fprintf(w, "\n%s\n", styles.Label.Render("Log"))
		for _, l := range out.Log {
			_, _ = fmt.Fprintf(w, "  %s\n", l)
		}
	}
}

func printPoll(w io.Writer, out *usecase.RoundStatusOutput) {
	_, _ = fmt.Fprintf(w, "%s round since %s\n", styles.Label.Render(string(out.Mode)), out.Since.Format(time.DateTime))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, agent := range sortedKeys(out.Result.States) {
		state := out.Result.States[agent]
		detail := ""
		if st := out.Result.Records[agent]; st != nil {
			detail = fmt.Sprintf("%s\t%s\t%s", st.Status, st.Decision, st.WorkRemaining)
		}
		_, _ = fmt.Fprintf(tw, "  %s %s\t%s\t%s\n",
			styles.PollStyle(state).Render(PollIcon(state)), agent, state, detail)
	}
	_ = tw.Flush()
	if out.Result.Settled() {
		_, _ = fmt.Fprintln(w, styles.Success.Render("Round settled."))
	}
}

func printRejection(w io.Writer, out *usecase.DecideRejectionOutput) {
	d := out.Decision
	_, _ = fmt.Fprintf(w, "Rejected by: %s\n", strings.Join(d.Rejecting, ", "))
	_, _ = fmt.Fprintf(w, "Resolution touches %d file(s); original scope %d (factor %.1f)\n",
		len(d.Estimate.ResolutionFiles), d.Estimate.OriginalFiles, d.Estimate.Factor)
	_, _ = fmt.Fprintf(w, "Outcome: %s -> advance to %s\n", d.Outcome, out.Next)
}

func printNegotiation(w io.Writer, out *usecase.ResolveNegotiationOutput) {
	o := out.Outcome
	if len(o.Unclassified) > 0 {
		_, _ = fmt.Fprintf(w, "%s %s\n", styles.Warning.Render("Unclassified:"), strings.Join(o.Unclassified, ", "))
	}
	for _, b := range o.Blocking {
		_, _ = fmt.Fprintf(w, "%s %s\n", styles.Error.Render("BLOCKING"), b)
	}
	for _, f := range out.FollowUps {
		_, _ = fmt.Fprintf(w, "%s %s: %s\n", styles.Muted.Render("DEFERRED"), f.Agent, f.Objection)
	}
	_, _ = fmt.Fprintf(w, "Next: %s\n", out.Next)
}

func printRecovery(w io.Writer, res *usecase.ResumeOutput) {
	if res == nil || res.Result == nil {
		return
	}
	if len(res.Result.Reports) == 0 {
		_, _ = fmt.Fprintln(w, "No tasks held by this session.")
		return
	}
	for _, r := range res.Result.Reports {
		if r.Consistent() {
			_, _ = fmt.Fprintf(w, "%s %s (%s) consistent\n", styles.Success.Render("✓"), r.Task, r.State)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s %s (%s)\n", styles.Warning.Render("!"), r.Task, r.State)
		for _, f := range r.Findings {
			_, _ = fmt.Fprintf(w, "    %s: %s\n", f.Issue, f.Detail)
		}
	}
	for _, a := range res.Result.Actions {
		_, _ = fmt.Fprintf(w, "repaired %s: %s\n", a.Task, a.Detail)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
