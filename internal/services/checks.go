package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"questboard/internal/models"
)

// CheckSnapshot is the read-only project state handed to every check.
// It is loaded once per run so all checks see the same data.
type CheckSnapshot struct {
	Now           time.Time
	Tickets       []models.Ticket
	Members       []models.TeamMember
	Sprints       []models.Sprint
	Activity      []models.ActivityRecord
	SlackMessages []models.SlackMessage
}

// ProposedAction is the uniform output of a check: an intervention the
// automation engine wants a human (or the threshold policy) to approve.
type ProposedAction struct {
	Type        string
	Title       string
	Description string
	Confidence  int // [0,100]
	Metadata    interface{}
}

// CheckFunc inspects the snapshot and yields zero or more proposed actions.
// Checks must be side-effect free; persistence belongs to the caller.
type CheckFunc func(ctx context.Context, snap *CheckSnapshot) ([]ProposedAction, error)

// Check 一个命名的启发式检查项
type Check struct {
	Name string
	Run  CheckFunc
}

// CheckRegistry holds the ordered set of checks for one run. Execution
// order is registration order and is recorded verbatim on the run.
type CheckRegistry struct {
	checks []Check
}

func NewCheckRegistry() *CheckRegistry {
	return &CheckRegistry{}
}

// Register appends a named check. Duplicate names are rejected so the
// checks_run audit list stays unambiguous.
func (r *CheckRegistry) Register(name string, fn CheckFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("check name and func required")
	}
	for _, c := range r.checks {
		if c.Name == name {
			return fmt.Errorf("check already registered: %s", name)
		}
	}
	r.checks = append(r.checks, Check{Name: name, Run: fn})
	return nil
}

// Checks returns the registered checks in registration order.
func (r *CheckRegistry) Checks() []Check {
	out := make([]Check, len(r.checks))
	copy(out, r.checks)
	return out
}

// Names returns the check names in registration order.
func (r *CheckRegistry) Names() []string {
	names := make([]string, 0, len(r.checks))
	for _, c := range r.checks {
		names = append(names, c.Name)
	}
	return names
}

// DefaultCheckRegistry returns the production check set.
func DefaultCheckRegistry() *CheckRegistry {
	r := NewCheckRegistry()
	_ = r.Register("stale_tickets", CheckStaleTickets)
	_ = r.Register("pm_alerts", CheckPMAlerts)
	_ = r.Register("sprint_gaps", CheckSprintGaps)
	_ = r.Register("accountability", CheckAccountability)
	_ = r.Register("workload_suggestions", CheckWorkloadSuggestions)
	_ = r.Register("assignment_suggestions", CheckAssignmentSuggestions)
	_ = r.Register("slack_insights", CheckSlackInsights)
	return r
}

// Typed metadata payloads, one shape per action type. They are serialized
// to JSON on the persisted action and rendered by the dashboard per type.

type StaleTicketMeta struct {
	TicketID  uint   `json:"ticket_id"`
	TicketKey string `json:"ticket_key"`
	DaysIdle  int    `json:"days_idle"`
}

type PMAlertMeta struct {
	TicketID  uint   `json:"ticket_id"`
	TicketKey string `json:"ticket_key"`
	Reason    string `json:"reason"` // blocked, urgent_unassigned
}

type SprintGapMeta struct {
	SprintID        uint   `json:"sprint_id"`
	SprintName      string `json:"sprint_name"`
	CommittedPoints int    `json:"committed_points"`
	CapacityPoints  int    `json:"capacity_points"`
}

type AccountabilityMeta struct {
	MemberID   uint   `json:"member_id"`
	MemberName string `json:"member_name"`
	OpenCount  int    `json:"open_count"`
	DaysQuiet  int    `json:"days_quiet"`
}

type WorkloadMeta struct {
	MemberID   uint   `json:"member_id"`
	MemberName string `json:"member_name"`
	InProgress int    `json:"in_progress"`
	WIPLimit   int    `json:"wip_limit"`
}

type AssignTicketMeta struct {
	TicketID          uint   `json:"ticket_id"`
	TicketKey         string `json:"ticket_key"`
	SuggestedMemberID uint   `json:"suggested_member_id"`
	SuggestedMember   string `json:"suggested_member"`
	CurrentLoad       int    `json:"current_load"`
}

type SlackInsightMeta struct {
	Channel   string `json:"channel"`
	TicketKey string `json:"ticket_key"`
	Mentions  int    `json:"mentions"`
}

const (
	staleAfterDays   = 3
	quietAfterDays   = 2
	wipLimit         = 3
	slackLookbackDay = 3
)

// CheckStaleTickets flags in-flight tickets nobody has touched for a while.
// Confidence scales with idle days.
func CheckStaleTickets(ctx context.Context, snap *CheckSnapshot) ([]ProposedAction, error) {
	var actions []ProposedAction
	for _, t := range snap.Tickets {
		if t.Status != "in_progress" && t.Status != "blocked" {
			continue
		}
		days := int(snap.Now.Sub(t.UpdatedAt).Hours() / 24)
		if days < staleAfterDays {
			continue
		}
		conf := 40 + days*10
		if conf > 95 {
			conf = 95
		}
		actions = append(actions, ProposedAction{
			Type:        models.ActionTypeStaleTicket,
			Title:       fmt.Sprintf("Ticket %s idle for %d days", t.Key, days),
			Description: fmt.Sprintf("%q is %s but has had no updates since %s. Flag it for follow-up.", t.Title, t.Status, t.UpdatedAt.Format("2006-01-02")),
			Confidence:  conf,
			Metadata:    StaleTicketMeta{TicketID: t.ID, TicketKey: t.Key, DaysIdle: days},
		})
	}
	return actions, nil
}

// CheckPMAlerts surfaces tickets that need PM attention right now:
// blocked tickets and urgent tickets without an assignee.
func CheckPMAlerts(ctx context.Context, snap *CheckSnapshot) ([]ProposedAction, error) {
	var actions []ProposedAction
	for _, t := range snap.Tickets {
		switch {
		case t.Status == "blocked":
			conf := 75
			if t.Priority == "urgent" {
				conf = 90
			}
			actions = append(actions, ProposedAction{
				Type:        models.ActionTypePMAlert,
				Title:       fmt.Sprintf("Ticket %s is blocked", t.Key),
				Description: fmt.Sprintf("%q (priority %s) is blocked and needs PM intervention.", t.Title, t.Priority),
				Confidence:  conf,
				Metadata:    PMAlertMeta{TicketID: t.ID, TicketKey: t.Key, Reason: "blocked"},
			})
		case t.Priority == "urgent" && t.AssigneeID == nil && t.Status != "done":
			actions = append(actions, ProposedAction{
				Type:        models.ActionTypePMAlert,
				Title:       fmt.Sprintf("Urgent ticket %s has no assignee", t.Key),
				Description: fmt.Sprintf("%q is marked urgent but nobody owns it.", t.Title),
				Confidence:  85,
				Metadata:    PMAlertMeta{TicketID: t.ID, TicketKey: t.Key, Reason: "urgent_unassigned"},
			})
		}
	}
	return actions, nil
}

// CheckSprintGaps compares the active sprint's committed points against
// team capacity and warns on under- or over-commitment.
func CheckSprintGaps(ctx context.Context, snap *CheckSnapshot) ([]ProposedAction, error) {
	capacity := 0
	for _, m := range snap.Members {
		if m.Active && m.Role == "engineer" {
			capacity += m.CapacityPoints
		}
	}
	if capacity == 0 {
		return nil, nil
	}

	var actions []ProposedAction
	for _, s := range snap.Sprints {
		if !s.Active {
			continue
		}
		meta := SprintGapMeta{SprintID: s.ID, SprintName: s.Name, CommittedPoints: s.CommittedPoints, CapacityPoints: capacity}
		switch {
		case s.CommittedPoints*10 < capacity*8: // below 80% of capacity
			actions = append(actions, ProposedAction{
				Type:        models.ActionTypeSprintGapWarning,
				Title:       fmt.Sprintf("Sprint %s is under-committed", s.Name),
				Description: fmt.Sprintf("Committed %d points against a team capacity of %d. There is room for more work.", s.CommittedPoints, capacity),
				Confidence:  70,
				Metadata:    meta,
			})
		case s.CommittedPoints*10 > capacity*12: // above 120% of capacity
			actions = append(actions, ProposedAction{
				Type:        models.ActionTypeSprintGapWarning,
				Title:       fmt.Sprintf("Sprint %s is over-committed", s.Name),
				Description: fmt.Sprintf("Committed %d points against a team capacity of %d. Scope may need trimming.", s.CommittedPoints, capacity),
				Confidence:  75,
				Metadata:    meta,
			})
		}
	}
	return actions, nil
}

// CheckAccountability flags engineers holding in-progress tickets with no
// recorded activity (commits, PRs, reviews, comments) for several days.
func CheckAccountability(ctx context.Context, snap *CheckSnapshot) ([]ProposedAction, error) {
	lastActivity := make(map[uint]time.Time, len(snap.Members))
	for _, a := range snap.Activity {
		if a.OccurredAt.After(lastActivity[a.MemberID]) {
			lastActivity[a.MemberID] = a.OccurredAt
		}
	}

	inProgress := make(map[uint]int)
	for _, t := range snap.Tickets {
		if t.Status == "in_progress" && t.AssigneeID != nil {
			inProgress[*t.AssigneeID]++
		}
	}

	var actions []ProposedAction
	for _, m := range snap.Members {
		if !m.Active || m.Role != "engineer" || inProgress[m.ID] == 0 {
			continue
		}
		last, ok := lastActivity[m.ID]
		daysQuiet := quietAfterDays
		if ok {
			daysQuiet = int(snap.Now.Sub(last).Hours() / 24)
		}
		if daysQuiet < quietAfterDays {
			continue
		}
		conf := 50 + daysQuiet*15
		if conf > 90 {
			conf = 90
		}
		actions = append(actions, ProposedAction{
			Type:        models.ActionTypeAccountabilityFlag,
			Title:       fmt.Sprintf("%s has %d in-progress tickets but no recent activity", m.Name, inProgress[m.ID]),
			Description: fmt.Sprintf("No commits, PRs or comments recorded for %d days. Worth a check-in.", daysQuiet),
			Confidence:  conf,
			Metadata:    AccountabilityMeta{MemberID: m.ID, MemberName: m.Name, OpenCount: inProgress[m.ID], DaysQuiet: daysQuiet},
		})
	}
	return actions, nil
}

// CheckWorkloadSuggestions proposes rebalancing when an engineer exceeds
// the WIP limit.
func CheckWorkloadSuggestions(ctx context.Context, snap *CheckSnapshot) ([]ProposedAction, error) {
	inProgress := make(map[uint]int)
	for _, t := range snap.Tickets {
		if t.Status == "in_progress" && t.AssigneeID != nil {
			inProgress[*t.AssigneeID]++
		}
	}

	var actions []ProposedAction
	for _, m := range snap.Members {
		if !m.Active || inProgress[m.ID] <= wipLimit {
			continue
		}
		actions = append(actions, ProposedAction{
			Type:        models.ActionTypePMSuggestion,
			Title:       fmt.Sprintf("%s is juggling %d tickets", m.Name, inProgress[m.ID]),
			Description: fmt.Sprintf("In-progress count exceeds the WIP limit of %d. Consider redistributing work.", wipLimit),
			Confidence:  65,
			Metadata:    WorkloadMeta{MemberID: m.ID, MemberName: m.Name, InProgress: inProgress[m.ID], WIPLimit: wipLimit},
		})
	}
	return actions, nil
}

// CheckAssignmentSuggestions proposes an assignee for unowned open tickets,
// picking the least-loaded active engineer. Confidence grows with the
// amount of free capacity the candidate has.
func CheckAssignmentSuggestions(ctx context.Context, snap *CheckSnapshot) ([]ProposedAction, error) {
	load := make(map[uint]int)
	for _, t := range snap.Tickets {
		if (t.Status == "in_progress" || t.Status == "open") && t.AssigneeID != nil {
			load[*t.AssigneeID]++
		}
	}

	type candidate struct {
		member models.TeamMember
		load   int
	}
	var candidates []candidate
	for _, m := range snap.Members {
		if m.Active && m.Role == "engineer" {
			candidates = append(candidates, candidate{member: m, load: load[m.ID]})
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].load != candidates[j].load {
			return candidates[i].load < candidates[j].load
		}
		return candidates[i].member.ID < candidates[j].member.ID
	})

	var actions []ProposedAction
	for _, t := range snap.Tickets {
		if t.Status != "open" || t.AssigneeID != nil {
			continue
		}
		best := candidates[0]
		free := best.member.CapacityPoints - best.load
		conf := 55 + free*5
		if conf > 85 {
			conf = 85
		}
		if conf < 55 {
			conf = 55
		}
		actions = append(actions, ProposedAction{
			Type:        models.ActionTypeAssignTicket,
			Title:       fmt.Sprintf("Assign %s to %s", t.Key, best.member.Name),
			Description: fmt.Sprintf("%q has no owner. %s currently carries %d tickets and has the most free capacity.", t.Title, best.member.Name, best.load),
			Confidence:  conf,
			Metadata: AssignTicketMeta{
				TicketID:          t.ID,
				TicketKey:         t.Key,
				SuggestedMemberID: best.member.ID,
				SuggestedMember:   best.member.Name,
				CurrentLoad:       best.load,
			},
		})
	}
	return actions, nil
}

var slackTroubleWords = []string{"blocked", "stuck", "broken", "help", "waiting on"}

// CheckSlackInsights scans recently synced Slack messages for tickets that
// keep coming up together with trouble keywords.
func CheckSlackInsights(ctx context.Context, snap *CheckSnapshot) ([]ProposedAction, error) {
	cutoff := snap.Now.AddDate(0, 0, -slackLookbackDay)
	type key struct{ channel, ticket string }
	mentions := make(map[key]int)
	for _, msg := range snap.SlackMessages {
		if msg.TicketKey == "" || msg.PostedAt.Before(cutoff) {
			continue
		}
		text := strings.ToLower(msg.Text)
		for _, w := range slackTroubleWords {
			if strings.Contains(text, w) {
				mentions[key{msg.Channel, msg.TicketKey}]++
				break
			}
		}
	}

	// Deterministic output order for the audit trail.
	keys := make([]key, 0, len(mentions))
	for k := range mentions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].channel != keys[j].channel {
			return keys[i].channel < keys[j].channel
		}
		return keys[i].ticket < keys[j].ticket
	})

	var actions []ProposedAction
	for _, k := range keys {
		n := mentions[k]
		if n < 2 {
			continue
		}
		conf := 40 + n*15
		if conf > 80 {
			conf = 80
		}
		actions = append(actions, ProposedAction{
			Type:        models.ActionTypeSlackInsight,
			Title:       fmt.Sprintf("Ticket %s keeps surfacing in #%s", k.ticket, k.channel),
			Description: fmt.Sprintf("%d messages in the last %d days mention %s together with trouble keywords.", n, slackLookbackDay, k.ticket),
			Confidence:  conf,
			Metadata:    SlackInsightMeta{Channel: k.channel, TicketKey: k.ticket, Mentions: n},
		})
	}
	return actions, nil
}
