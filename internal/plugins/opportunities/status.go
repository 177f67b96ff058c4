package opportunities

import (
	"math"
	"slices"

	"github.com/jainabhi1607/loanease/internal/plugins/audit"
)

// Status is the lifecycle stage of an opportunity. Stored rows may carry
// values outside the canonical set (imported history); every function here
// accepts them without error.
type Status string

const (
	StatusDraft                 Status = "draft"
	StatusOpportunity           Status = "opportunity"
	StatusApplicationCreated    Status = "application_created"
	StatusApplicationSubmitted  Status = "application_submitted"
	StatusConditionallyApproved Status = "conditionally_approved"
	StatusApproved              Status = "approved"
	StatusSettled               Status = "settled"
	StatusDeclined              Status = "declined"
	StatusWithdrawn             Status = "withdrawn"
)

// unknownStatusProgress is shown for statuses outside the canonical set.
const unknownStatusProgress = 20

// lifecycle is the main path shown on the progress bar.
var lifecycle = []Status{
	StatusDraft,
	StatusOpportunity,
	StatusApplicationCreated,
	StatusApplicationSubmitted,
	StatusConditionallyApproved,
	StatusApproved,
	StatusSettled,
}

// statusOrder is the canonical ordered list: the main path followed by the
// two terminal side branches.
var statusOrder = append(slices.Clone(lifecycle), StatusDeclined, StatusWithdrawn)

// applicationStages are the statuses from application_created onwards.
var applicationStages = statusOrder[slices.Index(statusOrder, StatusApplicationCreated):]

func (s Status) index() int {
	return slices.Index(statusOrder, s)
}

// IsValid reports whether s is one of the canonical statuses.
func (s Status) IsValid() bool {
	return s.index() >= 0
}

// IsTerminalBranch reports whether s is declined or withdrawn.
func (s Status) IsTerminalBranch() bool {
	return s == StatusDeclined || s == StatusWithdrawn
}

// Label renders s for display: "conditionally_approved" becomes
// "Conditionally Approved".
func (s Status) Label() string {
	return audit.TitleCase(string(s))
}

// ProgressPercentage returns how far along the main path s is, as a whole
// percentage. Declined and withdrawn count as finished. Unknown statuses get
// a fixed low value instead of an error.
func ProgressPercentage(s Status) int {
	if s.IsTerminalBranch() {
		return 100
	}
	i := slices.Index(lifecycle, s)
	if i < 0 {
		return unknownStatusProgress
	}
	return int(math.Round(float64(i+1) * 100 / float64(len(lifecycle))))
}

// IsAtOrPast reports whether s has reached checkpoint in the canonical
// order. Either value being unknown yields false.
func IsAtOrPast(s, checkpoint Status) bool {
	si, ci := s.index(), checkpoint.index()
	if si < 0 || ci < 0 {
		return false
	}
	return si >= ci
}

// HasReachedApplicationStage reports whether s is application_created or
// any later status, including the terminal branches.
func HasReachedApplicationStage(s Status) bool {
	return slices.Contains(applicationStages, s)
}

// Checkpoint is one step of the progress bar.
type Checkpoint struct {
	Status  Status `json:"status"`
	Label   string `json:"label"`
	Reached bool   `json:"reached"`
}

// Progress is the progress view embedded in opportunity responses.
type Progress struct {
	Percentage       int          `json:"percentage"`
	ApplicationStage bool         `json:"application_stage"`
	Checkpoints      []Checkpoint `json:"checkpoints"`
}

// ProgressFor computes the progress view for s.
func ProgressFor(s Status) Progress {
	p := Progress{
		Percentage:       ProgressPercentage(s),
		ApplicationStage: HasReachedApplicationStage(s),
		Checkpoints:      make([]Checkpoint, 0, len(lifecycle)),
	}
	for _, step := range lifecycle {
		p.Checkpoints = append(p.Checkpoints, Checkpoint{
			Status:  step,
			Label:   step.Label(),
			Reached: IsAtOrPast(s, step),
		})
	}
	return p
}
