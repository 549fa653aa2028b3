// Package pipeline models the fixed lead-to-investor progress stages and the
// linear transitions between them.
package pipeline

import (
	"errors"
	"fmt"
)

var ErrUnknownStage = errors.New("unknown progress stage")

// Stage is a named step in the lead-to-active-investor pipeline.
type Stage string

const (
	StageLeadGenerated     Stage = "lead-generated"
	StageKYCStatus         Stage = "Kyc-Status"
	StageKYCStarted        Stage = "kyc-started"
	StageKYCCompleted      Stage = "kyc-completed"
	StageCANNoGenerated    Stage = "can-no-generated"
	StageCANAccountCreated Stage = "can-account-created"
	StageMandateGenerated  Stage = "mandate-generated"
	StageMandateAccepted   Stage = "mandate-accepted"
	StageSIPSetup          Stage = "sip-setup"
)

// LostNotice replaces the stage markers for a lost lead.
const LostNotice = "Lead Lost"

var stages = []Stage{
	StageLeadGenerated,
	StageKYCStatus,
	StageKYCStarted,
	StageKYCCompleted,
	StageCANNoGenerated,
	StageCANAccountCreated,
	StageMandateGenerated,
	StageMandateAccepted,
	StageSIPSetup,
}

var labels = map[Stage]string{
	StageLeadGenerated:     "Lead Generated",
	StageKYCStatus:         "KYC Status",
	StageKYCStarted:        "KYC Started",
	StageKYCCompleted:      "KYC Completed",
	StageCANNoGenerated:    "CAN No. Generated",
	StageCANAccountCreated: "CAN Account Created",
	StageMandateGenerated:  "Mandate Generated",
	StageMandateAccepted:   "Mandate Accepted",
	StageSIPSetup:          "SIP Setup",
}

// Stages returns the ordered stage list.
func Stages() []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

func First() Stage { return stages[0] }

func Last() Stage { return stages[len(stages)-1] }

// Parse matches an identifier exactly, including the capitalised Kyc-Status.
func Parse(id string) (Stage, error) {
	s := Stage(id)
	if s.Index() < 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, id)
	}
	return s, nil
}

// Index returns the stage position, or -1 for an unknown stage.
func (s Stage) Index() int {
	for i, st := range stages {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Stage) Label() string {
	if l, ok := labels[s]; ok {
		return l
	}
	return string(s)
}

func (s Stage) Valid() bool { return s.Index() >= 0 }

// Tracker holds a lead's position in the pipeline. A lost tracker never moves.
type Tracker struct {
	index int
	lost  bool
}

func NewTracker(stage Stage, lost bool) (*Tracker, error) {
	idx := stage.Index()
	if idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	return &Tracker{index: idx, lost: lost}, nil
}

func (t *Tracker) Current() Stage { return stages[t.index] }

func (t *Tracker) Index() int { return t.index }

func (t *Tracker) Lost() bool { return t.lost }

func (t *Tracker) Complete() bool { return t.index == len(stages)-1 }

// Advance moves one stage forward. It reports false when already at the last
// stage or when the lead is lost.
func (t *Tracker) Advance() bool {
	if t.lost || t.index >= len(stages)-1 {
		return false
	}
	t.index++
	return true
}

// Retreat moves one stage back. It reports false at the first stage or when
// the lead is lost.
func (t *Tracker) Retreat() bool {
	if t.lost || t.index <= 0 {
		return false
	}
	t.index--
	return true
}

type MarkerState string

const (
	MarkerCompleted MarkerState = "completed"
	MarkerActive    MarkerState = "active"
	MarkerPending   MarkerState = "pending"
)

type Marker struct {
	Stage Stage       `json:"stage"`
	Label string      `json:"label"`
	Index int         `json:"index"`
	State MarkerState `json:"state"`
}

// View is what the dashboard renders for a lead's progress.
type View struct {
	Current      Stage    `json:"current"`
	CurrentIndex int      `json:"current_index"`
	Total        int      `json:"total"`
	Complete     bool     `json:"complete"`
	Lost         bool     `json:"lost"`
	Notice       string   `json:"notice,omitempty"`
	Markers      []Marker `json:"markers,omitempty"`
}

func (t *Tracker) View() View {
	v := View{
		Current:      t.Current(),
		CurrentIndex: t.index,
		Total:        len(stages),
		Complete:     t.Complete(),
	}
	if t.lost {
		v.Lost = true
		v.Notice = LostNotice
		return v
	}

	v.Markers = make([]Marker, len(stages))
	for i, st := range stages {
		state := MarkerPending
		switch {
		case i < t.index:
			state = MarkerCompleted
		case i == t.index:
			state = MarkerActive
		}
		v.Markers[i] = Marker{Stage: st, Label: st.Label(), Index: i, State: state}
	}
	return v
}
