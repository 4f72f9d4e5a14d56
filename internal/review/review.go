// Package review holds the record verification pipeline: the status enum,
// the per-family labels and the legal transitions between statuses.
//
// Functions here decide whether a transition is legal and where it lands.
// Applying it is the store's job, as a conditional update keyed on Step.From.
package review

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusFirstReview Status = "first_review"
	StatusVerified    Status = "verified"
	StatusRejected    Status = "rejected"
)

// Family selects the status vocabulary a record type speaks.
type Family string

const (
	FamilyIncident Family = "incident"
	FamilyGeneric  Family = "generic"
)

type Stage string

const (
	StageFirst  Stage = "first"
	StageSecond Stage = "second"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrSelfReview        = errors.New("second review must be performed by a different reviewer")
	ErrReasonRequired    = errors.New("reason is required")
)

// TransitionError reports an action that is illegal from the current status.
type TransitionError struct {
	Action string
	From   Status
	Family Family
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s record: current status is %s", e.Action, e.From.Label(e.Family))
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Policy is the per-project configuration of the pipeline.
type Policy struct {
	RequireDifferentValidator bool
	AllowReopenRejected       bool
}

// State is the slice of a record the pipeline needs.
type State struct {
	Family          Family
	Status          Status
	FirstReviewedBy *int64
	Deleted         bool
}

// Step is a legal transition. Stage is only set for review steps.
type Step struct {
	From  Status
	To    Status
	Stage Stage
}

// Label renders s in the vocabulary of family f.
func (s Status) Label(f Family) string {
	if f == FamilyGeneric {
		switch s {
		case StatusPending:
			return "pending_review"
		case StatusFirstReview:
			return "pending_validation"
		}
	}
	return string(s)
}

// ParseStatus accepts either vocabulary.
func ParseStatus(label string) (Status, bool) {
	switch strings.TrimSpace(label) {
	case "pending", "pending_review":
		return StatusPending, true
	case "first_review", "pending_validation":
		return StatusFirstReview, true
	case "verified":
		return StatusVerified, true
	case "rejected":
		return StatusRejected, true
	default:
		return "", false
	}
}

// NormalizeFamily maps unknown values to the generic family.
func NormalizeFamily(value string) Family {
	if Family(value) == FamilyIncident {
		return FamilyIncident
	}
	return FamilyGeneric
}

// NextReview returns the step a review submission takes. The destination
// depends only on the current status.
func NextReview(s State, reviewerID int64, p Policy) (Step, error) {
	if s.Deleted {
		return Step{}, &TransitionError{Action: "review", From: s.Status, Family: s.Family}
	}
	switch s.Status {
	case StatusPending:
		return Step{From: StatusPending, To: StatusFirstReview, Stage: StageFirst}, nil
	case StatusFirstReview:
		if p.RequireDifferentValidator && s.FirstReviewedBy != nil && *s.FirstReviewedBy == reviewerID {
			return Step{}, ErrSelfReview
		}
		return Step{From: StatusFirstReview, To: StatusVerified, Stage: StageSecond}, nil
	default:
		return Step{}, &TransitionError{Action: "review", From: s.Status, Family: s.Family}
	}
}

// Unpublish sends a verified record back to the queue.
func Unpublish(s State, reason string) (Step, error) {
	if strings.TrimSpace(reason) == "" {
		return Step{}, ErrReasonRequired
	}
	if s.Deleted || s.Status != StatusVerified {
		return Step{}, &TransitionError{Action: "unpublish", From: s.Status, Family: s.Family}
	}
	return Step{From: StatusVerified, To: StatusPending}, nil
}

// Reject is legal from any status that is not yet verified or rejected.
// The reason is optional.
func Reject(s State) (Step, error) {
	if s.Deleted || s.Status == StatusVerified || s.Status == StatusRejected {
		return Step{}, &TransitionError{Action: "reject", From: s.Status, Family: s.Family}
	}
	return Step{From: s.Status, To: StatusRejected}, nil
}

// Reopen returns a rejected record to the queue when the project allows it.
func Reopen(s State, p Policy) (Step, error) {
	if s.Deleted || s.Status != StatusRejected || !p.AllowReopenRejected {
		return Step{}, &TransitionError{Action: "reopen", From: s.Status, Family: s.Family}
	}
	return Step{From: StatusRejected, To: StatusPending}, nil
}

// CanPropose reports whether a change proposal may target the record.
// Records still in review are edited directly instead.
func CanPropose(s State) error {
	if s.Deleted || s.Status != StatusVerified {
		return &TransitionError{Action: "propose a change to", From: s.Status, Family: s.Family}
	}
	return nil
}

// CanEdit reports whether the payload may be mutated in place.
func CanEdit(s State) error {
	if s.Deleted || (s.Status != StatusPending && s.Status != StatusFirstReview) {
		return &TransitionError{Action: "edit", From: s.Status, Family: s.Family}
	}
	return nil
}
