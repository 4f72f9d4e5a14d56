package review

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func TestNextReviewDestinationIgnoresReviewer(t *testing.T) {
	for _, reviewer := range []int64{1, 2, 99} {
		step, err := NextReview(State{Status: StatusPending}, reviewer, Policy{RequireDifferentValidator: true})
		require.NoError(t, err)
		assert.Equal(t, StatusFirstReview, step.To)
		assert.Equal(t, StageFirst, step.Stage)
	}
}

func TestNextReviewSecondStage(t *testing.T) {
	state := State{Status: StatusFirstReview, FirstReviewedBy: ptr(7)}

	step, err := NextReview(state, 8, Policy{RequireDifferentValidator: true})
	require.NoError(t, err)
	assert.Equal(t, Step{From: StatusFirstReview, To: StatusVerified, Stage: StageSecond}, step)

	_, err = NextReview(state, 7, Policy{RequireDifferentValidator: true})
	assert.ErrorIs(t, err, ErrSelfReview)

	step, err = NextReview(state, 7, Policy{})
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, step.To)
}

func TestNextReviewInvalidStates(t *testing.T) {
	cases := []struct {
		name  string
		state State
	}{
		{name: "verified", state: State{Status: StatusVerified}},
		{name: "rejected", state: State{Status: StatusRejected}},
		{name: "deleted", state: State{Status: StatusPending, Deleted: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NextReview(tc.state, 1, Policy{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
		})
	}
}

func TestTransitionErrorNamesCurrentStatusInFamilyVocabulary(t *testing.T) {
	_, err := NextReview(State{Family: FamilyGeneric, Status: StatusVerified}, 1, Policy{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verified")

	_, err = Reopen(State{Family: FamilyGeneric, Status: StatusFirstReview}, Policy{AllowReopenRejected: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending_validation")
}

func TestUnpublish(t *testing.T) {
	_, err := Unpublish(State{Status: StatusVerified}, "  ")
	assert.ErrorIs(t, err, ErrReasonRequired)

	_, err = Unpublish(State{Status: StatusFirstReview}, "duplicate data")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	step, err := Unpublish(State{Status: StatusVerified}, "duplicate data")
	require.NoError(t, err)
	assert.Equal(t, Step{From: StatusVerified, To: StatusPending}, step)
}

func TestReject(t *testing.T) {
	for _, status := range []Status{StatusPending, StatusFirstReview} {
		step, err := Reject(State{Status: status})
		require.NoError(t, err)
		assert.Equal(t, status, step.From)
		assert.Equal(t, StatusRejected, step.To)
	}
	_, err := Reject(State{Status: StatusVerified})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = Reject(State{Status: StatusRejected})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReopenRequiresPolicy(t *testing.T) {
	_, err := Reopen(State{Status: StatusRejected}, Policy{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	step, err := Reopen(State{Status: StatusRejected}, Policy{AllowReopenRejected: true})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, step.To)
}

func TestCanProposeOnlyVerified(t *testing.T) {
	assert.NoError(t, CanPropose(State{Status: StatusVerified}))
	assert.ErrorIs(t, CanPropose(State{Status: StatusPending}), ErrInvalidTransition)
	assert.ErrorIs(t, CanPropose(State{Status: StatusVerified, Deleted: true}), ErrInvalidTransition)
}

func TestCanEdit(t *testing.T) {
	assert.NoError(t, CanEdit(State{Status: StatusPending}))
	assert.NoError(t, CanEdit(State{Status: StatusFirstReview}))
	assert.ErrorIs(t, CanEdit(State{Status: StatusVerified}), ErrInvalidTransition)
	assert.ErrorIs(t, CanEdit(State{Status: StatusRejected}), ErrInvalidTransition)
}

func TestLabelsAndParse(t *testing.T) {
	assert.Equal(t, "pending_review", StatusPending.Label(FamilyGeneric))
	assert.Equal(t, "pending_validation", StatusFirstReview.Label(FamilyGeneric))
	assert.Equal(t, "first_review", StatusFirstReview.Label(FamilyIncident))

	for label, want := range map[string]Status{
		"pending_review":     StatusPending,
		"pending":            StatusPending,
		"pending_validation": StatusFirstReview,
		"verified":           StatusVerified,
	} {
		got, ok := ParseStatus(label)
		require.True(t, ok, label)
		assert.Equal(t, want, got)
	}
	_, ok := ParseStatus("second_review")
	assert.False(t, ok)
}
