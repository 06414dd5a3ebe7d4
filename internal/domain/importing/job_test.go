package importing

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJob(t *testing.T, js string) *ImportJob {
	t.Helper()
	var j ImportJob
	require.NoError(t, json.Unmarshal([]byte(js), &j))
	return &j
}

func mustPatch(t *testing.T, js string) JobPatch {
	t.Helper()
	var p JobPatch
	require.NoError(t, json.Unmarshal([]byte(js), &p))
	return p
}

func TestApplyPatch_ReplacesOnlyPatchedFields(t *testing.T) {
	current := mustJob(t, `{"id":42,"slug":"x","description":"old","definition_id":7}`)

	next, err := ApplyPatch(current, mustPatch(t, `{"id":42,"description":"renamed"}`))
	require.NoError(t, err)

	assert.Equal(t, int64(42), next.ID)
	assert.Equal(t, "x", next.Slug)
	assert.Equal(t, "renamed", next.Description)
	assert.Equal(t, int64(7), next.DefinitionID)

	// The input is left untouched.
	assert.Equal(t, "old", current.Description)
}

func TestApplyPatch_NilCurrentStaysNil(t *testing.T) {
	next, err := ApplyPatch(nil, mustPatch(t, `{"id":1,"state":"finished"}`))
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestApplyPatch_PreservesUnmodelledFields(t *testing.T) {
	current := mustJob(t, `{"id":3,"slug":"s","definition_id":1,"review":{"by":"ann"}}`)

	next, err := ApplyPatch(current, mustPatch(t, `{"id":3,"state":"analysing_data","last_progress_update":"2024-05-01"}`))
	require.NoError(t, err)

	review, ok := next.Extra("review")
	require.True(t, ok)
	assert.JSONEq(t, `{"by":"ann"}`, string(review))

	progress, ok := next.Extra("last_progress_update")
	require.True(t, ok)
	assert.JSONEq(t, `"2024-05-01"`, string(progress))
	assert.Equal(t, JobStateAnalysingData, next.State)
}

func TestApplyPatch_IsShallow(t *testing.T) {
	current := mustJob(t, `{"id":3,"review":{"by":"ann","note":"keep?"}}`)

	next, err := ApplyPatch(current, mustPatch(t, `{"review":{"by":"bob"}}`))
	require.NoError(t, err)

	review, _ := next.Extra("review")
	assert.JSONEq(t, `{"by":"bob"}`, string(review))
}

func TestApplyPatch_FoldEqualsMergedPatch(t *testing.T) {
	tests := []struct {
		name string
		m1   string
		m2   string
	}{
		{
			name: "disjoint fields",
			m1:   `{"description":"a"}`,
			m2:   `{"state":"finished","import_completed_pct":100}`,
		},
		{
			name: "second patch adds unmodelled field",
			m1:   `{"total_rows":10}`,
			m2:   `{"extra_col":true}`,
		},
		{
			name: "nulling a nullable field",
			m1:   `{"error":"boom"}`,
			m2:   `{"default_valid_to":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := mustJob(t, `{"id":9,"slug":"j","definition_id":2,"default_valid_to":"2024-12-31"}`)
			m1, m2 := mustPatch(t, tt.m1), mustPatch(t, tt.m2)

			step1, err := ApplyPatch(job, m1)
			require.NoError(t, err)
			folded, err := ApplyPatch(step1, m2)
			require.NoError(t, err)

			direct, err := ApplyPatch(job, MergePatches(m1, m2))
			require.NoError(t, err)

			foldedJSON, err := json.Marshal(folded)
			require.NoError(t, err)
			directJSON, err := json.Marshal(direct)
			require.NoError(t, err)
			assert.JSONEq(t, string(directJSON), string(foldedJSON))
		})
	}
}

func TestApplyPatch_RejectsTypeMismatch(t *testing.T) {
	current := mustJob(t, `{"id":1}`)
	_, err := ApplyPatch(current, mustPatch(t, `{"definition_id":"seven"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestImportJob_RoundTripKeepsTimestamps(t *testing.T) {
	job := mustJob(t, `{"id":5,"created_at":"2024-03-01T10:00:00.123456+00:00","state":"waiting_for_upload"}`)

	require.NotNil(t, job.CreatedAt)
	assert.Equal(t, 2024, job.CreatedAt.Year())
	assert.Equal(t, JobStateWaitingForUpload, job.State)

	clone := job.Clone()
	clone.Description = "changed"
	assert.Empty(t, job.Description)
}

func TestJobSlug(t *testing.T) {
	at := time.UnixMilli(1717171717171)
	slug := JobSlug("payroll", at)

	assert.Equal(t, "payroll_1717171717171", slug)
	assert.True(t, strings.HasPrefix(slug, "payroll_"))
}

func TestJobPatch_ID(t *testing.T) {
	id, ok := mustPatch(t, `{"id":12}`).ID()
	assert.True(t, ok)
	assert.Equal(t, int64(12), id)

	_, ok = mustPatch(t, `{"id":"12"}`).ID()
	assert.False(t, ok)

	_, ok = mustPatch(t, `{}`).ID()
	assert.False(t, ok)
}

func TestJobState(t *testing.T) {
	assert.True(t, JobStateFinished.IsTerminal())
	assert.True(t, JobStateRejected.IsTerminal())
	assert.False(t, JobStateApproved.IsTerminal())
	assert.True(t, JobStateAnalysingData.IsProcessing())
	assert.False(t, JobStateWaitingForReview.IsProcessing())
	assert.Equal(t, JobStatePreparingData, ParseJobState("preparing_data"))
	assert.Equal(t, JobState(""), ParseJobState("bogus"))
}
