// Package importing provides the domain types for synchronizing STATBUS import
// jobs: the job and definition records, time contexts, unit counts, and the
// change events streamed by the server.
package importing

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// ImportJob is one execution of an import definition. Apart from the fields
// the client creates it with, every field is owned by the server and only
// mirrored locally.
//
// The JSON object a job was decoded from is retained, so fields that are not
// modelled here survive a round trip and merge-patches.
type ImportJob struct {
	ID               int64      `json:"id"`
	Slug             string     `json:"slug"`
	Description      string     `json:"description"`
	DefinitionID     int64      `json:"definition_id"`
	TimeContextIdent *string    `json:"time_context_ident"`
	DefaultValidFrom *string    `json:"default_valid_from"`
	DefaultValidTo   *string    `json:"default_valid_to"`
	State            JobState   `json:"state"`
	CompletedPct     *float64   `json:"import_completed_pct"`
	TotalRows        *int64     `json:"total_rows"`
	ImportedRows     *int64     `json:"imported_rows"`
	Error            *string    `json:"error"`
	UserID           *int64     `json:"user_id"`
	UploadTableName  string     `json:"upload_table_name"`
	DataTableName    string     `json:"data_table_name"`
	CreatedAt        *time.Time `json:"created_at"`
	UpdatedAt        *time.Time `json:"updated_at"`
	ExpiresAt        *time.Time `json:"expires_at"`

	raw map[string]json.RawMessage
}

// jobFields breaks the MarshalJSON/UnmarshalJSON recursion.
type jobFields ImportJob

// UnmarshalJSON decodes the modelled fields and keeps the full object.
func (j *ImportJob) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var f jobFields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	*j = ImportJob(f)
	j.raw = raw
	return nil
}

// MarshalJSON encodes the retained object with the modelled fields laid over it.
func (j ImportJob) MarshalJSON() ([]byte, error) {
	fields, err := j.Fields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// Fields returns the job as a flat JSON object keyed by column name.
func (j ImportJob) Fields() (map[string]json.RawMessage, error) {
	typed, err := json.Marshal(jobFields(j))
	if err != nil {
		return nil, err
	}

	var overlay map[string]json.RawMessage
	if err := json.Unmarshal(typed, &overlay); err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage, len(j.raw)+len(overlay))
	for k, v := range j.raw {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out, nil
}

// Extra returns a retained field that is not modelled on ImportJob.
func (j ImportJob) Extra(key string) (json.RawMessage, bool) {
	v, ok := j.raw[key]
	return v, ok
}

// Clone returns a copy of the job that shares no maps with the original.
// Pointer fields are shared; they are never mutated in place.
func (j *ImportJob) Clone() *ImportJob {
	if j == nil {
		return nil
	}
	out := *j
	out.raw = maps.Clone(j.raw)
	return &out
}

// JobPatch is a partial import_job row as delivered by the server: only the
// keys present are changed when it is applied.
type JobPatch map[string]json.RawMessage

// ID returns the job id carried by the patch.
func (p JobPatch) ID() (int64, bool) {
	raw, ok := p["id"]
	if !ok {
		return 0, false
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, false
	}
	return id, true
}

// Keys returns the field names the patch touches.
func (p JobPatch) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	return keys
}

// MergePatches combines two patches so that applying the result equals
// applying first and then second.
func MergePatches(first, second JobPatch) JobPatch {
	out := make(JobPatch, len(first)+len(second))
	for k, v := range first {
		out[k] = v
	}
	for k, v := range second {
		out[k] = v
	}
	return out
}

// ApplyPatch shallow-merges patch over current. Fields absent from the patch
// keep their value. A nil current stays nil: there is nothing to merge into.
func ApplyPatch(current *ImportJob, patch JobPatch) (*ImportJob, error) {
	if current == nil {
		return nil, nil
	}

	fields, err := current.Fields()
	if err != nil {
		return nil, fmt.Errorf("encoding job %d: %w", current.ID, err)
	}
	for k, v := range patch {
		fields[k] = v
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding merged job %d: %w", current.ID, err)
	}

	var next ImportJob
	if err := json.Unmarshal(data, &next); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &next, nil
}

// NewJobRequest is the client-provided part of an import_job insert.
type NewJobRequest struct {
	DefinitionID     int64   `json:"definition_id"`
	Slug             string  `json:"slug"`
	Description      *string `json:"description,omitempty"`
	TimeContextIdent *string `json:"time_context_ident"`
	DefaultValidFrom *string `json:"default_valid_from"`
	DefaultValidTo   *string `json:"default_valid_to"`
}

// JobSlug derives the unique job slug for a definition at the given instant.
func JobSlug(definitionSlug string, at time.Time) string {
	return fmt.Sprintf("%s_%d", definitionSlug, at.UnixMilli())
}
