package importing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobEvent(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantErr   error
		wantVerb  Verb
		wantJobID int64
		wantKeys  []string
	}{
		{
			name:      "update",
			data:      `{"verb":"UPDATE","import_job":{"id":42,"description":"renamed"}}`,
			wantVerb:  VerbUpdate,
			wantJobID: 42,
			wantKeys:  []string{"id", "description"},
		},
		{
			name:      "insert",
			data:      `{"verb":"INSERT","import_job":{"id":1,"slug":"a","state":"waiting_for_upload"}}`,
			wantVerb:  VerbInsert,
			wantJobID: 1,
			wantKeys:  []string{"id", "slug", "state"},
		},
		{
			name:      "delete",
			data:      `{"verb":"DELETE","import_job":{"id":42}}`,
			wantVerb:  VerbDelete,
			wantJobID: 42,
			wantKeys:  []string{"id"},
		},
		{name: "connection established", data: `{"type":"connection_established"}`, wantErr: ErrControlMessage},
		{name: "heartbeat payload", data: `{"type":"heartbeat","timestamp":"now"}`, wantErr: ErrControlMessage},
		{name: "not json", data: `{not json`, wantErr: ErrMalformedEvent},
		{name: "json array", data: `[1,2]`, wantErr: ErrMalformedEvent},
		{name: "missing verb", data: `{"import_job":{"id":1}}`, wantErr: ErrMalformedEvent},
		{name: "missing import_job", data: `{"verb":"UPDATE"}`, wantErr: ErrMalformedEvent},
		{name: "null import_job", data: `{"verb":"UPDATE","import_job":null}`, wantErr: ErrMalformedEvent},
		{name: "unknown verb", data: `{"verb":"TRUNCATE","import_job":{"id":1}}`, wantErr: ErrMalformedEvent},
		{name: "import_job not object", data: `{"verb":"UPDATE","import_job":[1]}`, wantErr: ErrMalformedEvent},
		{name: "import_job without id", data: `{"verb":"UPDATE","import_job":{"slug":"x"}}`, wantErr: ErrMalformedEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := ParseJobEvent(tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantVerb, evt.Verb)
			assert.Equal(t, tt.wantJobID, evt.JobID)
			assert.ElementsMatch(t, tt.wantKeys, evt.Patch.Keys())
		})
	}
}

func TestEncodeJobEvent_RoundTrips(t *testing.T) {
	data, err := EncodeJobEvent(VerbUpdate, json.RawMessage(`{"id":8,"state":"finished"}`))
	require.NoError(t, err)

	evt, err := ParseJobEvent(data)
	require.NoError(t, err)
	assert.Equal(t, VerbUpdate, evt.Verb)
	assert.Equal(t, int64(8), evt.JobID)
}

func TestStreamEvent(t *testing.T) {
	assert.True(t, StreamEvent{Data: "   \n\t"}.IsEmpty())
	assert.False(t, StreamEvent{Data: "{}"}.IsEmpty())
	assert.True(t, StreamEvent{Name: "heartbeat"}.IsHeartbeat())
	assert.False(t, StreamEvent{Name: ""}.IsHeartbeat())
}
