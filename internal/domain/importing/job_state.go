package importing

// JobState is the server-managed lifecycle state of an import job. The core
// never drives these transitions; it only mirrors what the server reports.
type JobState string

const (
	// JobStateWaitingForUpload indicates the job exists but no file was uploaded yet.
	JobStateWaitingForUpload JobState = "waiting_for_upload"
	// JobStateUploadCompleted indicates the upload finished and preparation is queued.
	JobStateUploadCompleted JobState = "upload_completed"
	// JobStatePreparingData indicates uploaded rows are being copied into the data table.
	JobStatePreparingData JobState = "preparing_data"
	// JobStateAnalysingData indicates rows are being validated.
	JobStateAnalysingData JobState = "analysing_data"
	// JobStateWaitingForReview indicates the job waits for a user decision.
	JobStateWaitingForReview JobState = "waiting_for_review"
	// JobStateApproved indicates the user approved the analysed rows.
	JobStateApproved JobState = "approved"
	// JobStateRejected indicates the user rejected the analysed rows.
	JobStateRejected JobState = "rejected"
	// JobStateProcessingData indicates approved rows are being written to the register.
	JobStateProcessingData JobState = "processing_data"
	// JobStateFinished indicates all rows were processed.
	JobStateFinished JobState = "finished"
)

func (s JobState) String() string { return string(s) }

// ParseJobState converts a string to a JobState. Unknown values yield the
// empty state.
func ParseJobState(s string) JobState {
	switch JobState(s) {
	case JobStateWaitingForUpload, JobStateUploadCompleted, JobStatePreparingData,
		JobStateAnalysingData, JobStateWaitingForReview, JobStateApproved,
		JobStateRejected, JobStateProcessingData, JobStateFinished:
		return JobState(s)
	default:
		return ""
	}
}

// IsTerminal reports whether the server will not move the job any further.
func (s JobState) IsTerminal() bool {
	return s == JobStateFinished || s == JobStateRejected
}

// IsProcessing reports whether the server is actively working on the job's rows.
func (s JobState) IsProcessing() bool {
	switch s {
	case JobStatePreparingData, JobStateAnalysingData, JobStateProcessingData:
		return true
	default:
		return false
	}
}
