package importing

import "encoding/json"

// ImportMode identifies which kind of statistical unit a definition imports.
type ImportMode string

const (
	ImportModeLegalUnit             ImportMode = "legal_unit"
	ImportModeEstablishmentFormal   ImportMode = "establishment_formal"
	ImportModeEstablishmentInformal ImportMode = "establishment_informal"
	ImportModeGenericUnit           ImportMode = "generic_unit"
	ImportModeLegalRelationship     ImportMode = "legal_relationship"
)

// ValidTimeSource tells where an import takes the validity period of its rows
// from.
type ValidTimeSource string

const (
	// ValidTimeJobProvided means the job carries the period, either as a time
	// context or explicit dates.
	ValidTimeJobProvided ValidTimeSource = "job_provided"
	// ValidTimeSourceColumns means every uploaded row carries its own period.
	ValidTimeSourceColumns ValidTimeSource = "source_columns"
)

// ImportDefinition is the reusable template an import job instantiates. It is
// read-only from the client's point of view.
type ImportDefinition struct {
	ID            int64           `json:"id"`
	Slug          string          `json:"slug"`
	Name          string          `json:"name"`
	Note          *string         `json:"note"`
	Mode          ImportMode      `json:"mode"`
	ValidTimeFrom ValidTimeSource `json:"valid_time_from"`
	Custom        bool            `json:"custom"`
	Valid         bool            `json:"valid"`
}

// PendingJob is a job awaiting upload together with its definition, as listed
// per import mode.
type PendingJob struct {
	ImportJob
	Definition ImportDefinition `json:"import_definition"`
}

// UnmarshalJSON decodes the embedded job and the joined definition.
func (p *PendingJob) UnmarshalJSON(data []byte) error {
	if err := p.ImportJob.UnmarshalJSON(data); err != nil {
		return err
	}

	var joined struct {
		Definition ImportDefinition `json:"import_definition"`
	}
	if err := json.Unmarshal(data, &joined); err != nil {
		return err
	}
	p.Definition = joined.Definition
	return nil
}
