package importing

import "errors"

var (
	// ErrClientUnavailable is returned when no data-access client could be obtained.
	ErrClientUnavailable = errors.New("data client not initialized")

	// ErrNoCurrentJob is returned by operations that need a tracked job.
	ErrNoCurrentJob = errors.New("no current import job")

	// ErrNoTimeContext is returned when a job is created with neither a selected
	// time context nor explicit-dates mode.
	ErrNoTimeContext = errors.New("a time context must be selected or explicit dates enabled")

	// ErrExplicitDatesMissing is returned in explicit-dates mode when either date is unset.
	ErrExplicitDatesMissing = errors.New("explicit start and end dates must be provided")

	// ErrDefinitionNotFound is returned when an import definition does not exist.
	ErrDefinitionNotFound = errors.New("import definition not found")

	// ErrJobNotFound is returned when an import job does not exist.
	ErrJobNotFound = errors.New("import job not found")

	// ErrUnknownUnitKind is returned for a count kind outside AllUnitKinds.
	ErrUnknownUnitKind = errors.New("unknown unit kind")

	// ErrMalformedEvent marks a stream payload that could not be interpreted.
	ErrMalformedEvent = errors.New("malformed job event")

	// ErrControlMessage marks a stream payload that only carries connection
	// bookkeeping.
	ErrControlMessage = errors.New("control message")
)
