package cohort

import "errors"

var (
	ErrUnknownSequenceType    = errors.New("unknown sequence type")
	ErrUnknownPanelType       = errors.New("unknown panel type")
	ErrUnknownDateIncrement   = errors.New("unknown date increment type")
	ErrMissingJoinSequence    = errors.New("sequence subpanel has no join sequence")
	ErrInvalidNumericFilter   = errors.New("invalid numeric filter")
	ErrMissingConceptField    = errors.New("concept is missing a required field")
	ErrEventFieldRequired     = errors.New("event sequencing requires an event-based concept")
	ErrSequenceNeedsEncounter = errors.New("sequence subpanels require encounter-based concepts")
	ErrCountFilterNeedsDate   = errors.New("count filter requires an encounter-based concept")
	ErrExcludedAnchor         = errors.New("first subpanel of a sequence cannot be an exclusion")
	ErrEmptySubPanel          = errors.New("subpanel has no panel items")
	ErrEmptyPanel             = errors.New("panel has no subpanels")
	ErrEmptyQuery             = errors.New("query has no panels")
	ErrNoInclusionSubPanel    = errors.New("panel has no inclusion subpanel")
	ErrNoInclusionPanel       = errors.New("query has no inclusion panel")
	ErrForbiddenKeyword       = errors.New("concept sql contains a forbidden keyword")
	ErrInvalidOptions         = errors.New("invalid compiler options")
	ErrInvalidIncrement       = errors.New("sequence increment must be positive")
	ErrNegativeIndex          = errors.New("index must not be negative")
)

var (
	ErrInvalidQuery      = errors.New("invalid query")
	ErrQueryNotFound     = errors.New("query not found")
	ErrExecutionDisabled = errors.New("query execution is not configured for this dialect")
)
