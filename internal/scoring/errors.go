package scoring

import "errors"

// Fatal scoring errors. Any of these aborts the whole run; no partial ledger
// is handed to the caller.
var (
	// ErrRelevanceMismatch means the scoring service returned a different
	// number of relevance entries than the batch requested.
	ErrRelevanceMismatch = errors.New("relevance / comment count mismatch")
	// ErrMalformedResponse means the scoring service response did not decode
	// to the expected id-to-relevance mapping.
	ErrMalformedResponse = errors.New("malformed scoring service response")
	// ErrRenderFailure means a comment body could not be rendered into a
	// structural tree.
	ErrRenderFailure = errors.New("comment render failure")
)
