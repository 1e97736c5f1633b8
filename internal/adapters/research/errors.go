package research

import "errors"

// Sentinel errors for the research client.
var (
	ErrUnexpectedStatus = errors.New("unexpected search status")
)
