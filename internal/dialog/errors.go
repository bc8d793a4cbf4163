package dialog

import "errors"

var (
	ErrNotWaiting    = errors.New("dialog: session is not waiting for a response")
	ErrUnauthorized  = errors.New("dialog: user lacks the required permission for this session")
	ErrUnknownChoice = errors.New("dialog: choice does not match any plan offered")
)
