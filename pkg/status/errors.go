package status

import (
	"fmt"
	"time"
)

// Reporter is implemented by errors that carry their own multi-line report,
// such as dry-run fault reports and item-scoped import failures.
type Reporter interface {
	Report() string
}

// ErrorInfo is one recorded failure
type ErrorInfo struct {
	Time time.Time
	Item string
	Err  error
}

// Message renders the error for humans. Errors with their own report are
// rendered verbatim; everything else is prefixed with the item path.
func (e ErrorInfo) Message() string {
	if r, ok := e.Err.(Reporter); ok {
		return r.Report()
	}
	return fmt.Sprintf("%s: %v", e.Item, e.Err)
}
