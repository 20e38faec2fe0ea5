package pipeline

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-campus-client/transport"
)

// ErrEmptyRefresh is returned when the refresh endpoint answers 2xx without
// an access token.
var ErrEmptyRefresh = errors.New("refresh response carried no access token")

// AuthExpiredError is returned when a 401 could not be recovered because the
// refresh call failed. It unwraps to the original 401, so
// transport.IsStatus(err, 401) holds; the refresh failure is kept aside.
type AuthExpiredError struct {
	Cause      *transport.HTTPError
	RefreshErr error
}

func (e *AuthExpiredError) Error() string {
	return fmt.Sprintf("auth expired: %v (refresh: %v)", e.Cause, e.RefreshErr)
}

func (e *AuthExpiredError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// IsAuthExpired reports whether err (or any wrapped error) is an AuthExpiredError.
func IsAuthExpired(err error) bool {
	var authErr *AuthExpiredError
	return errors.As(err, &authErr)
}
