package querysql

import (
	"errors"
	"fmt"
)

// UnsupportedConstructError reports a bound construct the active dialect
// cannot express.
type UnsupportedConstructError struct {
	Construct string
	Dialect   string
}

func (e *UnsupportedConstructError) Error() string {
	return fmt.Sprintf("%s is not supported by dialect %s", e.Construct, e.Dialect)
}

// IsUnsupportedConstructError reports whether err is or wraps an
// *UnsupportedConstructError.
func IsUnsupportedConstructError(err error) bool {
	var e *UnsupportedConstructError
	return errors.As(err, &e)
}
