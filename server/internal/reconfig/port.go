package reconfig

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/spf13/cast"

	"github.com/sofadb/sofa/server/internal/config"
)

// PortTypeError reports a configured port that is not a usable number.
type PortTypeError struct {
	Value any
}

func (e *PortTypeError) Error() string {
	return fmt.Sprintf("reconfig: port %v is not a number between 0 and 65535", e.Value)
}

// ParsePort converts a configured port value. Unset, nil and empty values
// yield the default port. Anything else that is not a port number yields
// the default port and a *PortTypeError.
func ParsePort(v any) (int, error) {
	if v == nil || config.IsUnset(v) {
		return config.DefaultPort, nil
	}

	var (
		n   int
		err error
	)
	switch x := v.(type) {
	case bool:
		return config.DefaultPort, &PortTypeError{Value: v}
	case float64:
		if !wholePort(x) {
			return config.DefaultPort, &PortTypeError{Value: v}
		}
		n = int(x)
	case float32:
		if !wholePort(float64(x)) {
			return config.DefaultPort, &PortTypeError{Value: v}
		}
		n = int(x)
	default:
		n, err = cast.ToIntE(v)
	}
	if err != nil || n < 0 || n > 65535 {
		return config.DefaultPort, &PortTypeError{Value: v}
	}
	return n, nil
}

// wholePort reports whether f is an integral value in port range. JSON
// numbers arrive as float64 and must not be truncated.
func wholePort(f float64) bool {
	return f == math.Trunc(f) && f >= 0 && f <= 65535
}

// DrainTimeout returns a func reading httpd.drain_timeout from st each time
// it is called. Values that do not parse as a positive duration yield the
// default.
func DrainTimeout(st *config.Store) func() time.Duration {
	return func() time.Duration {
		v := st.Get(config.PathDrainTimeout)
		if v == nil || config.IsUnset(v) {
			return config.DefaultDrainTimeout
		}
		d, err := cast.ToDurationE(v)
		if err != nil || d <= 0 {
			slog.Warn("reconfig: invalid drain timeout, using default",
				"value", v, "default", config.DefaultDrainTimeout)
			return config.DefaultDrainTimeout
		}
		return d
	}
}
