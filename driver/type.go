package driver

import (
	"fmt"
	"strconv"
	"time"
)

// Type is the logical type of a result column. Conversion exists because
// database clients disagree about the Go representation of the same SQL
// value: pgx decodes an int4 as int32, go-sql-driver returns numerics and
// text as []byte in the text protocol, and sqlite reports timestamps as
// strings unless the column is declared. Convert normalizes all of those to
// one canonical Go type per logical type, so records never expose
// client-native forms.
type Type int

const (
	// Any performs no conversion.
	Any Type = iota

	// String converts to string.
	String

	// Int64 converts to int64.
	Int64

	// Float64 converts to float64.
	Float64

	// Bool converts to bool.
	Bool

	// Time converts to time.Time.
	Time

	// Bytes converts to []byte.
	Bytes
)

func (t Type) String() string {
	switch t {
	case Any:
		return "any"
	case String:
		return "string"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case Bool:
		return "bool"
	case Time:
		return "time"
	case Bytes:
		return "bytes"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// timeLayouts are tried in order when a temporal value arrives as text.
// RFC 3339 first (sqlite's storage format for time.Time writes), then the
// space-separated forms MySQL and sqlite report for DATETIME/TIMESTAMP, then
// bare dates.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Convert normalizes a client-native value to the canonical Go type. A nil
// input (SQL NULL) converts to nil for every Type.
func (t Type) Convert(raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}

	switch t {
	case Any:
		return raw, nil

	case String:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}

	case Int64:
		switch v := raw.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int16:
			return int64(v), nil
		case int8:
			return int64(v), nil
		case uint64:
			if v > 1<<63-1 {
				return nil, fmt.Errorf("dbsession/driver: uint64 %d overflows int64", v)
			}
			return int64(v), nil
		case uint32:
			return int64(v), nil
		case uint16:
			return int64(v), nil
		case uint8:
			return int64(v), nil
		case uint:
			return int64(v), nil
		case string:
			return parseInt(v)
		case []byte:
			return parseInt(string(v))
		}

	case Float64:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int32:
			return float64(v), nil
		case string:
			return parseFloat(v)
		case []byte:
			return parseFloat(string(v))
		}

	case Bool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case int64:
			return intToBool(v)
		case int:
			return intToBool(int64(v))
		case int32:
			return intToBool(int64(v))
		case int16:
			return intToBool(int64(v))
		case int8:
			return intToBool(int64(v))
		case string:
			return parseBool(v)
		case []byte:
			return parseBool(string(v))
		}

	case Time:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			return parseTime(v)
		case []byte:
			return parseTime(string(v))
		}

	case Bytes:
		switch v := raw.(type) {
		case []byte:
			return v, nil
		case string:
			return []byte(v), nil
		}
	}

	return nil, fmt.Errorf("dbsession/driver: cannot convert %T to %s", raw, t)
}

func parseInt(s string) (any, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("dbsession/driver: cannot convert %q to int64", s)
	}
	return n, nil
}

func parseFloat(s string) (any, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("dbsession/driver: cannot convert %q to float64", s)
	}
	return f, nil
}

func parseBool(s string) (any, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("dbsession/driver: cannot convert %q to bool", s)
	}
	return b, nil
}

func intToBool(n int64) (any, error) {
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return nil, fmt.Errorf("dbsession/driver: cannot convert %d to bool", n)
	}
}

func parseTime(s string) (any, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return nil, fmt.Errorf("dbsession/driver: cannot convert %q to time", s)
}
