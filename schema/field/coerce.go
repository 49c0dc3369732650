package field

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Coerce converts an application-level value to its storage-native form
// for the declared column type. Every write path routes values through
// here before they reach a statement parameter.
//
// Conversions:
//
//   - integer: bool becomes 0/1, time.Time becomes unix epoch seconds,
//     integral kinds widen to int64
//   - real / numeric: integral and floating kinds widen to float64
//   - text: strings pass through, structured values serialize to JSON
//   - blob: byte slices pass through, structured values serialize with
//     msgpack
//
// nil passes through unchanged for every type; nullability is enforced
// by the operation builders, not here.
func Coerce(v any, t Type) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeInteger:
		return coerceInteger(v)
	case TypeReal, TypeNumeric:
		return coerceFloat(v)
	case TypeText:
		return coerceText(v)
	case TypeBlob:
		return coerceBlob(v)
	default:
		return nil, fmt.Errorf("field: cannot coerce %T to invalid storage type", v)
	}
}

func coerceInteger(v any) (any, error) {
	switch v := v.(type) {
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case time.Time:
		return v.Unix(), nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return nil, fmt.Errorf("field: cannot coerce %T to integer", v)
	}
}

func coerceFloat(v any) (any, error) {
	switch v := v.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	default:
		return nil, fmt.Errorf("field: cannot coerce %T to real", v)
	}
}

func coerceText(v any) (any, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprintf("%v", v), nil
	default:
		// Structured values serialize to JSON text.
		buf, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("field: cannot coerce %T to text: %w", v, err)
		}
		return string(buf), nil
	}
}

func coerceBlob(v any) (any, error) {
	switch v := v.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		// Structured values serialize with msgpack.
		buf, err := msgpack.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("field: cannot coerce %T to blob: %w", v, err)
		}
		return buf, nil
	}
}

// IsNumeric reports whether the storage value is an arithmetic value.
// Used by the increment builders and the numeric merge strategy.
func IsNumeric(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// AsFloat converts a numeric storage value to float64.
// The second return value is false for non-numeric input.
func AsFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
