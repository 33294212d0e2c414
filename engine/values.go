package engine

import (
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"
)

// encodeValue converts a Go value into a wasm stack value of the
// given type. Integers accept any Go integer width plus float64
// (decoded JSON numbers arrive that way) when the value is integral.
func encodeValue(t api.ValueType, v any) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		n, err := toInt64(v)
		if err != nil {
			return 0, err
		}
		if n < math.MinInt32 || n > math.MaxUint32 {
			return 0, fmt.Errorf("value %d out of i32 range", n)
		}
		return api.EncodeI32(int32(n)), nil
	case api.ValueTypeI64:
		n, err := toInt64(v)
		if err != nil {
			return 0, err
		}
		return api.EncodeI64(n), nil
	case api.ValueTypeF32:
		f, err := toFloat64(v)
		if err != nil {
			return 0, err
		}
		return api.EncodeF32(float32(f)), nil
	case api.ValueTypeF64:
		f, err := toFloat64(v)
		if err != nil {
			return 0, err
		}
		return api.EncodeF64(f), nil
	default:
		return 0, fmt.Errorf("unsupported parameter type %s", api.ValueTypeName(t))
	}
}

// decodeValue converts a wasm stack value back into a Go value
func decodeValue(t api.ValueType, raw uint64) any {
	switch t {
	case api.ValueTypeI32:
		return api.DecodeI32(raw)
	case api.ValueTypeI64:
		return int64(raw)
	case api.ValueTypeF32:
		return api.DecodeF32(raw)
	case api.ValueTypeF64:
		return api.DecodeF64(raw)
	default:
		return raw
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case float32:
		if float32(int64(n)) != n {
			return 0, fmt.Errorf("non-integral value %v for integer parameter", n)
		}
		return int64(n), nil
	case float64:
		if float64(int64(n)) != n {
			return 0, fmt.Errorf("non-integral value %v for integer parameter", n)
		}
		return int64(n), nil
	default:
		return 0, fmt.Errorf("cannot use %T as integer parameter", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("cannot use %T as float parameter", v)
	}
}
