package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidValue is returned when a setting value cannot be converted to
// its declared type.
var ErrInvalidValue = errors.New("invalid setting value")

// Setting types
const (
	TypeInt   = "int"
	TypeStr   = "str"
	TypeFloat = "float"
	TypeBool  = "bool"
	TypeJSON  = "json"
)

// IsKnownType reports whether t is one of the setting types.
func IsKnownType(t string) bool {
	switch t {
	case TypeInt, TypeStr, TypeFloat, TypeBool, TypeJSON:
		return true
	}
	return false
}

// ConvertValue converts a decoded JSON or YAML value to the setting type.
// Strings are parsed, so "42" is a valid int.
func ConvertValue(settingType string, value interface{}) (interface{}, error) {
	switch settingType {
	case TypeInt:
		return toInt(value)
	case TypeStr:
		if value == nil {
			return nil, fmt.Errorf("%w: null is not a str", ErrInvalidValue)
		}
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	case TypeFloat:
		return toFloat(value)
	case TypeBool:
		return toBool(value)
	case TypeJSON:
		if s, ok := value.(string); ok {
			var decoded interface{}
			if err := json.Unmarshal([]byte(s), &decoded); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
			}
			return decoded, nil
		}
		return value, nil
	default:
		return value, nil
	}
}

func toInt(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %v is not an int", ErrInvalidValue, v)
		}
		return int(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an int", ErrInvalidValue, v)
		}
		return i, nil
	}
	return nil, fmt.Errorf("%w: %v is not an int", ErrInvalidValue, value)
}

func toFloat(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a float", ErrInvalidValue, v)
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %v is not a float", ErrInvalidValue, value)
}

func toBool(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "y" || s == "true", nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case nil:
		return false, nil
	}
	return nil, fmt.Errorf("%w: %v is not a bool", ErrInvalidValue, value)
}
