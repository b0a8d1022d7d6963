package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Invalid is returned by a Validator that rejects a value. Msg is the
// client-facing message.
type Invalid struct {
	Msg string
}

func (e *Invalid) Error() string { return e.Msg }

// Validator converts a decoded JSON value into the native value stored in the
// database, or rejects it with *Invalid.
type Validator interface {
	ToNative(value any) (any, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(value any) (any, error)

func (f ValidatorFunc) ToNative(value any) (any, error) { return f(value) }

// Date and datetime layouts accepted on input.
const (
	DateLayout = "2006-01-02"
)

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	DateLayout,
}

var (
	String   Validator = ValidatorFunc(toString)
	Integer  Validator = ValidatorFunc(toInteger)
	Float    Validator = ValidatorFunc(toFloat)
	Boolean  Validator = ValidatorFunc(toBoolean)
	Date     Validator = ValidatorFunc(toDate)
	DateTime Validator = ValidatorFunc(toDateTime)
	JSON     Validator = ValidatorFunc(func(v any) (any, error) { return v, nil })
)

// ForKind returns the default validator for a field kind.
func ForKind(k Kind) Validator {
	switch k {
	case KindInteger:
		return Integer
	case KindFloat:
		return Float
	case KindBoolean:
		return Boolean
	case KindDate:
		return Date
	case KindDateTime:
		return DateTime
	case KindJSON:
		return JSON
	default:
		return String
	}
}

// NotEmpty wraps a validator and rejects nil and empty strings.
func NotEmpty(v Validator) Validator {
	return ValidatorFunc(func(value any) (any, error) {
		if value == nil {
			return nil, &Invalid{Msg: "Please enter a value"}
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return nil, &Invalid{Msg: "Please enter a value"}
		}
		return v.ToNative(value)
	})
}

func toString(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int, int32, int64:
		return fmt.Sprint(t), nil
	}
	return nil, &Invalid{Msg: "Please enter a string"}
}

func toInteger(v any) (any, error) {
	invalid := &Invalid{Msg: "Please enter an integer value"}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil || !wholeInt64(f) {
			return nil, invalid
		}
		return int64(f), nil
	case float64:
		if !wholeInt64(t) {
			return nil, invalid
		}
		return int64(t), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return nil, invalid
		}
		return i, nil
	}
	return nil, invalid
}

// wholeInt64 reports whether f is a whole number that fits in an int64.
func wholeInt64(f float64) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return false
	}
	return f >= -0x1p63 && f < 0x1p63
}

func toFloat(v any) (any, error) {
	invalid := &Invalid{Msg: "Please enter a number"}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, invalid
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil, invalid
		}
		return f, nil
	}
	return nil, invalid
}

func toBoolean(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			break
		}
		return f != 0, nil
	case float64:
		return t != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			break
		}
		return b, nil
	}
	return nil, &Invalid{Msg: "Please enter a boolean value"}
}

func toDate(v any) (any, error) {
	invalid := &Invalid{Msg: "Please enter the date in the form YYYY-MM-DD"}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case string:
		s := strings.TrimSpace(t)
		if d, err := time.Parse(DateLayout, s); err == nil {
			return d, nil
		}
		// A full timestamp is accepted and its time part dropped.
		for _, layout := range dateTimeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				y, m, d := ts.Date()
				return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
			}
		}
	}
	return nil, invalid
}

func toDateTime(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range dateTimeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
	}
	return nil, &Invalid{Msg: "Please enter a date and time in ISO 8601 format"}
}
