// Package validation collects per-field validation failures so that every
// problem in a request is reported at once.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/edgeflare/restless/pkg/model"
)

// MsgNoSuchKey is reported for a field the model does not have.
const MsgNoSuchKey = "No such key exists"

// AggregateError is an ordered list of single-entry {field: message} maps.
// Entries keep detection order and duplicates are allowed.
type AggregateError struct {
	messages []map[string]string
}

// Append records a failure for field.
func (e *AggregateError) Append(field, message string) {
	e.messages = append(e.messages, map[string]string{field: message})
}

// Extend appends every entry of other.
func (e *AggregateError) Extend(other *AggregateError) {
	if other == nil {
		return
	}
	e.messages = append(e.messages, other.messages...)
}

func (e *AggregateError) Len() int { return len(e.messages) }

// Messages returns the entries in detection order.
func (e *AggregateError) Messages() []map[string]string {
	out := make([]map[string]string, len(e.messages))
	copy(out, e.messages)
	return out
}

// Err returns e, or nil when nothing was recorded.
func (e *AggregateError) Err() error {
	if e == nil || len(e.messages) == 0 {
		return nil
	}
	return e
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.messages))
	for _, m := range e.messages {
		for field, msg := range m {
			parts = append(parts, field+": "+msg)
		}
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e.messages), strings.Join(parts, "; "))
}

func (e *AggregateError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Messages())
}

// AsAggregate unwraps err into an *AggregateError.
func AsAggregate(err error) (*AggregateError, bool) {
	var agg *AggregateError
	ok := errors.As(err, &agg)
	return agg, ok
}

// ValidateFieldList converts data[field] for every named field through the
// model's validators. Unknown fields and rejected values are all collected
// before an *AggregateError is returned; on success the result holds the
// native values of the named fields.
func ValidateFieldList(m *model.Model, data map[string]any, fields []string) (map[string]any, error) {
	params := make(map[string]any, len(fields))
	errs := &AggregateError{}
	for _, field := range fields {
		validator, ok := m.Validator(field)
		if !ok {
			errs.Append(field, MsgNoSuchKey)
			continue
		}
		v, err := validator.ToNative(data[field])
		if err != nil {
			errs.Append(field, Message(err))
			continue
		}
		params[field] = v
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return params, nil
}

// Message returns the client-facing message of a validator error.
func Message(err error) string {
	var invalid *model.Invalid
	if errors.As(err, &invalid) {
		return invalid.Msg
	}
	return err.Error()
}
