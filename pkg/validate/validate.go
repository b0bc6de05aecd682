// Package validate checks collection names and event bodies before they enter
// the queue. A rejected event is never stored, so it is never retried.
package validate

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxNameLength bounds collection names and property names.
	MaxNameLength = 256
	// MaxStringLength bounds string property values.
	MaxStringLength = 10000
	// ReservedKey is the root property the client fills in itself.
	ReservedKey = "keen"
)

// InputError describes why a collection or event was refused.
type InputError struct {
	Field  string // collection name or dotted property path
	Reason string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid input %q: %s", e.Field, e.Reason)
}

// Collection checks a collection name.
func Collection(name string) error {
	if name == "" {
		return &InputError{Reason: "collection name cannot be empty"}
	}
	return checkName(name, "collection name")
}

// Event checks an event body. The root may not use the reserved "keen" key;
// every nested key and value is checked as well.
func Event(event map[string]any) error {
	if event == nil {
		return &InputError{Reason: "event cannot be nil"}
	}
	if _, ok := event[ReservedKey]; ok {
		return &InputError{Field: ReservedKey, Reason: "property is reserved"}
	}
	return checkObject("", event)
}

func checkName(name, what string) error {
	switch {
	case strings.HasPrefix(name, "$"):
		return &InputError{Field: name, Reason: what + " cannot start with '$'"}
	case strings.Contains(name, "."):
		return &InputError{Field: name, Reason: what + " cannot contain '.'"}
	case utf8.RuneCountInString(name) > MaxNameLength:
		return &InputError{Field: name, Reason: fmt.Sprintf("%s longer than %d characters", what, MaxNameLength)}
	}
	return nil
}

func checkObject(path string, obj map[string]any) error {
	for key, value := range obj {
		field := join(path, key)
		if key == "" {
			return &InputError{Field: field, Reason: "property name cannot be empty"}
		}
		if err := checkName(key, "property name"); err != nil {
			return &InputError{Field: field, Reason: err.(*InputError).Reason}
		}
		if err := checkValue(field, value); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(field string, value any) error {
	switch v := value.(type) {
	case nil, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		time.Time:
		return nil
	case float32:
		return checkFloat(field, float64(v))
	case float64:
		return checkFloat(field, v)
	case string:
		if utf8.RuneCountInString(v) > MaxStringLength {
			return &InputError{Field: field, Reason: fmt.Sprintf("string value longer than %d characters", MaxStringLength)}
		}
		return nil
	case map[string]any:
		return checkObject(field, v)
	case []any:
		for i, item := range v {
			if err := checkValue(fmt.Sprintf("%s[%d]", field, i), item); err != nil {
				return err
			}
		}
		return nil
	}

	// typed slices and string-keyed maps, e.g. []string or map[string]int
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := checkValue(fmt.Sprintf("%s[%d]", field, i), rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return &InputError{Field: field, Reason: "map keys must be strings"}
		}
		obj := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			obj[iter.Key().String()] = iter.Value().Interface()
		}
		return checkObject(field, obj)
	case reflect.String:
		return checkValue(field, rv.String())
	}

	return &InputError{Field: field, Reason: fmt.Sprintf("unsupported value type %T", value)}
}

func checkFloat(field string, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &InputError{Field: field, Reason: "number is not representable in JSON"}
	}
	return nil
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
