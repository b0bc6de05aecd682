package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// codec sorts map keys so encoded events are byte-for-byte reproducible.
var codec = sonic.ConfigStd

// decoder matches codec but keeps numbers as literals until normalize
// picks a Go type for them.
var decoder = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
	UseNumber:        true,
}.Froze()

// maxExactInt is the largest magnitude a float64 holds without rounding.
const maxExactInt = 1 << 53

// EncodeEvent serializes an event to JSON.
func EncodeEvent(e Event) ([]byte, error) {
	if e == nil {
		return nil, ErrNilEvent
	}
	data, err := codec.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}

// DecodeEvent parses JSON produced by EncodeEvent. Each call returns a new map.
//
// Numbers decode as float64 when that is exact. Other integers that fit
// decode as int64 and the rest stay a json.Number, so a stored event
// re-encodes to the same digits it was queued with.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := decoder.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if e == nil {
		return nil, errors.New("failed to decode event: body is null")
	}
	for k, v := range e {
		e[k] = normalize(v)
	}
	return e, nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case json.Number:
		return number(val)
	case map[string]any:
		for k, elem := range val {
			val[k] = normalize(elem)
		}
		return val
	case []any:
		for i, elem := range val {
			val[i] = normalize(elem)
		}
		return val
	default:
		return v
	}
}

func number(n json.Number) any {
	s := string(n)
	if strings.ContainsAny(s, ".eE") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return n
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// wider than int64: a float64 keeps it only if every digit survives
		if f, err := strconv.ParseFloat(s, 64); err == nil && strconv.FormatFloat(f, 'f', -1, 64) == s {
			return f
		}
		return n
	}
	if i >= -maxExactInt && i <= maxExactInt {
		return float64(i)
	}
	return i
}
