package eventstore_test

import (
	"encoding/json"
	"testing"

	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEventNumbers(t *testing.T) {
	tests := []struct {
		name string
		body string
		want any
	}{
		{"small integer", `{"n":42}`, float64(42)},
		{"fraction", `{"n":0.25}`, 0.25},
		{"largest exact integer", `{"n":9007199254740992}`, float64(9007199254740992)},
		{"past float precision", `{"n":9007199254740993}`, int64(9007199254740993)},
		{"negative past float precision", `{"n":-9007199254740993}`, int64(-9007199254740993)},
		{"wider than int64", `{"n":18446744073709551615}`, json.Number("18446744073709551615")},
		{"nested", `{"n":{"ids":[9007199254740993]}}`, map[string]any{"ids": []any{int64(9007199254740993)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eventstore.DecodeEvent([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got["n"])

			again, err := eventstore.EncodeEvent(got)
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(again))
		})
	}
}

func TestDecodeEventRejectsNull(t *testing.T) {
	_, err := eventstore.DecodeEvent([]byte("null"))
	assert.EqualError(t, err, "failed to decode event: body is null")
}
