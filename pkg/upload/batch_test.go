package upload

import (
	"context"
	"testing"

	"github.com/dyluth/drey/pkg/eventstore"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func TestBatchBodyGolden(t *testing.T) {
	store := eventstore.NewMemoryStore()
	r := NewReconciler(store)

	queueEvents(t, store, "signups", eventstore.Event{"plan": "pro"})
	queueEvents(t, store, "purchases",
		eventstore.Event{"paid": true, "item": "hat"},
		eventstore.Event{"item": "scarf", "paid": false},
	)

	batch := r.BuildBatch(context.Background(), remaining(t, store))
	body, err := batch.Body()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "batch_body", body)
}
