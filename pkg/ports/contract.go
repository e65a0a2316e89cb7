package ports

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunConversationStoreContract runs a suite of tests to verify that a ConversationStore
// implementation adheres to the defined interface contract.
func RunConversationStoreContract(t *testing.T, store ConversationStore) {
	ctx := context.Background()
	convID := "contract-conv-" + time.Now().Format("20060102150405.000000000")

	t.Run("Save and Load", func(t *testing.T) {
		conv := domain.NewConversation(convID)
		conv.Intent = "loan"
		conv.State = "collecting"
		conv.Context["amount"] = "5000"
		conv.Context["count"] = 42

		require.NoError(t, store.Save(ctx, conv), "Save should not return error")

		loaded, err := store.Load(ctx, convID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, convID, loaded.ID)
		assert.Equal(t, "loan", loaded.Intent)
		assert.Equal(t, "collecting", loaded.State)
		assert.Equal(t, "5000", loaded.Context["amount"])
		// JSON backed stores turn ints into float64.
		assert.NotNil(t, loaded.Context["count"])
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		conv := domain.NewConversation(convID)
		conv.Intent = "greeting"
		require.NoError(t, store.Save(ctx, conv))

		loaded, err := store.Load(ctx, convID)
		require.NoError(t, err)
		assert.Equal(t, "greeting", loaded.Intent)
		assert.Empty(t, loaded.State)
	})

	t.Run("Load Returns Copy", func(t *testing.T) {
		loaded, err := store.Load(ctx, convID)
		require.NoError(t, err)
		loaded.Context["mutated"] = true

		again, err := store.Load(ctx, convID)
		require.NoError(t, err)
		assert.NotContains(t, again.Context, "mutated")
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+convID)
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	})
}

// RunAuditStoreContract verifies that an AuditStore is append-only, assigns
// increasing IDs and returns records in creation order.
func RunAuditStoreContract(t *testing.T, store AuditStore) {
	ctx := context.Background()
	convID := "contract-audit-" + time.Now().Format("20060102150405.000000000")

	t.Run("Append Assigns ID and Timestamp", func(t *testing.T) {
		rec, err := store.Append(ctx, convID, domain.StageStepEnter, json.RawMessage(`{"step":"a"}`))
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.NotZero(t, rec.ID)
		assert.False(t, rec.CreatedAt.IsZero())
		assert.Equal(t, convID, rec.ConversationID)
		assert.Equal(t, domain.StageStepEnter, rec.Stage)
		assert.JSONEq(t, `{"step":"a"}`, string(rec.Payload))
	})

	t.Run("Query Preserves Order", func(t *testing.T) {
		other := convID + "-order"
		stages := []string{domain.StageStepEnter, domain.StageIntentSet, domain.StageStepExit}
		var lastID int64
		for _, s := range stages {
			rec, err := store.Append(ctx, other, s, json.RawMessage(`{}`))
			require.NoError(t, err)
			assert.Greater(t, rec.ID, lastID)
			lastID = rec.ID
		}

		records, err := store.Query(ctx, other)
		require.NoError(t, err)
		require.Len(t, records, len(stages))
		for i, s := range stages {
			assert.Equal(t, s, records[i].Stage)
			assert.Equal(t, other, records[i].ConversationID)
		}
	})

	t.Run("Query Unknown Conversation", func(t *testing.T) {
		records, err := store.Query(ctx, "unknown-"+convID)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("Concurrent Appenders", func(t *testing.T) {
		const writers, perWriter = 4, 10
		var wg sync.WaitGroup
		for w := range writers {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				id := fmt.Sprintf("%s-concurrent-%d", convID, w)
				for range perWriter {
					_, err := store.Append(ctx, id, domain.StageRuleApplied, json.RawMessage(`{}`))
					assert.NoError(t, err)
				}
			}(w)
		}
		wg.Wait()

		for w := range writers {
			records, err := store.Query(ctx, fmt.Sprintf("%s-concurrent-%d", convID, w))
			require.NoError(t, err)
			assert.Len(t, records, perWriter)
		}
	})
}
