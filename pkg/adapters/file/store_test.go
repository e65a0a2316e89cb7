package file_test

import (
	"context"
	"testing"

	"github.com/aretw0/turnpike/pkg/adapters/file"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Contract(t *testing.T) {
	ports.RunConversationStoreContract(t, file.NewStore(t.TempDir()))
}

func TestStore_ListAndDelete(t *testing.T) {
	store := file.NewStore(t.TempDir())
	ctx := context.Background()

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, store.Save(ctx, domain.NewConversation("a")))
	require.NoError(t, store.Save(ctx, domain.NewConversation("b")))
	ids, err = store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Delete(ctx, "a"), "deleting twice is fine")
	_, err = store.Load(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestStore_RejectsPathTraversal(t *testing.T) {
	store := file.NewStore(t.TempDir())
	err := store.Save(context.Background(), domain.NewConversation("../escape"))
	assert.Error(t, err)
}
