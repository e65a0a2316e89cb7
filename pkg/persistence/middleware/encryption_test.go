package middleware_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"testing"

	"github.com/aretw0/turnpike/pkg/adapters/memory"
	"github.com/aretw0/turnpike/pkg/domain"
	"github.com/aretw0/turnpike/pkg/persistence/middleware"
	"github.com/aretw0/turnpike/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := io.ReadFull(rand.Reader, k)
	require.NoError(t, err)
	return k
}

func encrypted(t *testing.T, next ports.ConversationStore, cfg middleware.EncryptionConfig) ports.ConversationStore {
	t.Helper()
	mw, err := middleware.NewEncryptionMiddleware(cfg)
	require.NoError(t, err)
	return mw(next)
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	ports.RunConversationStoreContract(t, encrypted(t, memory.NewStore(), middleware.EncryptionConfig{ActiveKey: generateKey(t)}))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlying := memory.NewStore()
	store := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ctx := context.Background()

	conv := domain.NewConversation("c1")
	conv.Intent = "loan"
	conv.Context["secret"] = "my-secret-sauce"
	require.NoError(t, store.Save(ctx, conv))

	raw, err := underlying.Load(ctx, "c1")
	require.NoError(t, err)
	assert.NotContains(t, raw.Context, "secret")
	assert.Contains(t, raw.Context, middleware.EnvelopeKey)
	assert.Empty(t, raw.Intent, "intent is hidden at rest")

	loaded, err := store.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "loan", loaded.Intent)
	assert.Equal(t, "my-secret-sauce", loaded.Context["secret"])
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlying := memory.NewStore()
	oldKey, newKey := generateKey(t), generateKey(t)
	ctx := context.Background()

	conv := domain.NewConversation("c1")
	conv.Context["slot"] = "value"
	require.NoError(t, encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: oldKey}).Save(ctx, conv))

	_, err := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: newKey}).Load(ctx, "c1")
	assert.ErrorContains(t, err, "decrypt")

	rotated := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: newKey, FallbackKeys: [][]byte{oldKey}})
	loaded, err := rotated.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "value", loaded.Context["slot"])
}

func TestEncryptionMiddleware_FailsClosedOnPlainData(t *testing.T) {
	underlying := memory.NewStore()
	require.NoError(t, underlying.Save(context.Background(), domain.NewConversation("plain")))

	store := encrypted(t, underlying, middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	_, err := store.Load(context.Background(), "plain")
	assert.ErrorIs(t, err, middleware.ErrMissingEnvelope)
}

func TestEncryptionMiddleware_RejectsBadKeys(t *testing.T) {
	_, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short")})
	assert.Error(t, err)

	_, err = middleware.DecodeKey("not base64!")
	assert.Error(t, err)
	key, err := middleware.DecodeKey(base64.StdEncoding.EncodeToString(generateKey(t)))
	require.NoError(t, err)
	assert.Len(t, key, 32)
}
