package authclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockStorage) SetItem(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockStorage) RemoveItem(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Debug(string, ...any)      {}
func (l *recordingLogger) Info(string, ...any)       {}
func (l *recordingLogger) Warn(msg string, _ ...any) { l.warnings = append(l.warnings, msg) }
func (l *recordingLogger) Error(string, ...any)      {}

func TestTokenStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewTokenStore(NewMemoryStorage())

	store.Save(ctx, "access", "refresh")
	assert.Equal(t, StoredTokens{Access: "access", Refresh: "refresh"}, store.Load(ctx))
	assert.True(t, store.Load(ctx).Complete())

	store.Clear(ctx)
	assert.Equal(t, StoredTokens{}, store.Load(ctx))
}

func TestTokenStoreUsesFixedKeys(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewTokenStore(storage)

	store.Save(ctx, "a", "r")
	store.SaveOAuthState(ctx, "s")

	v, ok, err := storage.GetItem(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	v, _, _ = storage.GetItem(ctx, KeyRefreshToken)
	assert.Equal(t, "r", v)
	v, _, _ = storage.GetItem(ctx, KeyOAuthState)
	assert.Equal(t, "s", v)
}

func TestTokenStoreNamespaceIsSanitized(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := NewTokenStore(storage, WithStoreNamespace("widget<script>#1"))

	store.Save(ctx, "a", "r")

	v, ok, _ := storage.GetItem(ctx, "widgetscript1:"+KeyAccessToken)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok, _ = storage.GetItem(ctx, KeyAccessToken)
	assert.False(t, ok)
}

func TestTokenStoreSwallowsStorageErrors(t *testing.T) {
	ctx := context.Background()
	storage := new(MockStorage)
	boom := errors.New("quota exceeded")
	storage.On("SetItem", ctx, mock.Anything, mock.Anything).Return(boom)
	storage.On("GetItem", ctx, mock.Anything).Return("", false, boom)
	storage.On("RemoveItem", ctx, mock.Anything).Return(boom)

	logger := &recordingLogger{}
	store := NewTokenStore(storage, WithStoreLogger(logger))

	assert.NotPanics(t, func() {
		store.Save(ctx, "a", "r")
		store.Clear(ctx)
	})
	assert.Equal(t, StoredTokens{}, store.Load(ctx))
	assert.Len(t, logger.warnings, 6)
	storage.AssertExpectations(t)
}

func TestTokenStoreWithoutStorageIsNoop(t *testing.T) {
	ctx := context.Background()
	store := NewTokenStore(nil)

	store.Save(ctx, "a", "r")
	store.SaveOAuthState(ctx, "s")
	assert.Equal(t, StoredTokens{}, store.Load(ctx))
	assert.Empty(t, store.OAuthState(ctx))
}

func TestOAuthStateLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewTokenStore(NewMemoryStorage())

	store.SaveOAuthState(ctx, "state-1")
	assert.Equal(t, "state-1", store.OAuthState(ctx))

	store.ClearOAuthState(ctx)
	assert.Empty(t, store.OAuthState(ctx))
}
