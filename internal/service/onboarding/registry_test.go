package onboarding

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/fin-onboard/backend/internal/service/gateway"
	"github.com/zhouzirui/fin-onboard/backend/internal/storage"
)

func newTestRegistry(t *testing.T, kv storage.KV, f *fakes) *Registry {
	t.Helper()
	r := NewRegistry(RegistryConfig{
		Controller: testConfig(),
		Storage:    kv,
		NewGateway: func(gateway.TokenSource) gateway.Gateway { return f.gateway() },
	})
	t.Cleanup(r.Close)
	return r
}

func TestRegistryOpenReusesClients(t *testing.T) {
	r := newTestRegistry(t, storage.NewMemoryStore(), newFakes())

	client, created, err := r.Open("")
	require.NoError(t, err)
	assert.True(t, created)
	_, err = uuid.Parse(client.ID)
	require.NoError(t, err)

	again, created, err := r.Open(client.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, client, again)

	got, err := r.Get(client.ID)
	require.NoError(t, err)
	assert.Same(t, client, got)
	assert.Equal(t, 1, r.Len())

	_, _, err = r.Open("not-a-uuid")
	assert.ErrorIs(t, err, ErrUnknownClient)
	_, err = r.Get(uuid.NewString())
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestRegistryKeepsClientsApart(t *testing.T) {
	kv := storage.NewMemoryStore()
	f := newFakes()
	f.understander.push(
		reply("s-a", "What is your income?", false),
		reply("s-b", "What is your income?", false),
	)
	r := newTestRegistry(t, kv, f)

	a, _, err := r.Open("")
	require.NoError(t, err)
	startDialogue(t, a.Controller)

	b, _, err := r.Open("")
	require.NoError(t, err)
	startDialogue(t, b.Controller)

	snapA, err := a.Snapshot(ctx)
	require.NoError(t, err)
	snapB, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s-a", snapA.Session.ID)
	assert.Equal(t, "s-b", snapB.Session.ID)
	assert.Equal(t, 2, kv.Len())
}

func TestRegistryRecordsCompletion(t *testing.T) {
	f := newFakes()
	f.understander.push(
		reply("s-1", "What is your income?", false),
		reply("s-1", "Done.", true),
	)
	r := newTestRegistry(t, storage.NewMemoryStore(), f)

	client, _, err := r.Open("")
	require.NoError(t, err)
	startDialogue(t, client.Controller)
	require.NoError(t, client.SubmitUserInput(ctx, "1"))
	waitState(t, client.Controller, StateComplete)

	result, ok, err := client.Result(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, result.Recommendations)
	assert.Len(t, result.Recommendations.Recommendations, 1)

	require.NoError(t, client.Reset(ctx))
	_, ok, err = client.Result(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistryStoresClientToken(t *testing.T) {
	kv := storage.NewMemoryStore()
	var tokens gateway.TokenSource
	f := newFakes()
	r := NewRegistry(RegistryConfig{
		Controller: testConfig(),
		Storage:    kv,
		NewGateway: func(ts gateway.TokenSource) gateway.Gateway {
			tokens = ts
			return f.gateway()
		},
	})
	t.Cleanup(r.Close)

	client, _, err := r.Open("")
	require.NoError(t, err)
	require.NoError(t, client.SetToken(ctx, "tok-1"))
	require.NoError(t, client.SetToken(ctx, "  "))

	got, err := tokens.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got)

	other, _, err := r.Open("")
	require.NoError(t, err)
	require.NotNil(t, other)
	got, err = tokens.Token(ctx)
	require.NoError(t, err)
	assert.Empty(t, got, "a new client has no token of its own")
}

func TestRegistryRemoveAndClose(t *testing.T) {
	r := newTestRegistry(t, storage.NewMemoryStore(), newFakes())
	client, _, err := r.Open("")
	require.NoError(t, err)

	r.Remove(client.ID)
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, client.Start(ctx), ErrClosed)

	r.Close()
	_, _, err = r.Open("")
	assert.ErrorIs(t, err, ErrClosed)
}
