package oidcbroker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlowStateRepo_UpsertValidation(t *testing.T) {
	repo := newFlowStateRepo()

	require.Error(t, repo.Upsert("", &flowState{}))
	require.Error(t, repo.Upsert("state-1", nil))
	require.NoError(t, repo.Upsert("state-1", &flowState{Nonce: "n1"}))
}

func TestFlowStateRepo_TakeIsSingleUse(t *testing.T) {
	repo := newFlowStateRepo()
	require.NoError(t, repo.Upsert("state-1", &flowState{Nonce: "n1", CodeVerifier: "v1"}))

	fs, ok := repo.Take("state-1")
	require.True(t, ok)
	require.Equal(t, "n1", fs.Nonce)
	require.Equal(t, "v1", fs.CodeVerifier)

	_, ok = repo.Take("state-1")
	require.False(t, ok)
}

func TestFlowStateRepo_TakeUnknownState(t *testing.T) {
	repo := newFlowStateRepo()

	_, ok := repo.Take("never-issued")
	require.False(t, ok)

	_, ok = repo.Take("")
	require.False(t, ok)
}

func TestFlowStateRepo_Prune(t *testing.T) {
	repo := newFlowStateRepo()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Upsert("fresh", &flowState{CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, repo.Upsert("stale", &flowState{CreatedAt: now.Add(-time.Hour)}))

	removed := repo.Prune(15*time.Minute, now)
	require.Equal(t, 1, removed)

	_, ok := repo.Take("fresh")
	require.True(t, ok)
	_, ok = repo.Take("stale")
	require.False(t, ok)
}
