package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conubium/internal/merkle"
	"conubium/pkg/domain"
	dErrors "conubium/pkg/domain-errors"
)

func TestBuildCheckpoint_EmptyLedger(t *testing.T) {
	cp, err := BuildCheckpoint(context.Background(), NewMemory())
	require.NoError(t, err)
	assert.True(t, cp.Root.IsZero())
	assert.Equal(t, 0, cp.EventCount)
	assert.Equal(t, int64(0), cp.LatestSeq)
}

func TestBuildCheckpoint_SingleEvent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ids := appendTestEvents(t, m, 1)

	cp, err := BuildCheckpoint(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.EventCount)
	assert.Equal(t, int64(1), cp.LatestSeq)

	stored, err := m.FindByID(ctx, ids[0])
	require.NoError(t, err)
	digest := stored.Digest()
	assert.Equal(t, merkle.Keccak256(digest[:]), cp.Root)

	proof, err := ProveInclusion(ctx, m, ids[0])
	require.NoError(t, err)
	assert.Empty(t, proof.Siblings)
	assert.Equal(t, cp.Root, proof.Root)

	ok, err := VerifyInclusion(proof)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckpoint_ProofsVerifyForEveryEvent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ids := appendTestEvents(t, m, 7)

	cp, err := BuildCheckpoint(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, 7, cp.EventCount)
	assert.Equal(t, int64(7), cp.LatestSeq)
	assert.False(t, cp.Root.IsZero())

	for _, eventID := range ids {
		proof, err := ProveInclusion(ctx, m, eventID)
		require.NoError(t, err)
		assert.Equal(t, cp.Root, proof.Root, "proof root matches checkpoint for %s", eventID)

		ok, err := VerifyInclusion(proof)
		require.NoError(t, err)
		assert.True(t, ok, "inclusion proof verifies for %s", eventID)
	}
}

func TestCheckpoint_TamperingDetected(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ids := appendTestEvents(t, m, 4)

	proof, err := ProveInclusion(ctx, m, ids[2])
	require.NoError(t, err)

	t.Run("tampered digest fails", func(t *testing.T) {
		bad := *proof
		bad.Digest[0] ^= 0xFF
		ok, err := VerifyInclusion(&bad)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("wrong root fails", func(t *testing.T) {
		bad := *proof
		bad.Root[31] ^= 0x01
		ok, err := VerifyInclusion(&bad)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("tampered sibling fails", func(t *testing.T) {
		bad := *proof
		require.NotEmpty(t, bad.Siblings)
		siblings := make([]domain.Hash32, len(proof.Siblings))
		copy(siblings, proof.Siblings)
		siblings[0][5] ^= 0x10
		bad.Siblings = siblings
		ok, err := VerifyInclusion(&bad)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCheckpoint_RootAdvancesWithHistory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	appendTestEvents(t, m, 2)

	before, err := BuildCheckpoint(ctx, m)
	require.NoError(t, err)

	appendTestEvents(t, m, 1)

	after, err := BuildCheckpoint(ctx, m)
	require.NoError(t, err)
	assert.NotEqual(t, before.Root, after.Root)
	assert.Equal(t, before.EventCount+1, after.EventCount)
}

func TestProveInclusion_UnknownEvent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	appendTestEvents(t, m, 2)

	_, err := ProveInclusion(ctx, m, uuid.New())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}
