package proctor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedgerSelectOverwrites(t *testing.T) {
	ledger := NewAnswerLedger()
	require.True(t, ledger.Select("q1", 0))
	require.True(t, ledger.Select("q1", 2))
	require.True(t, ledger.Select("q1", 2))

	snap := ledger.Snapshot()
	require.Equal(t, map[string]int{"q1": 2}, snap.Answers)
	require.Equal(t, 1, ledger.Answered())
}

func TestLedgerClearIsIdempotent(t *testing.T) {
	ledger := NewAnswerLedger()
	ledger.Select("q1", 1)
	require.True(t, ledger.Clear("q1"))
	require.True(t, ledger.Clear("q1"))
	require.True(t, ledger.Clear("q2"))
	require.Empty(t, ledger.Snapshot().Answers)
}

func TestLedgerToggleFlagTwiceRestores(t *testing.T) {
	ledger := NewAnswerLedger()
	require.True(t, ledger.ToggleFlag("q3"))
	require.True(t, ledger.ToggleFlag("q1"))
	require.Equal(t, []string{"q1", "q3"}, ledger.Snapshot().Flags)

	require.False(t, ledger.ToggleFlag("q3"))
	require.Equal(t, []string{"q1"}, ledger.Snapshot().Flags)
}

func TestLedgerSnapshotIsACopy(t *testing.T) {
	ledger := NewAnswerLedger()
	ledger.Select("q1", 1)
	ledger.ToggleFlag("q1")

	snap := ledger.Snapshot()
	snap.Answers["q1"] = 3
	snap.Flags[0] = "zz"

	again := ledger.Snapshot()
	require.Equal(t, 1, again.Answers["q1"])
	require.Equal(t, []string{"q1"}, again.Flags)
	require.Equal(t, again, ledger.Snapshot())
}

func TestLedgerFreezeRejectsMutations(t *testing.T) {
	ledger := NewAnswerLedger()
	ledger.Select("q1", 1)
	ledger.ToggleFlag("q2")
	before := ledger.Snapshot()

	ledger.Freeze()
	require.True(t, ledger.Frozen())
	require.False(t, ledger.Select("q1", 0))
	require.False(t, ledger.Clear("q1"))
	require.True(t, ledger.ToggleFlag("q2"))

	require.Equal(t, before, ledger.Snapshot())
}
