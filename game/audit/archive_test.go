package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchive_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "audit.db")

	a, err := OpenArchive(dsn)
	require.NoError(t, err)

	base := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	success := true
	for i, rec := range []*Record{
		{TurnID: "turn-1", CharacterID: "char-1", Classification: ClassificationSuccess, Narrative: "First."},
		{TurnID: "turn-2", CharacterID: "char-1", Classification: ClassificationPartial, Narrative: "Second.",
			Subsystems: map[string]SubsystemOutcome{"quest": {Action: "offered", Success: &success}}},
		{TurnID: "turn-3", CharacterID: "char-2", Classification: ClassificationError},
	} {
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, a.Insert(ctx, rec))
	}

	recent, err := a.RecentByCharacter(ctx, "char-1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "turn-2", recent[0].TurnID, "newest first")
	assert.Equal(t, "turn-1", recent[1].TurnID)
	assert.Equal(t, ClassificationPartial, recent[0].Classification)
	require.Contains(t, recent[0].Subsystems, "quest")
	assert.Equal(t, "offered", recent[0].Subsystems["quest"].Action)
	require.NotNil(t, recent[0].Subsystems["quest"].Success)
	assert.True(t, *recent[0].Subsystems["quest"].Success)

	require.NoError(t, a.Close())

	// Records survive a reopen.
	a2, err := OpenArchive(dsn)
	require.NoError(t, err)
	defer func() { _ = a2.Close() }() //nolint:errcheck // cleanup

	recent, err = a2.RecentByCharacter(ctx, "char-2", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "turn-3", recent[0].TurnID)
}

func TestArchive_InsertReplaces(t *testing.T) {
	ctx := context.Background()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer func() { _ = a.Close() }() //nolint:errcheck // cleanup

	rec := &Record{TurnID: "turn-1", CharacterID: "char-1", Classification: ClassificationSuccess, CreatedAt: time.Now()}
	require.NoError(t, a.Insert(ctx, rec))
	rec.Classification = ClassificationError
	require.NoError(t, a.Insert(ctx, rec))

	recent, err := a.RecentByCharacter(ctx, "char-1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1, "same turn id replaces the row")
	assert.Equal(t, ClassificationError, recent[0].Classification)
}

func TestArchive_Prune(t *testing.T) {
	ctx := context.Background()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer func() { _ = a.Close() }() //nolint:errcheck // cleanup

	base := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"turn-1", "turn-2", "turn-3"} {
		rec := &Record{TurnID: id, CharacterID: "char-1", Classification: ClassificationSuccess,
			CreatedAt: base.Add(time.Duration(i) * 24 * time.Hour)}
		require.NoError(t, a.Insert(ctx, rec))
	}

	pruned, err := a.Prune(ctx, base.Add(36*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	recent, err := a.RecentByCharacter(ctx, "char-1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "turn-3", recent[0].TurnID)

	pruned, err = a.Prune(ctx, base)
	require.NoError(t, err)
	assert.Zero(t, pruned, "cutoff before every row prunes nothing")
}

func TestArchive_Validation(t *testing.T) {
	_, err := OpenArchive("")
	assert.Error(t, err)

	a, err := OpenArchive(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer func() { _ = a.Close() }() //nolint:errcheck // cleanup

	assert.Error(t, a.Insert(context.Background(), nil))
	assert.Error(t, a.Insert(context.Background(), &Record{CharacterID: "char-1"}))
}
