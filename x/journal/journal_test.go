package journal

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/rootchain/x/rootchain"
)

func events(ids ...uint64) []rootchain.Event {
	out := make([]rootchain.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, rootchain.Event{
			ID:          id,
			Type:        rootchain.EventBlockCommitted,
			Fork:        1,
			BlockNumber: id + 10,
			EpochNumber: 3,
			RequestKind: rootchain.KindERU,
			IsExit:      id%2 == 0,
			Timestamp:   1_700_000_000_000 + id,
		})
	}
	return out
}

func journals(t *testing.T) map[string]Journal {
	t.Helper()
	ldb, err := OpenLevelDB("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ldb.Close() })
	return map[string]Journal{
		"memory":  NewMemory(),
		"leveldb": ldb,
	}
}

func TestJournal_AppendRead(t *testing.T) {
	t.Parallel()
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, j.Append(ctx, events(1, 2, 3)...))

			got, err := j.Read(ctx, 0, 0)
			require.NoError(t, err)
			require.Equal(t, events(1, 2, 3), got)

			got, err = j.Read(ctx, 1, 1)
			require.NoError(t, err)
			require.Equal(t, events(2), got)

			got, err = j.Read(ctx, 3, 10)
			require.NoError(t, err)
			require.Empty(t, got)

			last, err := j.Last(ctx)
			require.NoError(t, err)
			require.Equal(t, uint64(3), last)
		})
	}
}

func TestJournal_DropsRedeliveredEvents(t *testing.T) {
	t.Parallel()
	for name, j := range journals(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, j.Append(ctx, events(1, 2)...))
			require.NoError(t, j.Append(ctx, events(1, 2, 3)...))
			require.NoError(t, j.Append(ctx, events(2)...))

			got, err := j.Read(ctx, 0, 0)
			require.NoError(t, err)
			require.Equal(t, events(1, 2, 3), got)
		})
	}
}

func TestLevelDB_Reopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "journal")
	ctx := t.Context()

	j, err := OpenLevelDB(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, events(1, 2)...))
	require.NoError(t, j.Close())

	j, err = OpenLevelDB(path, zerolog.Nop())
	require.NoError(t, err)
	defer j.Close()

	last, err := j.Last(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)

	require.NoError(t, j.Append(ctx, events(2, 3)...))
	got, err := j.Read(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, events(1, 2, 3), got)
}

func TestJournal_AsLedgerSink(t *testing.T) {
	t.Parallel()
	j := NewMemory()
	var sink rootchain.EventSink = j
	require.NoError(t, sink.Append(t.Context(), events(5)...))

	got, err := j.Read(t.Context(), 4, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint64(5), got[0].ID)
}
