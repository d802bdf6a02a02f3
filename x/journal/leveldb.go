package journal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/rs/zerolog"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/compose-network/rootchain/x/rootchain"
)

var _ Journal = (*LevelDB)(nil)

var (
	// lastKey sorts before every event key.
	lastKey     = []byte(".last")
	eventPrefix = []byte("e")
)

func eventKey(id uint64) []byte {
	key := make([]byte, len(eventPrefix)+8)
	copy(key, eventPrefix)
	binary.BigEndian.PutUint64(key[len(eventPrefix):], id)
	return key
}

// LevelDB is a Journal persisted in a LevelDB database. Events are stored
// RLP-encoded under their big-endian id.
type LevelDB struct {
	// Serializes the read-check-write of Append.
	mu   sync.Mutex
	db   *leveldb.DB
	last uint64
	log  zerolog.Logger
}

// OpenLevelDB opens or creates the journal at path. An empty path keeps the
// database in memory.
func OpenLevelDB(path string, log zerolog.Logger) (*LevelDB, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %q: %w", path, err)
	}

	j := &LevelDB{db: db, log: log.With().Str("component", "journal").Logger()}
	val, err := db.Get(lastKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		_ = db.Close()
		return nil, fmt.Errorf("failed to read last event id: %w", err)
	case len(val) != 8:
		_ = db.Close()
		return nil, fmt.Errorf("corrupt last event id (%d bytes)", len(val))
	default:
		j.last = binary.BigEndian.Uint64(val)
	}

	j.log.Info().Str("path", path).Uint64("last_event", j.last).Msg("Event journal opened")
	return j, nil
}

func (j *LevelDB) Append(_ context.Context, events ...rootchain.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	batch := new(leveldb.Batch)
	last := j.last
	for i := range events {
		ev := &events[i]
		if ev.ID <= last {
			continue
		}
		enc, err := rlp.EncodeToBytes(ev)
		if err != nil {
			return fmt.Errorf("failed to encode event %d: %w", ev.ID, err)
		}
		batch.Put(eventKey(ev.ID), enc)
		last = ev.ID
	}
	if last == j.last {
		return nil
	}
	var lastEnc [8]byte
	binary.BigEndian.PutUint64(lastEnc[:], last)
	batch.Put(lastKey, lastEnc[:])

	if err := j.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("failed to write %d events: %w", batch.Len()-1, err)
	}
	j.last = last
	return nil
}

func (j *LevelDB) Read(ctx context.Context, after uint64, limit int) ([]rootchain.Event, error) {
	limit = readLimit(limit)
	results := make([]rootchain.Event, 0)
	if after == ^uint64(0) {
		return results, nil
	}
	rng := util.BytesPrefix(eventPrefix)
	rng.Start = eventKey(after + 1)
	it := j.db.NewIterator(rng, nil)
	defer it.Release()

	for it.Next() && len(results) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var ev rootchain.Event
		if err := rlp.DecodeBytes(it.Value(), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event at %x: %w", it.Key(), err)
		}
		results = append(results, ev)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal: %w", err)
	}
	return results, nil
}

func (j *LevelDB) Last(context.Context) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last, nil
}

func (j *LevelDB) Close() error {
	return j.db.Close()
}
