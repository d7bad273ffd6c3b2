package voiceprint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"voiceid/internal/services"
)

// Key layout:
//
//	meta/{backend}           → msgpack badgerMeta
//	vp/{backend}/{speaker}   → msgpack VoicePrint
const (
	metaPrefix  = "meta/"
	printPrefix = "vp/"
)

type badgerMeta struct {
	Dim     int       `msgpack:"dim"`
	Version int64     `msgpack:"version"`
	SavedAt time.Time `msgpack:"saved_at"`
}

// BadgerOptions configures the Badger repository.
type BadgerOptions struct {
	// Dir holds the badger data files. Required unless InMemory is set.
	Dir string
	// InMemory runs badger without disk persistence (tests).
	InMemory bool
	// Logger overrides the default quiet logger.
	Logger badger.Logger
}

// BadgerRepository stores prints as individual keys, one range per backend.
type BadgerRepository struct {
	db *badger.DB
}

// OpenBadgerRepository opens the badger database. Badger holds an exclusive
// lock on Dir while open, so a second process (a running `queue work`, say)
// gets ErrTransient until the first one exits.
func OpenBadgerRepository(opts BadgerOptions) (*BadgerRepository, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("voiceprint: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(quietBadgerLogger{})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		if strings.Contains(err.Error(), "directory lock") {
			return nil, services.Wrap(services.ErrTransient, "voiceprint", "open badger",
				"store directory is held by another voiceid process; retry when it exits or use the json or sqlite format", err)
		}
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerRepository{db: db}, nil
}

func metaKey(backendID string) []byte { return []byte(metaPrefix + backendID) }

func printKeyPrefix(backendID string) []byte { return []byte(printPrefix + backendID + "/") }

func printKey(backendID, speakerID string) []byte {
	return append(printKeyPrefix(backendID), speakerID...)
}

func (r *BadgerRepository) Load(ctx context.Context, backendID string) (Snapshot, error) {
	if err := checkBackendID(backendID); err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	snapshot := NewSnapshot(backendID, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(backendID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var meta badgerMeta
		if err := item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &meta) }); err != nil {
			return corrupt(backendID, "decode meta", err)
		}
		snapshot.Dim = meta.Dim
		snapshot.Version = meta.Version
		snapshot.SavedAt = meta.SavedAt

		prefix := printKeyPrefix(backendID)
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			speakerID := string(bytes.TrimPrefix(item.Key(), prefix))
			var vp VoicePrint
			if err := item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &vp) }); err != nil {
				return corrupt(backendID, "decode print "+strconv.Quote(speakerID), err)
			}
			if vp.SpeakerID != speakerID {
				return corrupt(backendID, fmt.Sprintf("key %q holds print for %q", speakerID, vp.SpeakerID), nil)
			}
			snapshot.Prints[speakerID] = vp
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	if err := snapshot.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// Save replaces every key of the backend in one transaction.
func (r *BadgerRepository) Save(ctx context.Context, snapshot Snapshot) error {
	if err := checkBackendID(snapshot.BackendID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snapshot.Validate(); err != nil {
		return err
	}
	meta, err := msgpack.Marshal(badgerMeta{Dim: snapshot.Dim, Version: snapshot.Version, SavedAt: snapshot.SavedAt.UTC()})
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		prefix := printKeyPrefix(snapshot.BackendID)
		var stale [][]byte
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete %q: %w", key, err)
			}
		}
		for _, id := range snapshot.SpeakerIDs() {
			vp := snapshot.Prints[id]
			vp.BuiltAt = vp.BuiltAt.UTC()
			data, err := msgpack.Marshal(vp)
			if err != nil {
				return fmt.Errorf("encode print %q: %w", id, err)
			}
			if err := txn.Set(printKey(snapshot.BackendID, id), data); err != nil {
				return fmt.Errorf("set print %q: %w", id, err)
			}
		}
		return txn.Set(metaKey(snapshot.BackendID), meta)
	})
}

func (r *BadgerRepository) Stamp(_ context.Context, backendID string) (Stamp, error) {
	stamp := Stamp{Marker: "absent"}
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(backendID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var meta badgerMeta
		if err := item.Value(func(val []byte) error { return msgpack.Unmarshal(val, &meta) }); err != nil {
			return corrupt(backendID, "decode meta", err)
		}
		stamp = Stamp{Version: meta.Version, Marker: strconv.FormatUint(item.Version(), 10)}
		return nil
	})
	return stamp, err
}

func (r *BadgerRepository) Backends(context.Context) ([]string, error) {
	var ids []string
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte(metaPrefix)
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(bytes.TrimPrefix(it.Item().Key(), prefix)))
		}
		return nil
	})
	sort.Strings(ids)
	return ids, err
}

func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

// quietBadgerLogger drops badger's info and debug chatter and forwards
// nothing else; failures surface through returned errors.
type quietBadgerLogger struct{}

func (quietBadgerLogger) Errorf(string, ...any)   {}
func (quietBadgerLogger) Warningf(string, ...any) {}
func (quietBadgerLogger) Infof(string, ...any)    {}
func (quietBadgerLogger) Debugf(string, ...any)   {}
