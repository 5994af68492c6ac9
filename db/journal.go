// Package db persists the submission journal.
package db

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/fancoin/rostermint/logging"
)

var ErrNotFound = leveldb.ErrNotFound

var (
	submissionPrefix = []byte("sub/")
	rewardedPrefix   = []byte("rew/")
)

// Record is one journaled submission attempt.
type Record struct {
	ID           string
	CycleID      string
	Epoch        uint64
	Time         int64
	Names        []string
	Indices      []uint32
	Ref          string
	Kind         string
	Error        string
	ComputeUnits uint64
	Attempts     uint32
}

func (r *Record) Succeeded() bool {
	return r.Error == ""
}

func (r *Record) key() []byte {
	key := make([]byte, 0, len(submissionPrefix)+16+len(r.ID))
	key = append(key, submissionPrefix...)
	key = binary.BigEndian.AppendUint64(key, r.Epoch)
	key = binary.BigEndian.AppendUint64(key, uint64(r.Time))
	return append(key, r.ID...)
}

func rewardedKey(epoch uint64, index uint32) []byte {
	key := make([]byte, 0, len(rewardedPrefix)+12)
	key = append(key, rewardedPrefix...)
	key = binary.BigEndian.AppendUint64(key, epoch)
	return binary.BigEndian.AppendUint32(key, index)
}

func epochPrefix(prefix []byte, epoch uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefix...), epoch)
}

// Journal records every submission and the indices confirmed per epoch.
type Journal struct {
	db *leveldb.DB
}

// OpenJournal opens the journal at dir. A journal found in legacyDir is
// moved to dir first.
func OpenJournal(ctx context.Context, dir, legacyDir string) (*Journal, error) {
	if legacyDir != "" {
		if err := relocate(ctx, dir, legacyDir); err != nil {
			return nil, fmt.Errorf("relocating journal: %w", err)
		}
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal @ %s: %w", dir, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores rec. For a successful submission the rewarded indices are
// written in the same batch.
func (j *Journal) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Time == 0 {
		rec.Time = time.Now().UnixNano()
	}
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, rec); err != nil {
		return fmt.Errorf("serializing record: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(rec.key(), buf.Bytes())
	if rec.Succeeded() {
		for _, idx := range rec.Indices {
			batch.Put(rewardedKey(rec.Epoch, idx), nil)
		}
	}
	if err := j.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("storing record in DB: %w", err)
	}
	logging.FromContext(ctx).Debug("journaled submission",
		zap.String("id", rec.ID),
		zap.Uint64("epoch", rec.Epoch),
		zap.Bool("succeeded", rec.Succeeded()),
	)
	return nil
}

// Records returns the records of epoch in the order they were written.
func (j *Journal) Records(epoch uint64) ([]Record, error) {
	iter := j.db.NewIterator(util.BytesPrefix(epochPrefix(submissionPrefix, epoch)), nil)
	defer iter.Release()
	var out []Record
	for iter.Next() {
		var rec Record
		if _, err := xdr.Unmarshal(bytes.NewReader(iter.Value()), &rec); err != nil {
			return nil, fmt.Errorf("failed to deserialize record %X: %w", iter.Key(), err)
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

// Rewarded returns the sequence indices confirmed as rewarded in epoch.
func (j *Journal) Rewarded(epoch uint64) (map[uint32]struct{}, error) {
	prefix := epochPrefix(rewardedPrefix, epoch)
	iter := j.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	out := make(map[uint32]struct{})
	for iter.Next() {
		key := iter.Key()
		if len(key) != len(prefix)+4 {
			return nil, fmt.Errorf("malformed rewarded key %X", key)
		}
		out[binary.BigEndian.Uint32(key[len(prefix):])] = struct{}{}
	}
	return out, iter.Error()
}

// Prune removes everything recorded for epochs before epoch.
func (j *Journal) Prune(ctx context.Context, epoch uint64) (int, error) {
	batch := new(leveldb.Batch)
	for _, prefix := range [][]byte{submissionPrefix, rewardedPrefix} {
		iter := j.db.NewIterator(&util.Range{Start: prefix, Limit: epochPrefix(prefix, epoch)}, nil)
		for iter.Next() {
			batch.Delete(append([]byte(nil), iter.Key()...))
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return 0, err
		}
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := j.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	logging.FromContext(ctx).Info("pruned journal", zap.Uint64("before_epoch", epoch), zap.Int("keys", batch.Len()))
	return batch.Len(), nil
}
