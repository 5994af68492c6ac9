package db

import (
	"context"
	"fmt"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"

	"github.com/fancoin/rostermint/logging"
)

// relocate copies the database at oldDir into a new database at dir and
// removes oldDir. It does nothing when oldDir does not exist.
func relocate(ctx context.Context, dir, oldDir string) error {
	logger := logging.FromContext(ctx).With(zap.String("from", oldDir), zap.String("to", dir))
	if oldDir == dir {
		return nil
	}

	oldDb, err := leveldb.OpenFile(oldDir, &opt.Options{ErrorIfMissing: true})
	switch {
	case os.IsNotExist(err):
		return nil
	case err != nil:
		return fmt.Errorf("opening old DB: %w", err)
	}
	defer oldDb.Close()

	logger.Info("relocating DB")
	targetDb, err := leveldb.OpenFile(dir, &opt.Options{ErrorIfExist: true})
	if err != nil {
		return fmt.Errorf("opening target DB: %w", err)
	}
	defer targetDb.Close()

	tx, err := targetDb.OpenTransaction()
	if err != nil {
		return fmt.Errorf("opening new DB transaction: %w", err)
	}
	iter := oldDb.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		if err := tx.Put(iter.Key(), iter.Value(), nil); err != nil {
			tx.Discard()
			return fmt.Errorf("copying key %X: %w", iter.Key(), err)
		}
	}
	iter.Release()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing DB transaction: %w", err)
	}
	if err := targetDb.Close(); err != nil {
		return fmt.Errorf("closing target DB: %w", err)
	}

	if err := oldDb.Close(); err != nil {
		return fmt.Errorf("closing old DB: %w", err)
	}
	if err := os.RemoveAll(oldDir); err != nil {
		return fmt.Errorf("removing old DB: %w", err)
	}
	logger.Info("DB relocated")
	return nil
}
