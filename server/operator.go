package server

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fancoin/rostermint/logging"
	"github.com/fancoin/rostermint/signing"
)

const (
	// KeyEnvVar holds a base64 encoded ed25519 private key of the operator.
	KeyEnvVar        = "ROSTERMINT_OPERATOR_KEY"
	operatorFilename = "operator.json"
)

var ErrKeyMismatch = errors.New("operator key from environment differs from the persisted one")

// loadOperator returns the operator key. A keypair file given explicitly
// wins. Otherwise the key comes from envKey or the data directory, and a
// new key is generated when neither has one.
func loadOperator(ctx context.Context, keyFile, datadir, envKey string) (*signing.Operator, error) {
	logger := logging.FromContext(ctx)
	if keyFile != "" {
		op, err := signing.LoadOperator(keyFile)
		if err != nil {
			return nil, fmt.Errorf("loading operator keypair %s: %w", keyFile, err)
		}
		logger.Info("loaded operator key", zap.String("file", keyFile), zap.Stringer("operator", op.Address()))
		return op, nil
	}

	persisted, err := signing.LoadOperator(filepath.Join(datadir, operatorFilename))
	switch {
	case errors.Is(err, os.ErrNotExist):
		persisted = nil
	case err != nil:
		return nil, fmt.Errorf("loading persisted operator key: %w", err)
	}

	if envKey != "" {
		key, err := base64.StdEncoding.DecodeString(envKey)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", KeyEnvVar, err)
		}
		op, err := signing.NewOperator(ed25519.PrivateKey(key))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", KeyEnvVar, err)
		}
		if persisted != nil && persisted.Address() != op.Address() {
			return nil, fmt.Errorf("%w: %s != %s", ErrKeyMismatch, op.Address(), persisted.Address())
		}
		logger.Info("using operator key from environment", zap.Stringer("operator", op.Address()))
		return op, nil
	}

	if persisted != nil {
		return persisted, nil
	}
	op, err := signing.GenerateOperator(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating operator key: %w", err)
	}
	logger.Info("generated new operator key", zap.Stringer("operator", op.Address()))
	return op, nil
}

func saveOperator(datadir string, op *signing.Operator) error {
	if err := os.MkdirAll(datadir, 0o700); err != nil {
		return err
	}
	return signing.SaveOperator(filepath.Join(datadir, operatorFilename), op)
}
