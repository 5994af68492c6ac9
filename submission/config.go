package submission

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fancoin/rostermint/retry"
)

func DefaultConfig() Config {
	return Config{
		ChunkSize:   3,
		MaxAccounts: 32,
		Timeout:     30 * time.Second,
		Retry: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
		},
	}
}

//nolint:lll
type Config struct {
	ChunkSize   int           `long:"chunk-size"   description:"The maximum number of participants rewarded by a single operation"`
	MaxAccounts int           `long:"max-accounts" description:"The maximum number of accounts a single operation may reference"`
	Timeout     time.Duration `long:"timeout"      description:"How long to wait for the ledger to accept a submitted operation"`

	Retry retry.Config `group:"Submission retry" namespace:"retry"`
}

// implement zap.ObjectMarshaler interface.
func (c *Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("chunk size", c.ChunkSize)
	enc.AddInt("max accounts", c.MaxAccounts)
	enc.AddDuration("timeout", c.Timeout)
	return enc.AddObject("retry", c.Retry)
}
