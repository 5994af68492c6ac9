package registration

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fancoin/rostermint/retry"
)

func DefaultConfig() Config {
	return Config{
		Retry: retry.Config{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
		},
	}
}

type Config struct {
	Retry retry.Config `group:"Registration retry" namespace:"retry"`
}

// implement zap.ObjectMarshaler interface.
func (c *Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	return enc.AddObject("retry", c.Retry)
}
