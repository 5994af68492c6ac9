package service

import (
	"time"

	"go.uber.org/zap/zapcore"
)

func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Minute,
		EpochDuration: time.Hour,
	}
}

//nolint:lll
type Config struct {
	Interval         time.Duration `long:"interval"          description:"Time between two reconciliation cycles"`
	EpochDuration    time.Duration `long:"epoch-duration"    description:"Length of a reward epoch; a participant is rewarded at most once per epoch"`
	JournalRetention uint64        `long:"journal-retention" description:"Number of past epochs kept in the submission journal (0 keeps everything)"`
}

// implement zap.ObjectMarshaler interface.
func (c *Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddDuration("interval", c.Interval)
	enc.AddDuration("epoch duration", c.EpochDuration)
	enc.AddUint64("journal retention", c.JournalRetention)
	return nil
}

// EpochAt returns the reward epoch that when falls into. Epochs are
// numbered from 1; any time before genesis is epoch 0.
func EpochAt(genesis time.Time, duration time.Duration, when time.Time) uint64 {
	if duration <= 0 || when.Before(genesis) {
		return 0
	}
	return uint64(when.Sub(genesis)/duration) + 1
}

// EpochStart returns the time epoch begins.
func EpochStart(genesis time.Time, duration time.Duration, epoch uint64) time.Time {
	if epoch == 0 {
		return genesis
	}
	return genesis.Add(time.Duration(epoch-1) * duration)
}
