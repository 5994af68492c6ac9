package rpcclient

import (
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	URL            string        `long:"url" description:"JSON-RPC endpoint of the ledger node"`
	RetryMax       int           `long:"retry-max" description:"How many times a read is retried by the transport"`
	RetryWaitMin   time.Duration `long:"retry-wait-min" description:"Minimum wait between read retries"`
	RetryWaitMax   time.Duration `long:"retry-wait-max" description:"Maximum wait between read retries"`
	RequestTimeout time.Duration `long:"request-timeout" description:"Timeout of a single HTTP request"`
}

func DefaultConfig() Config {
	return Config{
		URL:            "http://localhost:8899",
		RetryMax:       4,
		RetryWaitMin:   500 * time.Millisecond,
		RetryWaitMax:   10 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("url", c.URL)
	enc.AddInt("retry_max", c.RetryMax)
	enc.AddDuration("retry_wait_min", c.RetryWaitMin)
	enc.AddDuration("retry_wait_max", c.RetryWaitMax)
	enc.AddDuration("request_timeout", c.RequestTimeout)
	return nil
}
