package roster

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Protocols understood by NewProber.
const (
	ProtocolA2S = "a2s"
	ProtocolQW  = "qw"
	ProtocolQ2  = "q2"
	ProtocolQ3  = "q3"
)

type Config struct {
	Protocol     string        `long:"protocol" description:"Player query protocol: a2s, qw, q2 or q3"`
	Servers      []string      `long:"server" description:"Game server to probe (host:port). Disables master server discovery when set"`
	Master       string        `long:"master" description:"Master server listing the game servers"`
	MasterFilter string        `long:"master-filter" description:"Filter sent to the master server"`
	MasterPages  int           `long:"master-pages" description:"Maximum number of master server pages to fetch"`
	Concurrency  int           `long:"concurrency" description:"Number of servers probed in parallel"`
	ProbeTimeout time.Duration `long:"probe-timeout" description:"Timeout of one server probe"`
}

func DefaultConfig() Config {
	return Config{
		Protocol:     ProtocolA2S,
		Master:       "hl1master.steampowered.com:27011",
		MasterFilter: `\gamedir\tfc`,
		MasterPages:  64,
		Concurrency:  10,
		ProbeTimeout: 5 * time.Second,
	}
}

func (c Config) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("protocol", c.Protocol)
	enc.AddString("servers", strings.Join(c.Servers, ","))
	enc.AddString("master", c.Master)
	enc.AddString("master_filter", c.MasterFilter)
	enc.AddInt("master_pages", c.MasterPages)
	enc.AddInt("concurrency", c.Concurrency)
	enc.AddDuration("probe_timeout", c.ProbeTimeout)
	return nil
}

// NewProber returns the prober for protocol.
func NewProber(protocol string) (Prober, error) {
	switch strings.ToLower(protocol) {
	case ProtocolA2S:
		return A2SProber{}, nil
	case ProtocolQW:
		return QuakeProber{Dialect: QuakeWorld}, nil
	case ProtocolQ2:
		return QuakeProber{Dialect: Quake2}, nil
	case ProtocolQ3:
		return QuakeProber{Dialect: Quake3}, nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", protocol)
	}
}

// NewDiscoverer returns a static list when servers are configured and the
// master server otherwise.
func NewDiscoverer(cfg Config) (Discoverer, error) {
	if len(cfg.Servers) > 0 {
		return NewStaticList(cfg.Servers...)
	}
	if cfg.Master == "" {
		return nil, fmt.Errorf("neither servers nor a master server are configured")
	}
	return &MasterServer{Address: cfg.Master, Filter: cfg.MasterFilter, MaxPages: cfg.MasterPages}, nil
}
