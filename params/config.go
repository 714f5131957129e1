package params

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/app/core/account"
)

type Node struct {
	APIAddr string `env:"API_ADDR" envDefault:":8080"`
	LogFile string `env:"LOG_FILE" envDefault:"logs/papertrade.log"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// EndOfDayAt is the exchange-local close ("15:04") at which DAY orders expire. Empty disables it.
	EndOfDayAt string `env:"END_OF_DAY_AT" envDefault:"16:00"`
	// AllowedOrigins for CORS on the REST API.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

type Clock struct {
	// Mode is "real" (wall clock) or "sim" (settable, accelerated).
	Mode     string  `env:"MODE" envDefault:"real"`
	Speed    float64 `env:"SPEED" envDefault:"1"`
	Start    string  `env:"START"` // RFC3339, sim mode only; empty means now
	Paused   bool    `env:"PAUSED" envDefault:"false"`
	Timezone string  `env:"TIMEZONE" envDefault:"America/New_York"`
}

// Ledger holds the defaults for newly opened sessions.
type Ledger struct {
	InitialCash     string `env:"INITIAL_CASH" envDefault:"100000"`
	Multiplier      int    `env:"MULTIPLIER" envDefault:"2"`
	ShortingEnabled bool   `env:"SHORTING_ENABLED" envDefault:"true"`
	FeeBps          string `env:"FEE_BPS" envDefault:"0"`
	FeePerShare     string `env:"FEE_PER_SHARE" envDefault:"0"`
}

type Storage struct {
	// Dir is the pebble journal directory. Empty disables the journal.
	Dir    string `env:"DIR" envDefault:"data/journal"`
	Sync   bool   `env:"SYNC" envDefault:"false"`
	Buffer int    `env:"BUFFER" envDefault:"4096"`

	// EventLog is an optional JSON-lines file receiving every event.
	EventLog string `env:"EVENT_LOG"`
}

type Kafka struct {
	// Brokers empty disables the Kafka publisher.
	Brokers      []string      `env:"BROKERS" envSeparator:","`
	Topic        string        `env:"TOPIC" envDefault:"papertrade.events"`
	BatchTimeout time.Duration `env:"BATCH_TIMEOUT" envDefault:"10ms"`
	Buffer       int           `env:"BUFFER" envDefault:"4096"`
}

type Redis struct {
	// Addr empty disables the Redis publisher.
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Prefix   string `env:"PREFIX" envDefault:"papertrade:"`
	Buffer   int    `env:"BUFFER" envDefault:"4096"`
}

type Config struct {
	Node    Node    `envPrefix:"NODE_"`
	Clock   Clock   `envPrefix:"CLOCK_"`
	Ledger  Ledger  `envPrefix:"LEDGER_"`
	Storage Storage `envPrefix:"STORAGE_"`
	Kafka   Kafka   `envPrefix:"KAFKA_"`
	Redis   Redis   `envPrefix:"REDIS_"`
}

// Default returns the configuration with every envDefault applied and nothing
// read from the process environment.
func Default() Config {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(fmt.Sprintf("params: bad defaults: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Clock.Mode {
	case "real", "sim":
	default:
		return fmt.Errorf("clock mode must be real or sim, got %q", c.Clock.Mode)
	}
	if c.Clock.Speed <= 0 {
		return fmt.Errorf("clock speed must be positive, got %v", c.Clock.Speed)
	}
	if _, err := c.Clock.Location(); err != nil {
		return err
	}
	if _, err := c.Clock.StartTime(); err != nil {
		return err
	}
	if _, _, err := c.Node.EndOfDay(); err != nil {
		return err
	}
	loc, _ := c.Clock.Location()
	p, err := c.Ledger.Params(loc)
	if err != nil {
		return err
	}
	return p.Validate()
}

func (c Clock) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("clock timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// StartTime parses Start; the zero time means "now".
func (c Clock) StartTime() (time.Time, error) {
	if c.Start == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("clock start %q: %w", c.Start, err)
	}
	return t, nil
}

// EndOfDay returns the close as an offset from local midnight. ok is false when disabled.
func (n Node) EndOfDay() (offset time.Duration, ok bool, err error) {
	if n.EndOfDayAt == "" {
		return 0, false, nil
	}
	t, err := time.Parse("15:04", n.EndOfDayAt)
	if err != nil {
		return 0, false, fmt.Errorf("end of day %q: %w", n.EndOfDayAt, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, true, nil
}

// Params converts the ledger defaults into account parameters.
func (l Ledger) Params(loc *time.Location) (account.Params, error) {
	p := account.DefaultParams()
	var err error
	if p.InitialCash, err = decimal.NewFromString(l.InitialCash); err != nil {
		return p, fmt.Errorf("ledger initial cash %q: %w", l.InitialCash, err)
	}
	if p.FeeBps, err = decimal.NewFromString(l.FeeBps); err != nil {
		return p, fmt.Errorf("ledger fee bps %q: %w", l.FeeBps, err)
	}
	if p.FeePerShare, err = decimal.NewFromString(l.FeePerShare); err != nil {
		return p, fmt.Errorf("ledger fee per share %q: %w", l.FeePerShare, err)
	}
	p.Multiplier = l.Multiplier
	p.ShortingEnabled = l.ShortingEnabled
	p.Location = loc
	return p, nil
}
