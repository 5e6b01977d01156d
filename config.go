package amqrpc

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config says which broker to contact and sets the
// tuning knobs for the pool, the resilience primitives,
// and the queue topology. Zero values are filled in by
// NewConfig(); a Config from another source should be
// passed through (*Config).setDefaults() before use.
type Config struct {

	// Broker connection surface.
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	VHost    string `yaml:"vhost"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Heartbeat interval for the broker connection.
	Heartbeat time.Duration `yaml:"heartbeat"`

	// ConnectTimeout bounds a single dial attempt, and also
	// the total time GetConnection will wait for a slot when
	// the pool is at MaxPoolSize.
	ConnectTimeout time.Duration `yaml:"connectTimeout"`

	// AutoRecovery asks the client to eagerly re-establish
	// topology after a connection-restored event, rather than
	// waiting for the next call to discover brokenness.
	AutoRecovery bool `yaml:"autoRecovery"`

	// NetworkRecoveryInterval is the pause between reconnect
	// attempts by the server consume loop.
	NetworkRecoveryInterval time.Duration `yaml:"networkRecoveryInterval"`

	// MaxPoolSize bounds the number of simultaneous broker
	// connections held by the pool.
	MaxPoolSize int `yaml:"maxPoolSize"`

	// MaxChannels bounds the number of simultaneous in-flight
	// client channels (backpressure; excess callers queue).
	MaxChannels int `yaml:"maxChannels"`

	// RequestTimeout is the per-call budget the client waits
	// for a reply before synthesizing a "Request timeout"
	// response. Independent of broker-level TTLs.
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	// Retry policy for connection creation.
	RetryMaxAttempts int           `yaml:"retryMaxAttempts"`
	RetryBaseDelay   time.Duration `yaml:"retryBaseDelay"`

	// Circuit breaker guarding connection creation.
	BreakerFailureThreshold int           `yaml:"breakerFailureThreshold"`
	BreakerOpTimeout        time.Duration `yaml:"breakerOpTimeout"`
	BreakerRecoveryTimeout  time.Duration `yaml:"breakerRecoveryTimeout"`

	// MessageTTL is applied to request queues and reply queues
	// alike (x-message-ttl). Both sides must declare the
	// same value or the broker rejects the redeclaration.
	MessageTTL time.Duration `yaml:"messageTTL"`

	// Dead-letter topology, shared across all operations.
	DeadLetterExchange string `yaml:"deadLetterExchange"`
	DeadLetterQueue    string `yaml:"deadLetterQueue"`

	// Orphaned-waiter sweep. A waiter older than SweepGrace
	// is force-failed on the next sweep tick.
	SweepInterval time.Duration `yaml:"sweepInterval"`
	SweepGrace    time.Duration `yaml:"sweepGrace"`
}

// NewConfig returns a Config with the defaults filled in.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5672
	}
	if c.VHost == "" {
		c.VHost = "/"
	}
	if c.Username == "" {
		c.Username = "guest"
	}
	if c.Password == "" {
		c.Password = "guest"
	}
	if c.Heartbeat == 0 {
		c.Heartbeat = 10 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.NetworkRecoveryInterval == 0 {
		c.NetworkRecoveryInterval = 5 * time.Second
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = 5
	}
	if c.MaxChannels == 0 {
		c.MaxChannels = 50
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.BreakerFailureThreshold == 0 {
		c.BreakerFailureThreshold = 5
	}
	if c.BreakerOpTimeout == 0 {
		c.BreakerOpTimeout = 30 * time.Second
	}
	if c.BreakerRecoveryTimeout == 0 {
		c.BreakerRecoveryTimeout = 60 * time.Second
	}
	if c.MessageTTL == 0 {
		c.MessageTTL = 5 * time.Minute
	}
	if c.DeadLetterExchange == "" {
		c.DeadLetterExchange = "dlx"
	}
	if c.DeadLetterQueue == "" {
		c.DeadLetterQueue = "dlx.queue"
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
	if c.SweepGrace == 0 {
		c.SweepGrace = 2 * time.Minute
	}
}

// URL renders the amqp:// dial string.
func (c *Config) URL() string {
	return fmt.Sprintf("amqp://%v:%v@%v:%v%v",
		c.Username, c.Password, c.Host, c.Port, vhostPath(c.VHost))
}

func vhostPath(vhost string) string {
	if vhost == "" || vhost == "/" {
		return "/"
	}
	if vhost[0] == '/' {
		return vhost
	}
	return "/" + vhost
}

// LoadConfigFile reads a YAML config file and fills in
// defaults for anything the file leaves unset.
func LoadConfigFile(path string) (*Config, error) {
	by, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadConfigFile: '%v'", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(by, cfg); err != nil {
		return nil, fmt.Errorf("LoadConfigFile: bad yaml in '%v': '%v'", path, err)
	}
	cfg.setDefaults()
	return cfg, nil
}

// ApplyEnv overrides cfg from AMQRPC_* environment
// variables, for the fields commonly set per-deploy.
func (c *Config) ApplyEnv() {
	if s := os.Getenv("AMQRPC_HOST"); s != "" {
		c.Host = s
	}
	if s := os.Getenv("AMQRPC_PORT"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			c.Port = n
		}
	}
	if s := os.Getenv("AMQRPC_VHOST"); s != "" {
		c.VHost = s
	}
	if s := os.Getenv("AMQRPC_USERNAME"); s != "" {
		c.Username = s
	}
	if s := os.Getenv("AMQRPC_PASSWORD"); s != "" {
		c.Password = s
	}
	if s := os.Getenv("AMQRPC_REQUEST_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			c.RequestTimeout = d
		}
	}
	if s := os.Getenv("AMQRPC_MAX_POOL_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			c.MaxPoolSize = n
		}
	}
}
