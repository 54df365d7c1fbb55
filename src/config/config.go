package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/swarmworks/hivemind/src/common"
)

// Default filenames.
const (
	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultRosterFile is the default name of the JSON file containing the
	// pre-registered agent population
	DefaultRosterFile = "agents.json"
)

// Default configuration values.
const (
	DefaultLogLevel               = "debug"
	DefaultServiceAddr            = "127.0.0.1:8000"
	DefaultNamespace              = "hivemind"
	DefaultCacheSize              = 10000
	DefaultCacheBytes             = 32 * 1024 * 1024
	DefaultCacheStaleness         = 10 * time.Minute
	DefaultMaxPayload             = 1024 * 1024
	DefaultGCInterval             = 1 * time.Minute
	DefaultConsolidationInterval  = 5 * time.Minute
	DefaultConsolidationScanLimit = 500
	DefaultProposalTimeout        = 1 * time.Minute
	DefaultConsensusThreshold     = 0.6
	DefaultQuorumFraction         = 0.75
	DefaultVoteLookback           = 10
	DefaultFlagDecay              = 0.95
	DefaultQuarantineFlags        = 5
	DefaultReputationCap          = 2.0
	DefaultStore                  = false
	DefaultSwarmSize              = 4
)

// Config contains all the configuration properties of a Hivemind instance.
type Config struct {
	// DataDir is the top-level directory containing Hivemind configuration
	// and data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// Moniker defines the friendly name of this instance. It appears in logs
	// and in the stats endpoint.
	Moniker string `mapstructure:"moniker"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service. If not
	// specified, and "no-service" is not set, the API handlers are registered
	// with the DefaultServerMux of the http package. It is possible that
	// another server in the same process is simultaneously using the
	// DefaultServerMux. In which case, the handlers will be accessible from
	// both servers. This is usefull when Hivemind is used in-memory and
	// expected to use the same endpoint (address:port) as the application's
	// API.
	ServiceAddr string `mapstructure:"service-listen"`

	// Store activates persistant storage. When false, everything lives in
	// memory and is lost on shutdown.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Bootstrap determines whether to reload agent records and the proposal
	// audit trail from an existing database on startup. Forces Store.
	Bootstrap bool `mapstructure:"bootstrap"`

	// Namespace is the default namespace used by the top-level API when the
	// caller does not specify one.
	Namespace string `mapstructure:"namespace"`

	// CacheSize is the max number of entries in the hot cache.
	CacheSize int `mapstructure:"cache-size"`

	// CacheBytes is the max aggregate payload weight of the hot cache, in
	// bytes.
	CacheBytes int `mapstructure:"cache-bytes"`

	// CacheStaleness is how long a cached entry may go untouched before the
	// maintenance sweep evicts it.
	CacheStaleness time.Duration `mapstructure:"cache-staleness"`

	// MaxPayload is the size limit of a single entry payload, in bytes,
	// checked before compression.
	MaxPayload int `mapstructure:"max-payload"`

	// GCInterval is the cadence of the expired-entry sweep.
	GCInterval time.Duration `mapstructure:"gc-interval"`

	// ConsolidationInterval is the cadence of the background consolidation
	// job.
	ConsolidationInterval time.Duration `mapstructure:"consolidation-interval"`

	// ConsolidationScanLimit bounds how many candidate entries a single
	// consolidation pass examines.
	ConsolidationScanLimit int `mapstructure:"consolidation-scan-limit"`

	// ProposalTimeout is the default voting window of a proposal, used when
	// the caller does not set an explicit deadline.
	ProposalTimeout time.Duration `mapstructure:"proposal-timeout"`

	// ConsensusThreshold is the default agreement ratio a proposal must reach
	// to pass.
	ConsensusThreshold float64 `mapstructure:"threshold"`

	// QuorumFraction is the fraction of eligible agents that must have voted
	// before a proposal can be finalized.
	QuorumFraction float64 `mapstructure:"quorum"`

	// VoteLookback is the number of recent votes per agent kept for
	// behavioural analysis.
	VoteLookback int `mapstructure:"vote-lookback"`

	// FlagDecay is the multiplier applied to an agent's weight and reputation
	// for every behavioural flag raised against it.
	FlagDecay float64 `mapstructure:"flag-decay"`

	// QuarantineFlags is the number of flags after which an agent is
	// quarantined.
	QuarantineFlags int `mapstructure:"quarantine-flags"`

	// ReputationCap is the upper bound on agent weight and reputation.
	ReputationCap float64 `mapstructure:"reputation-cap"`

	// SwarmSize is the number of scripted agents spawned in standalone demo
	// mode.
	SwarmSize int `mapstructure:"swarm-size"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:                DefaultDataDir(),
		LogLevel:               DefaultLogLevel,
		ServiceAddr:            DefaultServiceAddr,
		Store:                  DefaultStore,
		DatabaseDir:            DefaultDatabaseDir(),
		Namespace:              DefaultNamespace,
		CacheSize:              DefaultCacheSize,
		CacheBytes:             DefaultCacheBytes,
		CacheStaleness:         DefaultCacheStaleness,
		MaxPayload:             DefaultMaxPayload,
		GCInterval:             DefaultGCInterval,
		ConsolidationInterval:  DefaultConsolidationInterval,
		ConsolidationScanLimit: DefaultConsolidationScanLimit,
		ProposalTimeout:        DefaultProposalTimeout,
		ConsensusThreshold:     DefaultConsensusThreshold,
		QuorumFraction:         DefaultQuorumFraction,
		VoteLookback:           DefaultVoteLookback,
		FlagDecay:              DefaultFlagDecay,
		QuarantineFlags:        DefaultQuarantineFlags,
		ReputationCap:          DefaultReputationCap,
		SwarmSize:              DefaultSwarmSize,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests. The service is disabled and storage is
// in-memory.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.NoService = true
	config.logger = common.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level Hivemind directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// RosterFile returns the full path of the JSON file containing the
// pre-registered agent population.
func (c *Config) RosterFile() string {
	return filepath.Join(c.DataDir, DefaultRosterFile)
}

// Logger returns a formatted logrus Entry, with prefix set to "hivemind".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "hivemind")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level Hivemind
// config based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Hivemind")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Hivemind")
		} else {
			return filepath.Join(home, ".hivemind")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
