package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/swarmworks/hivemind/src/dummy"
	"github.com/swarmworks/hivemind/src/hivemind"
)

//NewRunCmd returns the command that starts a Hivemind instance
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runHivemind,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runHivemind(cmd *cobra.Command, args []string) error {
	engine := hivemind.NewHivemind(&_config.Hivemind)

	if err := engine.Init(); err != nil {
		_config.Hivemind.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	engine.Run()

	if _config.Standalone {
		swarm := dummy.NewSwarm(engine, _config.Hivemind.SwarmSize, _config.Hivemind.Logger())

		if _, err := swarm.Run(); err != nil {
			_config.Hivemind.Logger().Error("Swarm run failed:", err)
		}
	}

	//Wait for an interrupt before shutting down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	engine.Shutdown()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.Hivemind.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Hivemind.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Hivemind.Moniker, "Optional name")

	// Service
	cmd.Flags().Bool("no-service", _config.Hivemind.NoService, "Disable the HTTP API service")
	cmd.Flags().StringP("service-listen", "s", _config.Hivemind.ServiceAddr, "Listen IP:Port for HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Hivemind.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.Hivemind.DatabaseDir, "Database directory")
	cmd.Flags().Bool("bootstrap", _config.Hivemind.Bootstrap, "Reload agents from an existing database")

	// Memory
	cmd.Flags().String("namespace", _config.Hivemind.Namespace, "Default namespace")
	cmd.Flags().Int("cache-size", _config.Hivemind.CacheSize, "Max number of entries in the hot cache")
	cmd.Flags().Int("cache-bytes", _config.Hivemind.CacheBytes, "Max aggregate bytes in the hot cache")
	cmd.Flags().Duration("cache-staleness", _config.Hivemind.CacheStaleness, "Idle time before cache eviction")
	cmd.Flags().Int("max-payload", _config.Hivemind.MaxPayload, "Max entry payload size in bytes")
	cmd.Flags().Duration("gc-interval", _config.Hivemind.GCInterval, "Time between expired-entry sweeps")
	cmd.Flags().Duration("consolidation-interval", _config.Hivemind.ConsolidationInterval, "Time between consolidation passes")
	cmd.Flags().Int("consolidation-scan-limit", _config.Hivemind.ConsolidationScanLimit, "Max candidate entries per consolidation pass")

	// Consensus
	cmd.Flags().DurationP("proposal-timeout", "t", _config.Hivemind.ProposalTimeout, "Default proposal voting window")
	cmd.Flags().Float64("threshold", _config.Hivemind.ConsensusThreshold, "Default agreement threshold")
	cmd.Flags().Float64("quorum", _config.Hivemind.QuorumFraction, "Participation floor for finalize")
	cmd.Flags().Int("vote-lookback", _config.Hivemind.VoteLookback, "Number of recent votes kept per agent")
	cmd.Flags().Float64("flag-decay", _config.Hivemind.FlagDecay, "Weight and reputation multiplier per flag")
	cmd.Flags().Int("quarantine-flags", _config.Hivemind.QuarantineFlags, "Number of flags before quarantine")
	cmd.Flags().Float64("reputation-cap", _config.Hivemind.ReputationCap, "Upper bound on weight and reputation")

	// Standalone demo
	cmd.Flags().Bool("standalone", _config.Standalone, "Run a scripted demo swarm")
	cmd.Flags().Int("swarm-size", _config.Hivemind.SwarmSize, "Number of scripted demo agents")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Hivemind.SetDataDir(_config.Hivemind.DataDir)

	logger := _config.Hivemind.Logger()
	addLogFileHooks(logger.Logger)

	logFields := logrus.Fields{
		"hivemind.DataDir":                _config.Hivemind.DataDir,
		"hivemind.ServiceAddr":            _config.Hivemind.ServiceAddr,
		"hivemind.NoService":              _config.Hivemind.NoService,
		"hivemind.Store":                  _config.Hivemind.Store,
		"hivemind.LogLevel":               _config.Hivemind.LogLevel,
		"hivemind.Moniker":                _config.Hivemind.Moniker,
		"hivemind.Namespace":              _config.Hivemind.Namespace,
		"hivemind.CacheSize":              _config.Hivemind.CacheSize,
		"hivemind.CacheBytes":             _config.Hivemind.CacheBytes,
		"hivemind.MaxPayload":             _config.Hivemind.MaxPayload,
		"hivemind.GCInterval":             _config.Hivemind.GCInterval,
		"hivemind.ConsolidationInterval":  _config.Hivemind.ConsolidationInterval,
		"hivemind.ProposalTimeout":        _config.Hivemind.ProposalTimeout,
		"hivemind.ConsensusThreshold":     _config.Hivemind.ConsensusThreshold,
		"hivemind.QuorumFraction":         _config.Hivemind.QuorumFraction,
		"Standalone":                      _config.Standalone,
	}

	if _config.Hivemind.Store {
		logFields["hivemind.DatabaseDir"] = _config.Hivemind.DatabaseDir
		logFields["hivemind.Bootstrap"] = _config.Hivemind.Bootstrap
	}

	logger.WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/hivemind.toml (.json, .yaml also work)
	viper.SetConfigName("hivemind")               // name of config file (without extension)
	viper.AddConfigPath(_config.Hivemind.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Hivemind.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Hivemind.Logger().Debugf("No config file found in: %s", _config.Hivemind.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

// addLogFileHooks mirrors info and debug output to per-level log files in
// the working directory. A file that cannot be opened is skipped.
func addLogFileHooks(logger *logrus.Logger) {
	pathMap := lfshook.PathMap{}

	if _, err := os.OpenFile("hivemind_info.log", os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open hivemind_info.log file, using default stderr")
	} else {
		pathMap[logrus.InfoLevel] = "hivemind_info.log"
	}

	if _, err := os.OpenFile("hivemind_debug.log", os.O_CREATE|os.O_WRONLY, 0666); err != nil {
		logger.Info("Failed to open hivemind_debug.log file, using default stderr")
	} else {
		pathMap[logrus.DebugLevel] = "hivemind_debug.log"
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}
