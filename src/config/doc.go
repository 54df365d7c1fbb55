// Package config defines the configuration for a Hivemind instance.
//
// Regardless of how Hivemind is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// configuration options, Hivemind relies on a data directory, defined by
// Config.DataDir, where it expects to find a few additional files:
//
//  agents.json // (optional) a JSON file containing the pre-registered agent population.
//  badger_db/  // (optional) the persistent database, when the store option is enabled.
package config
