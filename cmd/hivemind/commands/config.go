package commands

import (
	"github.com/swarmworks/hivemind/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Hivemind   config.Config `mapstructure:",squash"`
	Standalone bool          `mapstructure:"standalone"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Hivemind:   *config.NewDefaultConfig(),
		Standalone: false,
	}
}
