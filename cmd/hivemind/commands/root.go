package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for Hivemind
var RootCmd = &cobra.Command{
	Use:              "hivemind",
	Short:            "collective memory and consensus",
	TraverseChildren: true,
}
