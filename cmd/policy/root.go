package policy

import (
	"github.com/datasafe/papl/cmd/util"
	"github.com/datasafe/papl/lib/store"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var (
	plog = logger.GetLogger("cli")

	policyStore store.IStore

	// PolicyCommands represents the policy command group
	PolicyCommands = &cobra.Command{
		Use:                "policy",
		Short:              "Manage the policies in the store",
		PersistentPreRunE:  setupStore,
		PersistentPostRunE: closeStore,
	}
)

func init() {
	// Add subcommands
	PolicyCommands.AddCommand(saveCmd)
	PolicyCommands.AddCommand(getCmd)
	PolicyCommands.AddCommand(versionCmd)
	PolicyCommands.AddCommand(showCmd)
	PolicyCommands.AddCommand(delCmd)
	PolicyCommands.AddCommand(keysCmd)
	PolicyCommands.AddCommand(evictCmd)
	PolicyCommands.AddCommand(countCmd)
	PolicyCommands.AddCommand(infoCmd)
	PolicyCommands.AddCommand(exportCmd)
	PolicyCommands.AddCommand(importCmd)
	PolicyCommands.AddCommand(perfTestCmd)
}

// setupStore opens the store configured by flags and environment
func setupStore(cmd *cobra.Command, _ []string) error {
	s, err := util.SetupStore(cmd)
	if err != nil {
		return err
	}
	policyStore = s
	return nil
}

// closeStore releases the store after a successful command
func closeStore(_ *cobra.Command, _ []string) error {
	if policyStore == nil {
		return nil
	}
	err := policyStore.Close()
	policyStore = nil
	return err
}
