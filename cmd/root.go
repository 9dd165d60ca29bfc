package cmd

import (
	"fmt"
	"os"

	"github.com/datasafe/papl/cmd/eval"
	"github.com/datasafe/papl/cmd/policy"
	"github.com/datasafe/papl/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "papl",
		Short: "versioned policy store",
		Long: fmt.Sprintf(`papl (v%s)

A versioned store for policy documents with Rego evaluation.
Every policy carries a version label and an ordering stamp, policies can be
listed and evicted by stamp ranges.

Flags can also be set as environment variables PAPL_<FLAG> (e.g. PAPL_PATH=policies.db)
or in a .env / .env.local file.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of papl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("papl v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(policy.PolicyCommands)
	RootCmd.AddCommand(eval.EvalCmd)
	RootCmd.AddCommand(statsCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupStoreFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
