package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ValentinKolb/txKV/cmd/kv"
	"github.com/ValentinKolb/txKV/cmd/util"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "txkv",
		Short: "transactional key-value store",
		Long: fmt.Sprintf(`txKV (v%s)

An embedded key-value store library written in Go. Writes of many callers
are batched into shared transactions by a single writer, reads go through a
lazily renewed snapshot.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of txKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("txKV v%s\n", Version)
		},
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupEnvironmentFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
