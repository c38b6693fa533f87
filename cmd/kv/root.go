package kv

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ValentinKolb/txKV/cmd/util"
	"github.com/ValentinKolb/txKV/lib/env"
)

var (
	txEnv *env.Environment
	txDB  *env.Database

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform key-value operations on a local environment",
		PersistentPreRunE:  setupDatabase,
		PersistentPostRunE: closeEnvironment,
	}
)

func init() {
	key := "db"
	KeyValueCommands.PersistentFlags().String(key, "", util.WrapString("Name of the database to use (empty for the main database)"))
	key = "create"
	KeyValueCommands.PersistentFlags().Bool(key, true, util.WrapString("Create the database if it does not exist"))
	key = "key-type"
	KeyValueCommands.PersistentFlags().String(key, "binary", util.WrapString("How keys are interpreted (binary, string, uint32). uint32 keys are given as decimal numbers"))
	key = "dupsort"
	KeyValueCommands.PersistentFlags().Bool(key, false, util.WrapString("Allow several sorted values per key"))
	key = "versions"
	KeyValueCommands.PersistentFlags().Bool(key, false, util.WrapString("Store a version with every value"))
	key = "db-compression"
	KeyValueCommands.PersistentFlags().Bool(key, true, util.WrapString("Compress values of this database with the environment codec (requires --compression)"))

	// Add subcommands
	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(dropCmd)
	KeyValueCommands.AddCommand(rangeCmd)
	KeyValueCommands.AddCommand(statCmd)
	KeyValueCommands.AddCommand(prefetchCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupDatabase opens the environment and the selected database
func setupDatabase(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	opts, err := getDBOptions()
	if err != nil {
		return err
	}

	if txEnv, err = util.OpenEnvironment(); err != nil {
		return err
	}
	if txDB, err = txEnv.OpenDB(context.Background(), viper.GetString("db"), opts); err != nil {
		_ = txEnv.Close()
		return err
	}
	return nil
}

func closeEnvironment(_ *cobra.Command, _ []string) error {
	if txEnv == nil {
		return nil
	}
	return txEnv.Close()
}

func getDBOptions() (env.DBOptions, error) {
	opts := env.DBOptions{
		Create:   viper.GetBool("create"),
		DupSort:  viper.GetBool("dupsort"),
		Versions: viper.GetBool("versions"),
	}
	// duplicate-key databases store values verbatim
	opts.Compression = viper.GetBool("db-compression") && viper.GetString("compression") != "none" && !opts.DupSort

	switch kt := viper.GetString("key-type"); kt {
	case "binary":
		opts.KeyType = env.KeyBinary
	case "string":
		opts.KeyType = env.KeyString
	case "uint32":
		opts.KeyType = env.KeyUint32
	default:
		return opts, fmt.Errorf("invalid key type %s", kt)
	}
	return opts, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseKey converts a command line key to the database's key encoding
func parseKey(s string) ([]byte, error) {
	if txDB.Options().KeyType != env.KeyUint32 {
		return []byte(s), nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("key must be a uint32: %w", err)
	}
	return env.Uint32Key(uint32(n)), nil
}

// formatKey is the inverse of parseKey
func formatKey(key []byte) string {
	if txDB.Options().KeyType == env.KeyUint32 {
		if n, err := env.DecodeUint32Key(key); err == nil {
			return strconv.FormatUint(uint64(n), 10)
		}
	}
	return string(key)
}
