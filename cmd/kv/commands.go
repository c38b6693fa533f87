package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ValentinKolb/txKV/lib/env"
	"github.com/ValentinKolb/txKV/lib/instruction"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Stores the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0])
			if err != nil {
				return err
			}
			value := []byte(args[1])

			b := txDB.NewBatch()
			if cmd.Flags().Changed("if-version") {
				expected, _ := cmd.Flags().GetUint64("if-version")
				err = b.PutIfVersion(key, value, expected)
			} else {
				err = b.Put(key, value)
			}
			if err != nil {
				return err
			}
			if sync, _ := cmd.Flags().GetBool("sync"); sync {
				if err := b.Sync(); err != nil {
					return err
				}
			}

			results, err := txDB.Write(context.Background(), b)
			if err != nil {
				return err
			}
			switch res := results[0]; res.Status {
			case instruction.StatusOK:
				fmt.Printf("put successfully (version=%d)\n", res.Version)
			case instruction.StatusConditionFailed:
				fmt.Println("version mismatch, nothing written")
			default:
				return res.Err
			}
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0])
			if err != nil {
				return err
			}
			if e, ok, err := txDB.Get(key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%v, version=%d, compressed=%t, value=%s\n", args[0], ok, e.Version, e.Compressed, e.Value)
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key] [value]",
		Short: "Deletes a key, or one value of a duplicate key",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[0])
			if err != nil {
				return err
			}
			b := txDB.NewBatch()
			if len(args) == 2 {
				err = b.DeleteValue(key, []byte(args[1]))
			} else {
				err = b.Delete(key)
			}
			if err != nil {
				return err
			}

			results, err := txDB.Write(context.Background(), b)
			if err != nil {
				return err
			}
			switch res := results[0]; res.Status {
			case instruction.StatusOK:
				fmt.Println("delete successfully")
			case instruction.StatusNotFound:
				fmt.Printf("key=%s, found=false\n", args[0])
			default:
				return res.Err
			}
			return nil
		},
	}
	dropCmd = &cobra.Command{
		Use:   "drop",
		Short: "Empties the database, or deletes it with --delete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			del, _ := cmd.Flags().GetBool("delete")
			if err := txDB.Drop(context.Background(), del); err != nil {
				return err
			}
			fmt.Println("drop successfully")
			return nil
		},
	}
	rangeCmd = &cobra.Command{
		Use:   "range [start] [end]",
		Short: "Lists the entries with start <= key < end",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var start, end []byte
			var err error
			if len(args) > 0 && args[0] != "" {
				if start, err = parseKey(args[0]); err != nil {
					return err
				}
			}
			if len(args) > 1 && args[1] != "" {
				if end, err = parseKey(args[1]); err != nil {
					return err
				}
			}

			limit, _ := cmd.Flags().GetInt("limit")
			count := 0
			err = txDB.Range(start, end, func(key []byte, e env.Entry) error {
				if limit > 0 && count >= limit {
					return errLimit
				}
				count++
				fmt.Printf("%s\t%d\t%s\n", formatKey(key), e.Version, e.Value)
				return nil
			})
			if err != nil && !errors.Is(err, errLimit) {
				return err
			}
			fmt.Printf("(%d entries)\n", count)
			return nil
		},
	}
	statCmd = &cobra.Command{
		Use:   "stat",
		Short: "Prints statistics of the environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := txEnv.Stat()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(stats); err != nil {
				return err
			}
			if metrics, _ := cmd.Flags().GetBool("metrics"); metrics {
				fmt.Println()
				txEnv.WriteMetrics(os.Stdout)
			}
			return nil
		},
	}
	prefetchCmd = &cobra.Command{
		Use:   "prefetch [keys...]",
		Short: "Faults in the pages holding the values of keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := make([][]byte, 0, len(args))
			for _, arg := range args {
				key, err := parseKey(arg)
				if err != nil {
					return err
				}
				keys = append(keys, key)
			}

			var effect uint64
			var err error
			if async, _ := cmd.Flags().GetBool("async"); async {
				res := <-txDB.PrefetchAsync(context.Background(), keys...)
				effect, err = res.Effect, res.Err
			} else {
				effect, err = txDB.Prefetch(context.Background(), keys...)
			}
			if err != nil {
				return err
			}
			fmt.Printf("prefetched keys=%d, effect=%d\n", len(keys), effect)
			return nil
		},
	}
)

var errLimit = errors.New("limit reached")

func init() {
	putCmd.Flags().Uint64("if-version", 0, "Only write if the stored version matches (0 = key must not exist)")
	putCmd.Flags().Bool("sync", false, "Flush the engine to disk before returning")
	dropCmd.Flags().Bool("delete", false, "Delete the database instead of emptying it")
	rangeCmd.Flags().Int("limit", 0, "Maximum number of entries to print (0 = all)")
	statCmd.Flags().Bool("metrics", false, "Also print the metrics in Prometheus text format")
	prefetchCmd.Flags().Bool("async", false, "Run the prefetch on the environment's worker pool")
}
