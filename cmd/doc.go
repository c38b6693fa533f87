// Package cmd implements the command-line interface for the txKV key-value
// store. It opens a local environment and exposes its operations as commands.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for key-value operations (put, get, del, range, etc.) and
//     the writer benchmark
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through an environment variable of the form
// TXKV_<FLAG> (e.g. TXKV_MAP_SIZE=2048), or in a .env file.
//
// See txkv -help for a list of all commands.
package cmd
