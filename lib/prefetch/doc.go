/*
Package prefetch warms the pages backing a list of values.

Prefetch opens a throwaway read transaction, positions a cursor on each key
and reads one byte per 4 KiB page of the value (and of every duplicate in
duplicate-key databases). On memory mapped engines this moves the page faults
off the latency-sensitive read path. Nothing is written and missing keys are
skipped.

A Pool runs prefetches with bounded concurrency, either on the calling
goroutine (Run) or in the background (Go).
*/
package prefetch
