// Package util holds small building blocks shared by the txKV packages:
//
//   - Queue: an unbounded lock-free multi-producer single-consumer queue. The
//     write scheduler uses it as its submission queue.
//   - SizeHistogram and Stats: cheap size and latency summaries used for
//     metrics and by the perf command.
//   - HashBytes: seeded FNV-1a hashing, used to derive compression
//     dictionary ids.
package util
