/*
Package writer implements the write transaction scheduler.

A Writer owns the only write transaction of an engine. Callers fill an
instruction.Buffer and submit it; a single background goroutine reads the
queued buffers in order and applies their instructions to one open
transaction, batching the work of many submissions into one commit.

# States

	Idle -> BatchInProgress -> (AwaitingMoreWork) -> Committing -> Idle
	                       \-> Interrupted -> BatchInProgress   (restart signal)
	                       \-> FinishedWithError -> Idle        (fatal error)

A batch commits when its submissions are exhausted and no more work arrives
within MaxBatchWait, when an interrupt or allow-commit signal is seen, when it
reaches MaxBatchSize instructions, or at a sync marker. Interrupted
submissions continue in the next batch.

# Errors

Errors that only concern one instruction (key too large, key exists, a
failed version condition) are reported in that instruction's result. Errors
that leave the transaction unusable (map full, corrupted transaction) and
malformed buffers abort the batch and fail every instruction of it that was
not final yet. A failed commit fails every applied instruction with the
commit error.
*/
package writer
