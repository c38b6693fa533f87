/*
Package env coordinates the handles on a storage environment.

A Registry maps storage paths to environment cores. Every Environment handle
opened on the same path shares one engine, one writer.Writer and one catalog
of named databases; the core is closed with its last handle.

Reads go through a shared read-only transaction that is renewed lazily after
every commit, so point reads neither begin a transaction nor block the
writer. The writer resets that transaction before each commit. Read
transactions with a stable snapshot are available through BeginRead.

Writes are submitted as a Batch per database (Database.Write), as single
operations (Database.Put, Database.Delete) or as a function running in a
write transaction of its own (Environment.Update). Values can be compressed
with a codec.Codec and stamped with a version that conditional writes check.

Deleting a database with Database.Drop closes every handle on it once the
drop is committed; opening the name again yields a new database.
*/
package env
