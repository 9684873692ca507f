// Package engine runs partitions and connects clients to them.
//
// ARCHITECTURE:
//
// Partition:
// A partition owns one SQLite log, the state derived from it and a stream
// processor. All state mutation happens in the partition's processing loop,
// one command at a time:
// 1. A client appends a command to the log
// 2. The log signals its subscribers
// 3. Partition.Run wakes and processes every unread command
// 4. Each command's follow-up records are appended in one batch
// 5. Listeners observe the committed batch
//
// Recovery:
// OpenPartition restores the newest verified snapshot and replays every
// later event. The last processed command is recovered from the sources of
// events and rejections, so commands are never processed twice.
//
// Broker:
// The broker runs N partitions in parallel. Keys encode their partition, so
// commands on existing entities route by key; new process instances and
// standalone jobs are spread round-robin. Deployments and messages go to
// every partition.
//
// Client:
// The client stamps each command with a UUIDv7 request id and waits for
// the response record carrying the same id: the first event of the batch,
// or the rejection.
package engine
