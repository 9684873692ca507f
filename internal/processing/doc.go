// Package processing implements the stream processor of a partition.
//
// The processor reads the partition log in position order and hands every
// COMMAND to exactly one handler, chosen by (value type, intent). EVENT and
// COMMAND_REJECTION records are skipped: events were already applied to state
// when they were written, and rejections carry no state.
//
// Processing one command:
//
//  1. Begin a state transaction.
//  2. Invoke the handler with a fresh Writers buffer. Every event written
//     through Writers is applied to state immediately, so later steps of the
//     same handler observe it.
//  3. On success, append the buffered batch (retrying on back-pressure) and
//     commit the state journal.
//  4. On a RejectionError, roll back and append only a COMMAND_REJECTION.
//     Any other handler error is rolled back and rejected as
//     PROCESSING_ERROR.
//
// A command without a registered handler, or a batch the log refuses for
// good, stops the processor with an error.
//
// The processor is single-threaded. It must only be driven from the
// goroutine that owns the partition state.
package processing
