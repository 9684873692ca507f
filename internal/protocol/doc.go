// Package protocol defines the record frame shared by every partition log:
// record types, value types, intents, typed payloads and the partition-encoded
// key scheme.
//
// Records are immutable once appended. Commands carry the request of a client
// or of an earlier processing step; events describe a state change that has
// already been applied; rejections explain why a command had no effect.
// Every follow-up record points at its cause through SourceRecordPosition.
package protocol
