// Package incident implements the incident lifecycle of a partition.
//
// An incident records that one execution step cannot proceed until an
// operator fixes its cause. Collaborators raise incidents through a
// Reporter, which writes INCIDENT CREATE commands sourced at the failing
// record. The Processor handles the INCIDENT commands:
//
//   - CREATE validates the failing job or element instance and opens at most
//     one incident per element instance and per job.
//   - RESOLVE re-attempts the failed step. Success emits RESOLVED and
//     continues execution from the same command. Failure emits
//     RESOLVE_FAILED and keeps the incident, with its key, open for another
//     attempt.
//   - DELETE removes an incident on operator request.
//
// Termination of the owning scope closes the incident with a DELETED event
// sourced at the termination record, without re-attempting the step.
package incident
