// Package job handles the job lifecycle: standalone job creation, batch
// activation, completion, failure, retry updates, thrown errors and
// cancellation. Jobs that run out of retries, throw an uncaught error or
// are too large to hand to a worker raise incidents through the incident
// Reporter.
package job
