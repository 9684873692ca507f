// Package bpmn executes process instances: tokens move through element
// lifecycles, gateways pick flows by condition, service tasks wait on jobs,
// catch events wait on messages and call activities wait on child
// instances.
//
// A step that cannot proceed leaves its token in the lifecycle state it
// reached and raises an incident through the incident Reporter. Resolving
// the incident re-enters the same step:
//
//	ELEMENT_ACTIVATING  input mappings, correlation key, called process
//	GATEWAY_ACTIVATED   condition evaluation
//	ELEMENT_COMPLETING  output mappings
package bpmn
