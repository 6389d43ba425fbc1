// Package contracts defines the message types exchanged between the
// orchestration core and remote agent capabilities.
//
// Every message carries identity, timestamp, and correlation metadata via
// BaseMessage. Commands target a capability queue, events describe campaign
// lifecycle transitions, and replies close the request/reply loop for
// capability invocations.
package contracts
