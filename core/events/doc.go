// Package events defines the typed inputs the orchestrator consumes.
//
// Event kinds are grouped by source-facing namespaces:
//
//   - user_input.*: text and audio originating from the user.
//   - turn_control.*: requests that steer the conversation itself.
//
// Events carry the timestamp of the moment they entered the system. Derived
// events, like a prompt produced by transcribing an utterance, rebase onto
// the original event so latency can be measured from capture.
package events
