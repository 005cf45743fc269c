// Package pipeline translates raw agent run events into normalized domain
// events and delivers them to a client.
//
// # Architecture
//
// A run has one producer and one consumer connected by a Channel:
//
//	engine run events -> Classifier -> Dispatcher (side effects) -> Channel -> NDJSON
//
// The producer is started by Pipeline.Start and runs on a context detached
// from the caller, so a client that disconnects mid-stream does not stop
// side effects such as persisting the assistant message. The producer closes
// the Channel exactly once, on upstream exhaustion, upstream failure or
// panic, so the consumer always terminates.
//
// # Wire format
//
// Each normalized event is one JSON object per line:
//
//	{"name":"AgentChangedEvent","timestamp":1718000000.123,"current_agent":"triage"}
//	{"name":"MessageDeltaEvent","timestamp":1718000000.456,"delta":"Hel"}
//	{"name":"NewMessageEvent","timestamp":1718000001.001,"content":"Hello","think":"plan","agent":"triage"}
//
// The stream ends with the byte stream; there is no trailer record.
package pipeline
