// Package ws streams reconfiguration status over WebSocket.
//
// Hub sends the current types.Status to each client on connect, on every
// tick of Run and whenever Notify is called (the server notifies on
// listener transitions, backend swaps and log tail restarts).
//
// Message format:
//
//	{
//	  "event": "status" | "listener" | "backend" | "tail",
//	  "data":  { /* same schema as GET /_sofa/status */ }
//	}
//
// The endpoint is mounted at /_sofa/stream.
package ws
