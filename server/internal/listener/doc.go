// Package listener owns the server's single HTTP socket.
//
// A Listener moves through Stopped, Starting, Listening and Draining. Listen,
// Kill and Rebind are queued and run one cycle at a time, so at most one
// socket is ever bound and a rebind always finishes draining the old socket
// before binding the new one. Draining uses http.Server.Shutdown so requests
// already in flight, including the config write that triggered the rebind,
// complete normally.
//
// Before each bind the listener waits for the log tail to be ready. A bind
// failure stops the tail first and then reports on the console:
// address-in-use is never fatal and suggests the next port, any other error
// is reported as fatal and, under PolicyExit, ends the process.
package listener
