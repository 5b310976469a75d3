// Package client talks to a running sofa-server over HTTP: the welcome
// document, /_config reads and writes, /_sofa/status and the raw
// /_sofa/metrics exposition.
package client
