// Package auth provides the admin key middleware for sofa-server.
//
// APIKey(header, key) returns gin middleware validating the named request
// header. It guards writes to /_config, which reconfigure the running
// server. With key == "" all requests pass through, which is the default
// for local development.
package auth
