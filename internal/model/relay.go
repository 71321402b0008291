// Package model defines shared types for the relay.
package model

// LookupResult is the outcome of a non-streaming upstream lookup.
// StatusCode and Body are either the upstream's verbatim, or a synthesized
// error status and JSON body when the upstream could not be reached.
type LookupResult struct {
	StatusCode int
	Body       []byte
}
