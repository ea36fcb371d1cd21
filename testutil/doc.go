// Package testutil provides shared helpers and fixtures for tests: bounded
// test contexts and deterministic PNG payloads large enough to pass the
// pipeline's minimum-size guard.
package testutil
