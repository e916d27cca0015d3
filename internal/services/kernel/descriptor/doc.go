// Package descriptor loads and validates kernel connection descriptors, the
// JSON files that tell a client where a Jupyter kernel listens and how its
// messages are signed.
//
// A descriptor is resolved from, in order: an explicit path, the path named
// by IPYTHON_MCP_CONNECTION, or the default descriptor embedded in the binary.
// The embedded default uses fixed local ports and a published key; it exists
// for single-user convenience on a trusted machine.
package descriptor
