// Package service wires protocol transport to the kernel bridge.
//
// It is the transport adapter layer: the package knows how to run MCP over stdio
// or HTTP and delegates kernel semantics to the handlers in the domain package.
package service
