// Package timeouts defines shared timeout constants used across the bridge.
// Centralizing these values keeps the kernel client, the launcher and the
// MCP transports in agreement.
package timeouts

import "time"

// KernelConnect caps dialing the kernel sockets plus the kernel_info handshake.
const KernelConnect = 10 * time.Second

// KernelExecute caps a blocking execute_request round trip.
const KernelExecute = 30 * time.Second

// KernelStart caps the readiness wait after launching a kernel process.
const KernelStart = 30 * time.Second

// KernelRequest caps short control requests such as interrupts and heartbeats.
const KernelRequest = 5 * time.Second

// KernelOccupiedProbe caps the heartbeat check for a kernel already serving
// a descriptor's ports before another one is launched on them.
const KernelOccupiedProbe = 500 * time.Millisecond

// KernelReadyPoll is the interval between readiness probes of a starting kernel.
const KernelReadyPoll = 250 * time.Millisecond

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
