// Package launcher starts kernel processes for the bridge and waits for
// them to answer heartbeats.
//
// Launched kernels run in their own process group and outlive the bridge.
// A launch that fails at any point has its whole group killed.
package launcher
