// Package paird issues one-time pairing credentials for a
// messaging-protocol client, persists the resulting session material
// through a uniform storage-adapter contract, archives finalized
// sessions to durable stores, and guarantees that at most one pairing
// flow runs per process at a time.
package paird
