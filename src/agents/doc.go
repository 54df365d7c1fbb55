// Package agents defines the concept of a Hivemind agent and implements the
// reputation ledger that tracks the population.
//
// An agent is an entity that reads and writes the shared memory and takes
// part in consensus. Each agent carries a vote weight and a reputation score,
// both starting at 1.0. When a proposal is finalized, agents that voted with
// the majority gain a little of both, agents that voted against lose a
// little. Behavioural flags raised by the consensus engine decay weight and
// reputation faster, and enough flags place the agent in quarantine: it stays
// registered, its votes are still recorded, but they carry no weight and it
// no longer counts towards quorum. Quarantine is permanent.
//
// The Registry owns every mutation of agent state. Other components operate
// on snapshots, so a stale read is possible but a torn one is not.
//
// Upon starting up, Hivemind looks for an optional agents.json file in its
// data directory, holding a pre-registered population. Runtime registrations
// and state changes are persisted through the store when one is configured.
package agents
