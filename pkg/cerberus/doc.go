// Package cerberus guards sandbox execution with capability checks.
//
// A Gate is created with the capability set granted to a sandbox at
// creation time; the set is fixed for the sandbox's life and never
// escalated. Check compares a workload's required capabilities against
// the granted set and returns a typed CapabilityError listing what is
// missing. Denials are audited through the hermes logger and counted.
//
// The capability set is a closed enumeration (network, filesystem,
// process creation, syscall, device), so the security-critical check
// stays exhaustively testable.
package cerberus
