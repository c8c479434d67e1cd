// Package bridge moves values between host Go types and guest linear
// memory.
//
// The encoder lowers call arguments into the flat core words a guest
// export takes, staging strings, byte buffers, lists, records, and
// variants in guest memory through the guest's own allocation export.
// The decoder lifts results back out, bounds-checking every
// guest-provided pointer before dereferencing it and copying content so
// lifted values outlive the call.
//
// Ownership is explicit: regions the host stages are tracked in an
// AllocationList and freed by the host after the call; regions the
// guest allocated for its results are collected during decode and
// handed back through the guest's free export.
package bridge
