// Package engine executes guest modules on wazero.
//
// An Engine owns one wazero runtime with the sandbox limits baked into
// its configuration: linear memory capped in pages, and call contexts
// wired so deadline expiry closes the running instance. Compiled
// modules expose their exports in core-type terms for schema
// validation, and instances discover the guest's memory and allocation
// exports at instantiation, accepting both Canonical ABI names
// (cabi_realloc, cabi_free) and pre-standardization fallbacks.
//
// Execution budgets are enforced by a function listener compiled into
// every module: each guest function entry consumes one step from the
// call's Meter and checks the depth cap, and exhaustion closes the
// instance mid-call. The aborted call surfaces a sys.ExitError that
// IsBudgetExceeded, IsDepthExceeded, and IsDeadline classify.
package engine
