// Package host runs guest wasm modules behind a typed interface
// schema under an explicit resource policy.
//
// A Runtime owns the engine, a validated-module cache keyed by content
// hash and schema fingerprint, and the global concurrency ceiling.
// Load compiles bytes and proves every schema function has a
// compatible export before any instance exists; Invoke runs a call on
// a pooled instance.
//
// Instances are single-flight: a call against an executing instance is
// rejected with an instance-busy fault, never queued. Execution faults
// poison the instance permanently, and the pool replaces poisoned
// instances on return. Per-call limits come from Config: a step budget
// metered at guest call boundaries, a call depth cap, and a wall-clock
// timeout backstop.
package host
