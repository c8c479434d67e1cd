// Package schema models the language-neutral interface contract a
// guest module must satisfy: function signatures over a portable value
// model, their fixed byte layouts, and their flattened core-ABI
// shapes.
//
// Validate compares a schema against a guest's declared exports and
// produces a BindingTable; the table is immutable and shared read-only
// across all instances of the module.
package schema
