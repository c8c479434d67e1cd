// Package errors provides structured fault types for the component
// host runtime.
//
// Every fault is classified along two axes: the Phase it occurred in
// (validate, encode, call, ...) and its Kind (schema_mismatch,
// instance_busy, budget_exceeded, ...). Faults carry the function name
// and the limit or value that tripped them, so any failure observed in
// production can be reproduced in a test.
//
// Matching uses the standard errors.Is with partial templates:
//
//	if errors.Is(err, &hosterrors.Error{Kind: hosterrors.KindBusy}) {
//	    // retry on another instance
//	}
package errors
