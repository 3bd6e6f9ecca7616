// Package resolver walks nested configuration data, finds tagged dependency
// descriptors and replaces each with its resolved value. Siblings resolve
// concurrently and a call settles only after every branch has, so a failure
// never leaves work in flight. Descriptors compose: a descriptor argument is
// resolved before the enclosing descriptor dispatches.
package resolver
