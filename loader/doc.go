// Package loader loads heterogeneous external resources under an explicit
// serial/parallel combinator.
//
// Each Load call takes a variadic list of entries: URL strings, resource
// records, *Request values, or nested lists. Top-level entries launch
// concurrently; a list one level deep runs serially; a list nested one level
// further runs in parallel again, alternating with depth. Results come back
// at their original positional index no matter the completion order, a
// failure never aborts sibling resources, and the call settles only once
// every entry has.
//
// The loading strategy per resource follows an explicit type hint, or else
// the URL's file suffix; unrecognized suffixes load as a structured-data
// exchange.
package loader
