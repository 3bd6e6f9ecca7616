// Package component holds the runtime's data model: versioned component
// definitions, live instances with their capability hooks, and lazy proxy
// placeholders. It carries no behavior beyond state bookkeeping; the
// registry, builder and lifecycle packages drive these types.
package component
