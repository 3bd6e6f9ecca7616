// Package engine is the public facade of the runtime. An Engine owns one
// version's component registry, resource loader, dependency resolver,
// instance builder, lifecycle coordinator and named store table, and wires
// them together: the resolver dispatches descriptor operations back into the
// engine, which closes the resolve/build mutual recursion without a package
// cycle. Multiple versions coexist through an explicit Versions table rather
// than ambient globals.
package engine
