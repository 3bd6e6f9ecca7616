// Package surface is the rendering-scope collaborator consumed by the
// runtime: element creation, encapsulated child scopes, attachment to the
// visible tree, attribute observation and per-scope stylesheet links.
//
// The implementation is headless. It models the contract the runtime needs
// (including the off-screen anchor used while a detached container's
// dependencies resolve) without binding to any particular display system; a
// real host embeds or replaces it.
package surface
