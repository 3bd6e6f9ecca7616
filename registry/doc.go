// Package registry stores versioned component definitions. Registration is
// idempotent: the first registration under an index fixes the component's
// identity, runs its one-time setup hook, seeds its instance counter and
// publishes its declarative binding; every registration after that returns
// an independent defensive copy of the cached definition. Definitions
// declaring a different runtime version are delegated to that version's
// engine and stay bound to it.
package registry
