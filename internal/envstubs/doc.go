// Package envstubs is the catalogue of environment stub modules: scripts
// that build the simulated browser surface (navigator, document, storage,
// timers, ...) inside a sandbox.
//
// Defaults are embedded in the binary. An operator directory overlays
// them; a file on disk replaces the embedded module with the same
// identifier. Identifiers are slash paths of the form "category/name.js"
// and modules load category by category in a fixed order, with the
// operator patches under ai-generated/ last so they can override anything.
package envstubs
