// Package sandbox runs untrusted scripts inside a simulated browser global
// environment and reports what they touched.
//
// A Manager owns one goja runtime. Init installs the base global shape
// (console capture, base64, inert timers, a networking stub and the
// window/self/globalThis/global aliases), after which environment stub
// modules are loaded in a fixed category order. Every object a stub leaves
// on the global object is wrapped by a deepproxy.Factory, so reads, writes
// and calls made by executed code are recorded by a proxylog.Logger and
// annotated with the active call chain.
//
// Lifecycle:
//
//	uninitialized -> ready -> (executing)* -> disposed
//
// The manager holds no locks. Callers serialize Execute, Inject and the
// loaders; a timed out run leaves the runtime unusable until Reset.
package sandbox
