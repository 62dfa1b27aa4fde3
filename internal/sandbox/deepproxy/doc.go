/*
Package deepproxy wraps JavaScript objects in recursive interception proxies
that record every property read, write and call into a log.

# Wrapping

Factory.Wrap returns a goja Proxy for any object or function and returns
primitives unchanged. Every target maps to exactly one proxy, which keeps
identity stable for caller code and terminates traversal of cyclic graphs.
Values read through a proxy are wrapped in turn, rooted at the dotted path
they were reached by:

	window.navigator        -> proxy rooted at "window.navigator"
	window.navigator.plugins.item(0)
	                        -> result rooted at "window.navigator.plugins.item()"

The root is fixed when a target is first wrapped. Reaching the same target
later by another path returns the cached proxy with its original root.

Functions become callable proxies. A call pushes a call-chain frame,
consults the mock registry, invokes the real function with the unwrapped
receiver, logs the call and wraps an object result. Errors are logged and
rethrown unchanged.

# Transparency

Symbols and constructor, prototype, __proto__, toJSON, valueOf and toString
are never wrapped or logged. Function proxies answer Symbol.hasInstance with
an ordinary instanceof check against their target, so instanceof works on
proxied constructors. has, ownKeys and getOwnPropertyDescriptor are
left to the engine so that the in operator, Object.keys and descriptor
probes see the real target. Function proxies print as native code through
Function.prototype.toString.

Non-configurable, non-writable data properties are returned raw because
the engine enforces the proxy get invariant on them.
*/
package deepproxy
