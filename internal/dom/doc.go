// Package dom backs the simulated document with a real parsed HTML tree.
//
// A Document is parsed once from seed HTML and then queried and mutated
// through integer handles, which is how the sandboxed document stub refers
// to nodes. CSS selectors go through goquery/cascadia, XPath through
// htmlquery, and every mutation is recorded as a Change.
package dom
