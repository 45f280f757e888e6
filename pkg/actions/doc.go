// Package actions turns declared tools into callable actions.
//
// A Tool names a spec dialect and a source. Build resolves a list of tools
// into a flat Set keyed by action name:
//
//   - openapi3: one action per operation, named "<tool>.<operationId>",
//     invoked over HTTP against servers[0].url.
//   - json-schema: one action named after the tool, arguments checked by a
//     compiled JSON Schema before the bound module runs.
//   - short-schema: one action named after the tool, arguments checked
//     against the compact native notation.
//
// Every action carries a one-line Spec for prompts and an Invoke function.
// Results may carry binary payloads under the reserved "__media__" key;
// SplitMedia separates them from the rest of the result.
package actions
