/*
Package observability turns runtime lifecycle events into Prometheus metrics
and structured log lines.

Both are exposed as domain.LifecycleHooks, so they plug into the engine and the
workflow machine through their WithLifecycleHooks options and can be combined
with LifecycleHooks.Merge.
*/
package observability
