/*
Package session serializes turns per conversation thread.

A Manager hands out one in-process mutex per thread, reference counted so
idle threads do not leak locks, and optionally takes a distributed lock so
replicas sharing a store never run two turns of the same thread at once.
*/
package session
