/*
Package ports defines the driven ports (interfaces) of the copilot runtime.

These interfaces decouple the function-call loop and the task state machine
from the model provider, storage backends and lock services.

# Key Interfaces

  - ChatExecutor: sends one prompt to a language model and returns its answer.
  - Transcriber: turns audio input into text before a turn runs.
  - Embedder: turns text into a vector for knowledge search.
  - TaskStore: persists workflow tasks, at most one active task per thread.
  - LogStore: persists turn log records used to rebuild thread history.
  - LogRecorder: accepts log records for (possibly asynchronous) persistence.
  - DistributedLocker: serializes turns on the same thread across replicas.
*/
package ports
