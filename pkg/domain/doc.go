/*
Package domain contains the core domain models of the copilotz agent runtime.
It defines the entities shared by the function-call loop and the task state
machine. This package is kept pure and free of external dependencies like I/O
or persistence, following Hexagonal Architecture principles.

# Key Entities

  - Message: One entry of a thread log (user, assistant or system).
  - FunctionCall: A function requested by the model, mutated in place during dispatch.
  - Task: The persistent per-thread progress marker through a Workflow.
  - Workflow / Step: The linked chain of instruction-bearing steps a Task traverses.
  - LogRecord: The persisted outcome of a turn, replayed as history on the next turn.
*/
package domain
