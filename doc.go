/*
Package copilotz runs language-model copilots that call external actions and
drive multi-step workflows.

# Concept

A copilot answers each user message through a function-call loop. The model
receives a system prompt listing the available actions and replies with a JSON
answer holding a message and the functions it wants to call. The loop repairs
and validates the answer, dispatches the calls concurrently and feeds the
results back to the model until it stops calling functions.

Actions come from three dialects: OpenAPI 3 documents (one action per
operation), JSON-Schema declarations and the compact short-schema notation,
both bound to native modules or webhooks.

Workflows add persistent, per-thread task state on top of the loop. The model
starts a task with createTask and moves it along its steps with submit,
changeStep, cancelTask and setState. Each step contributes its instructions and
scoped actions to the prompt.

Every copilot registers the intent.classify native module, which asks the
model which category a message belongs to. With a knowledge index
(WithKnowledge) it also registers rag.search and rag.save, which look up and
store embedded text fragments.

# Architecture

The library follows a hexagonal layout. pkg/domain holds the pure types,
pkg/ports the driven interfaces (chat model, task and log stores, locks) and
pkg/adapters their implementations (memory, file, sqlite, redis, openai).
Task stores can be wrapped with pkg/persistence/middleware to mask or encrypt
task state, and pkg/adapters/mcp exposes a copilot as an MCP server. The
function-call loop lives in internal/runtime and the workflow state machine in
internal/workflow; this package wires them together.

# Usage

	chat := openai.New(os.Getenv("OPENAI_API_KEY"))

	copilot, err := copilotz.New(ctx, chat,
		copilotz.WithPersona(copilotz.Persona{Name: "Ana", Job: "answer support questions"}),
		copilotz.WithTools(actions.Tool{
			Name:     "echo",
			SpecType: actions.SpecShortSchema,
			Source:   actions.Native{Name: "echo"},
			Schema:   map[string]any{"message": "string!"},
		}),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer copilot.Close(ctx)

	res, err := copilot.Chat(ctx, copilotz.Message{ThreadID: "user-42", Text: "hello"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Message)

Copilots can also be declared in YAML or JSON files, see pkg/config and
FromConfig.
*/
package copilotz
