/*
Package dsl provides a fluent builder for workflows.

It is an alternative to declaring workflows in configuration files, useful
for tests and for workflows generated at runtime.

Example usage:

	b := dsl.New("onboarding").
		Describe("Registers a new customer").
		Instructions("Keep the customer informed of the current step.")

	b.Step("collect").
		Instructions("Ask for the customer's name and e-mail.").
		SubmitWhen("both fields are known").
		OnSubmit("crm.save").
		Go("confirm").
		Fail("collect")

	b.Step("confirm").
		Instructions("Read the data back and ask for confirmation.").
		Terminal()

	wf, err := b.Build()
	// ... pass wf to copilotz.WithWorkflows(...)
*/
package dsl
