// Package mocks provides shared mock implementations for testing.
//
//	import "writingcoach/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    inv := mocks.NewMockInvoker()
//	    inv.RespondWith("QUALITY: Strong claim")
//	    // pass inv wherever an llm.Invoker is needed
//	}
//
// Available mocks:
//
//   - MockLLMClient: llm.LLMClient for middleware and service tests
//   - MockInvoker: llm.Invoker for the coaching core, with Block/Release for ordering tests
package mocks
