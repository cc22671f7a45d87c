package llm

import "context"

// Middleware decorates a client. See Chain for ordering.
type Middleware func(next LLMClient) LLMClient

// CompleteFunc is the signature of LLMClient.Complete.
type CompleteFunc func(context.Context, CompletionRequest) (CompletionResponse, error)

type funcClient struct {
	complete CompleteFunc
	model    func() string
}

func (c funcClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	return c.complete(ctx, req)
}

func (c funcClient) GetModelName() string { return c.model() }

// WrapClient turns a pair of functions into an LLMClient. Middleware passes
// next.GetModelName as model.
func WrapClient(complete CompleteFunc, model func() string) LLMClient {
	return funcClient{complete: complete, model: model}
}

// Chain wraps base so that the first middleware sees a call first:
// Chain(c, a, b) behaves as a(b(c)).
func Chain(base LLMClient, middlewares ...Middleware) LLMClient {
	for i := len(middlewares) - 1; i >= 0; i-- {
		base = middlewares[i](base)
	}
	return base
}
