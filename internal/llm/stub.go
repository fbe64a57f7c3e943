package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedClient replays canned responses in order. It backs local runs
// without model credentials and the package tests across the repo.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	requests  []Request
	// Default is returned once the script is exhausted.
	Default Response
}

// NewScriptedClient returns a client that answers with responses in order.
func NewScriptedClient(responses ...Response) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

// FailNext queues an error for the next call.
func (s *ScriptedClient) FailNext(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

// Push appends responses to the script.
func (s *ScriptedClient) Push(responses ...Response) {
	s.mu.Lock()
	s.responses = append(s.responses, responses...)
	s.mu.Unlock()
}

var _ StructuredClient = (*ScriptedClient)(nil)

func (s *ScriptedClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return Response{}, err
	}
	if len(s.responses) == 0 {
		if s.Default.Text == "" && len(s.Default.ToolCalls) == 0 {
			return Response{}, errors.New("llm: scripted client exhausted")
		}
		return s.Default, nil
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *ScriptedClient) CompleteJSON(ctx context.Context, req Request, _ *Schema) (Response, error) {
	return s.Complete(ctx, req)
}

// Requests returns the requests received so far.
func (s *ScriptedClient) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}
