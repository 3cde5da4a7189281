package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vinayprograms/pluginkit/errors"
)

// Version is the only JSON-RPC version spoken.
const Version = "2.0"

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("jsonrpc %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc %d: %s", e.Code, e.Message)
}

// Standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// RegistryError carries a structured registry error in Data.
	RegistryError = -32000
)

// Notification represents a JSON-RPC 2.0 notification (no ID).
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Handler handles JSON-RPC requests.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, method string, params json.RawMessage) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	return f(ctx, method, params)
}

// ErrMethodNotFound returns the error a Handler reports for an unknown method.
func ErrMethodNotFound(method string) *Error {
	return &Error{Code: MethodNotFound, Message: "Method not found", Data: method}
}

// ToError converts a handler error into a JSON-RPC error. Registry errors
// keep their full structured form in Data so the caller can rebuild them.
func ToError(err error) *Error {
	if rpcErr, ok := err.(*Error); ok {
		return rpcErr
	}
	if e, ok := errors.AsRegistryError(err).(*errors.Error); ok {
		code := RegistryError
		if e.Code() == errors.ErrCodeInvalidInput {
			code = InvalidParams
		}
		return &Error{Code: code, Message: e.Error(), Data: e}
	}
	return &Error{Code: InternalError, Message: "Internal error", Data: err.Error()}
}

// FromError rebuilds the registry error carried by a JSON-RPC error. Errors
// without one become INTERNAL, or INVALID_INPUT for protocol errors.
func FromError(rpcErr *Error) error {
	if rpcErr == nil {
		return nil
	}
	if rpcErr.Data != nil {
		if raw, err := json.Marshal(rpcErr.Data); err == nil {
			var e errors.Error
			if json.Unmarshal(raw, &e) == nil && e.Code() != "" {
				return &e
			}
		}
	}
	switch rpcErr.Code {
	case ParseError, InvalidRequest, MethodNotFound, InvalidParams:
		return errors.InvalidInput(rpcErr.Error())
	}
	return errors.Internal(rpcErr.Error())
}

// Serve runs t and answers every inbound request with h until ctx is
// cancelled or t stops receiving. Requests are handled concurrently;
// notifications are handled but never answered.
func Serve(ctx context.Context, t Transport, h Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- t.Run(ctx) }()

	var wg sync.WaitGroup
	recv := t.Recv()
loop:
	for {
		select {
		case msg, ok := <-recv:
			if !ok {
				break loop
			}
			switch {
			case msg.Request != nil:
				wg.Add(1)
				go func(req *Request) {
					defer wg.Done()
					t.Send(&OutboundMessage{Response: dispatch(ctx, h, req)})
				}(msg.Request)
			case msg.Notification != nil:
				params, _ := json.Marshal(msg.Notification.Params)
				dispatch(ctx, h, &Request{Method: msg.Notification.Method, Params: params})
			}
		case err := <-runErr:
			wg.Wait()
			return serveResult(err)
		}
	}
	wg.Wait()

	cancel()
	return serveResult(<-runErr)
}

func serveResult(err error) error {
	if err == context.Canceled {
		return nil
	}
	return err
}

func dispatch(ctx context.Context, h Handler, req *Request) (resp *Response) {
	resp = &Response{JSONRPC: Version, ID: req.ID}
	defer func() {
		if r := recover(); r != nil {
			resp.Result = nil
			resp.Error = ToError(errors.RecoverPanic(r))
		}
	}()

	result, err := h.Handle(ctx, req.Method, req.Params)
	if err != nil {
		resp.Error = ToError(err)
		return resp
	}
	resp.Result = result
	return resp
}
