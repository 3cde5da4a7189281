package extension

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/vinayprograms/pluginkit/bus"
	"github.com/vinayprograms/pluginkit/errors"
	"github.com/vinayprograms/pluginkit/logging"
	"github.com/vinayprograms/pluginkit/registry"
)

// Server answers remote calls for one node by dispatching them into the
// local Directory.
type Server struct {
	dir  *registry.Directory
	bus  bus.MessageBus
	node uuid.UUID
	log  *logging.Logger
}

// NewServer creates a server answering on CallSubject(node).
func NewServer(dir *registry.Directory, b bus.MessageBus, node uuid.UUID, opts ...Option) *Server {
	o := buildOptions(opts)
	return &Server{dir: dir, bus: b, node: node, log: o.log}
}

// Serve answers calls until ctx is cancelled or the bus closes. Each call
// runs on its own goroutine; Serve waits for them before returning.
func (s *Server) Serve(ctx context.Context) error {
	sub, err := s.bus.QueueSubscribe(CallSubject(s.node), QueueGroup)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	s.log.Info("serving remote calls", map[string]interface{}{"subject": CallSubject(s.node)})

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			if msg.Reply == "" {
				continue
			}
			wg.Add(1)
			go func(msg *bus.Message) {
				defer wg.Done()
				s.answer(ctx, msg)
			}(msg)
		}
	}
}

func (s *Server) answer(ctx context.Context, msg *bus.Message) {
	data, err := json.Marshal(s.handle(ctx, msg.Data))
	if err != nil {
		s.log.Error("encode call reply", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := s.bus.Publish(msg.Reply, data); err != nil {
		s.log.Warn("reply failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) handle(ctx context.Context, data []byte) callReply {
	var req callRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return callReply{Error: errors.InvalidInput("malformed call: " + err.Error())}
	}

	resp, err := s.dir.Call(ctx, req.Registry, req.Item, req.Request)
	if err != nil {
		return callReply{Error: asError(err, req.Registry, req.Item)}
	}
	return callReply{Response: resp}
}

// asError returns err as a registry error addressed to registry/item.
func asError(err error, registryName, item string) *errors.Error {
	if e, ok := errors.AsRegistryError(err).(*errors.Error); ok {
		return e.Locate(registryName, item)
	}
	return errors.PluginCallFailed(err.Error(), errors.WithCause(err), errors.WithRegistry(registryName), errors.WithItem(item))
}
