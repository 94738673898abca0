// Package server implements the order-rpc server: connection handling,
// stream multiplexing, the middleware chain, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → Request frame: open call, go handleCall (parallel per call)
//	  → Data/End/Cancel frames: routed to the open call's inbound channel
//	  → handleCall: Middleware Chain → shape dispatch → Handler
//	    → terminal frame (Response, End, or Error) under the conn write lock
//
// An error on one call terminates only that call; other calls multiplexed on
// the same connection are untouched.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"order-rpc/codec"
	"order-rpc/message"
	"order-rpc/middleware"
	"order-rpc/order"
	"order-rpc/protocol"
	"order-rpc/registry"
	"order-rpc/trace"
)

// Server accepts connections and drives the registered Handler.
type Server struct {
	handlerImpl   Handler
	listener      net.Listener
	wg            sync.WaitGroup // Tracks in-flight calls for graceful shutdown
	shutdown      atomic.Bool    // Set during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware
	chain         middleware.Middleware // Built once at Serve
	observer      trace.Observer
	registry      registry.Registry // nil if not using discovery
	advertiseAddr string            // Address registered in etcd; differs from the
	// listen address because ":8080" is not routable
}

// NewServer creates a server with no handler and no middleware.
func NewServer() *Server {
	return &Server{observer: trace.Nop{}}
}

// Register installs the order service implementation. Exactly one handler
// serves all four methods.
func (svr *Server) Register(h Handler) error {
	if svr.handlerImpl != nil {
		return fmt.Errorf("rpc: handler already registered")
	}
	svr.handlerImpl = h
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are
// added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Observe installs a call-lifecycle observer. Defaults to trace.Nop.
func (svr *Server) Observe(obs trace.Observer) {
	svr.observer = obs
}

// Serve listens on the given address, optionally registers with the
// registry, and enters the accept loop.
//
// advertiseAddr is the address registered for discovery (e.g.
// "127.0.0.1:8080"); pass reg == nil to skip discovery.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	if svr.handlerImpl == nil {
		return fmt.Errorf("rpc: no handler registered")
	}
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	svr.listener = listener

	// Build the middleware chain once, not per call.
	svr.chain = middleware.Chain(svr.middlewares...)

	svr.advertiseAddr = advertiseAddr
	if reg != nil {
		svr.registry = reg
		if err := reg.Register(order.ServiceName, registry.ServiceInstance{Addr: advertiseAddr}, 10); err != nil {
			return err
		}
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// handleConn reads frames from one connection. Reads are sequential (frame
// boundaries), but every call runs in its own goroutine. The per-connection
// write mutex is shared by all calls on this conn so outbound frames never
// interleave.
func (svr *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	writeMu := &sync.Mutex{}

	var mu sync.Mutex
	calls := make(map[uint32]*stream)

	lookup := func(id uint32) *stream {
		mu.Lock()
		defer mu.Unlock()
		return calls[id]
	}

	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			break // Connection closed or protocol error
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue

		case protocol.MsgTypeRequest:
			c := codec.GetCodec(codec.CodecType(header.CodecType))
			req := &message.Envelope{}
			if err := c.Decode(body, req); err != nil {
				continue // Undecodable request: no method to answer on
			}
			st := &stream{
				id:        header.StreamID,
				method:    req.Method,
				conn:      conn,
				writeMu:   writeMu,
				codec:     c,
				codecType: header.CodecType,
				obs:       svr.observer,
				inbound:   make(chan *message.Envelope, 16),
				done:      make(chan struct{}),
			}
			st.ctx, st.cancel = context.WithCancel(context.Background())
			mu.Lock()
			calls[header.StreamID] = st
			mu.Unlock()
			go func() {
				svr.handleCall(st, req)
				mu.Lock()
				delete(calls, st.id)
				mu.Unlock()
			}()

		case protocol.MsgTypeData:
			st := lookup(header.StreamID)
			if st == nil {
				continue // Call already finished; late frame, drop it
			}
			env := &message.Envelope{}
			if err := st.codec.Decode(body, env); err != nil {
				continue
			}
			select {
			case st.inbound <- env:
			case <-st.done:
			}

		case protocol.MsgTypeEnd:
			if st := lookup(header.StreamID); st != nil {
				st.pushEnd()
			}

		case protocol.MsgTypeCancel:
			if st := lookup(header.StreamID); st != nil {
				st.cancel()
			}
		}
	}

	// Connection gone: abort every call still open on it.
	mu.Lock()
	for _, st := range calls {
		st.cancel()
	}
	mu.Unlock()
}

// handleCall runs one call to completion: middleware chain → shape dispatch
// → terminal frame.
func (svr *Server) handleCall(st *stream, req *message.Envelope) {
	svr.wg.Add(1)
	defer svr.wg.Done()
	defer close(st.done)
	defer st.cancel()

	start := time.Now()
	svr.observer.CallStarted(st.method, st.id)

	handler := svr.chain(func(ctx context.Context, req *message.Envelope) *message.Envelope {
		return svr.dispatch(ctx, st, req)
	})
	result := handler(st.ctx, req)

	var callErr error
	switch {
	case result.Code != message.CodeOK:
		callErr = message.FromEnvelope(result)
		if err := st.writeFrame(protocol.MsgTypeError, result); err != nil {
			callErr = err
		}
	case st.method == order.MethodCreate || st.method == order.MethodUploadNotes:
		// Single-response shapes: the terminal frame carries the payload.
		callErr = st.writeFrame(protocol.MsgTypeResponse, result)
	default:
		// Streaming shapes end cleanly with an empty End frame.
		callErr = st.writeFrame(protocol.MsgTypeEnd, nil)
	}

	svr.observer.CallFinished(st.method, st.id, result.Code, callErr, time.Since(start))
}

// dispatch routes the call to the Handler method matching its shape and
// folds the outcome into a terminal envelope.
func (svr *Server) dispatch(ctx context.Context, st *stream, req *message.Envelope) *message.Envelope {
	switch st.method {
	case order.MethodCreate:
		var cr order.CreateRequest
		if err := json.Unmarshal(req.Payload, &cr); err != nil {
			return errEnvelope(st.method, message.Errorf(message.CodeInvalidArgument, "malformed create request: %v", err))
		}
		resp, err := svr.handlerImpl.Create(ctx, &cr)
		if err != nil {
			return errEnvelope(st.method, err)
		}
		return okEnvelope(st.method, resp)

	case order.MethodStreamStatus:
		var sr order.StatusRequest
		if err := json.Unmarshal(req.Payload, &sr); err != nil {
			return errEnvelope(st.method, message.Errorf(message.CodeInvalidArgument, "malformed status request: %v", err))
		}
		if err := svr.handlerImpl.StreamStatus(&sr, &StatusStream{st: st}); err != nil {
			return errEnvelope(st.method, err)
		}
		return &message.Envelope{Method: st.method}

	case order.MethodUploadNotes:
		summary, err := svr.handlerImpl.UploadNotes(&NoteStream{st: st})
		if err != nil {
			return errEnvelope(st.method, err)
		}
		return okEnvelope(st.method, summary)

	case order.MethodChat:
		if err := svr.handlerImpl.Chat(&ChatStream{st: st}); err != nil {
			return errEnvelope(st.method, err)
		}
		return &message.Envelope{Method: st.method}
	}

	return errEnvelope(st.method, message.Errorf(message.CodeNotFound, "unknown method %q", st.method))
}

func okEnvelope(method string, v any) *message.Envelope {
	payload, err := json.Marshal(v)
	if err != nil {
		return errEnvelope(method, message.Errorf(message.CodeInternal, "marshal response: %v", err))
	}
	return &message.Envelope{Method: method, Payload: payload}
}

func errEnvelope(method string, err error) *message.Envelope {
	return &message.Envelope{
		Method: method,
		Code:   message.CodeOf(err),
		Error:  err.Error(),
	}
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry (clients stop routing here)
//  2. Set the shutdown flag (so the Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight calls to finish, bounded by timeout
//
// Long-lived streams that outlive the timeout are abandoned with an error.
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		svr.registry.Deregister(order.ServiceName, svr.advertiseAddr)
	}

	svr.shutdown.Store(true)
	svr.listener.Close()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for in-flight calls to finish")
	}
}
