package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/achilleasa/kson"
	"github.com/achilleasa/kson/envelope"
	"github.com/achilleasa/kson/logging"
	"github.com/achilleasa/kson/server/futures"
	"github.com/achilleasa/kson/transport"
)

var (
	// DefaultPanicWriter is a sink where the server's default panic handler
	// writes its output when a panic is recovered.
	DefaultPanicWriter io.Writer = os.Stderr

	// CtxFieldPath defines the context field name where the server stores
	// the mount path that responds to an incoming request.
	CtxFieldPath interface{} = "Path"
)

// HeaderKind is the response header where the server records the kind of the
// encoded envelope so middleware can inspect it without decoding the payload.
const HeaderKind = "Kind"

// A PanicHandler is invoked by the server when a panic is recovered while
// processing an incoming request.
type PanicHandler func(error)

// Server exposes a set of targets through a transport.
//
// Each mounted target is bound to the transport under its mount path and
// requests are translated into envelopes by the dispatcher. The reserved
// path FuturesPath serves the invocations that were parked because their
// action returned a Deferred result.
//
// Unless overridden with the WithTransport and WithFutureStore options, the
// server uses kson.DefaultTransportFactory and
// kson.DefaultFutureStoreFactory.
//
// The server automatically recovers any panics raised while a request is
// being handled and reports them as transport.ErrInternal. The default panic
// handler writes the error and stack-trace to DefaultPanicWriter; it can be
// overridden using the WithPanicHandler option.
type Server struct {
	// A mutex protecting access to the server fields.
	mutex sync.Mutex

	transport    transport.Provider
	registry     *envelope.Registry
	futures      futures.Store
	logger       logging.ServiceLogger
	panicHandler PanicHandler
	middleware   []MiddlewareFactory

	// The mounted targets by path.
	mounts map[string]Target

	dispatcher *dispatcher

	// Set while serving; handlers derive their contexts from serveCtx.
	serveCtx  context.Context
	readyChan chan struct{}
}

// New creates a new server instance and applies any supplied server options.
func New(options ...Option) (*Server, error) {
	srv := &Server{
		mounts:    make(map[string]Target),
		readyChan: make(chan struct{}),
	}

	var err error
	for _, opt := range options {
		if err = opt(srv); err != nil {
			return nil, err
		}
	}

	if err = srv.setDefaults(); err != nil {
		return nil, err
	}

	srv.dispatcher = &dispatcher{
		registry: srv.registry,
		futures:  srv.futures,
		logger:   srv.logger,
		lookup:   srv.target,
	}

	return srv, nil
}

// Mount exposes target at path. Targets can be mounted while the server is
// serving; they become reachable immediately.
func (s *Server) Mount(path string, target Target) error {
	if !strings.HasPrefix(path, "/") || strings.ContainsAny(path, "?#") {
		return fmt.Errorf("%w: %q", errInvalidMountPath, path)
	}
	if path == FuturesPath {
		return fmt.Errorf("%w: %q", errReservedMountPath, path)
	}
	if target == nil {
		return errNilTarget
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.mounts[path]; exists {
		return fmt.Errorf("%w: %q", errDuplicateMount, path)
	}

	if s.serveCtx != nil {
		if err := s.transport.Bind(path, s.generateHandler(path, s.targetHandler(path, target))); err != nil {
			return err
		}
	}

	s.mounts[path] = target
	s.logger.Debug("mounted target", logging.LogFields{"path": path, "type": fmt.Sprintf("%T", target)})
	return nil
}

// Ready returns a channel that is closed once the server is serving.
func (s *Server) Ready() <-chan struct{} {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.readyChan
}

// Serve binds the mounted targets to the transport, dials it and serves
// requests until ctx is cancelled. It then unbinds the targets and closes
// the transport.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	s.stop()
	return nil
}

func (s *Server) start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.serveCtx != nil {
		return errServeAlreadyCalled
	}

	// Handlers derive their contexts from serveCtx.
	s.serveCtx = ctx

	bound := make([]string, 0, len(s.mounts)+1)
	unbind := func() {
		for _, path := range bound {
			s.transport.Unbind(path)
		}
		s.serveCtx = nil
	}

	if err := s.transport.Bind(FuturesPath, s.generateHandler(FuturesPath, s.dispatcher.pollFuture)); err != nil {
		unbind()
		return err
	}
	bound = append(bound, FuturesPath)

	for _, path := range s.mountPaths() {
		err := s.transport.Bind(path, s.generateHandler(path, s.targetHandler(path, s.mounts[path])))
		if err != nil {
			unbind()
			return err
		}
		bound = append(bound, path)
	}

	if err := s.transport.Dial(transport.ModeServer); err != nil {
		unbind()
		return err
	}

	close(s.readyChan)
	s.logger.Info("serving", logging.LogFields{"mounts": len(s.mounts)})
	return nil
}

func (s *Server) stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.transport.Unbind(FuturesPath)
	for path := range s.mounts {
		s.transport.Unbind(path)
	}

	if err := s.transport.Close(transport.ModeServer); err != nil {
		s.logger.Error("closing transport", err, nil)
	}

	s.serveCtx = nil
	s.readyChan = make(chan struct{})
	s.logger.Info("stopped serving", nil)
}

func (s *Server) mountPaths() []string {
	paths := make([]string, 0, len(s.mounts))
	for path := range s.mounts {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// target returns the target mounted at path or nil.
func (s *Server) target(path string) Target {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.mounts[path]
}

// setDefaults applies default settings for fields not set by a server option.
func (s *Server) setDefaults() error {
	if s.transport == nil {
		s.transport = kson.DefaultTransportFactory()
	}

	if s.registry == nil {
		s.registry = envelope.Default
	}

	if s.logger == nil {
		s.logger = logging.NewSlogServiceLogger(slog.Default())
	}

	if s.panicHandler == nil {
		s.panicHandler = defaultPanicHandler
	}

	if s.futures == nil {
		store, err := kson.DefaultFutureStoreFactory()
		if err != nil {
			return err
		}
		s.futures = store
	}

	return nil
}

type dispatchFunc func(ctx context.Context, req transport.ImmutableMessage) (envelope.Variant, error)

func (s *Server) targetHandler(path string, target Target) dispatchFunc {
	return func(ctx context.Context, req transport.ImmutableMessage) (envelope.Variant, error) {
		return s.dispatcher.dispatchTarget(ctx, path, target, req)
	}
}

// generateHandler generates a handler for a mount path which can be passed
// to a transport's Bind call. The handler executes the server and global
// middleware, invokes dispatch and encodes the returned envelope. It also
// recovers panics and passes them to the registered panic handler.
//
// Must be called while holding the mutex.
func (s *Server) generateHandler(path string, dispatch dispatchFunc) transport.Handler {
	logger := s.logger.With(logging.LogFields{"path": path})

	var middlewareChain Middleware = MiddlewareFunc(func(ctx context.Context, req transport.ImmutableMessage, res transport.Message) {
		v, err := dispatch(ctx, req)
		if err == nil {
			var data []byte
			if data, err = s.registry.Encode(v); err == nil {
				tag, _ := s.registry.TagOf(v)
				res.SetHeader(HeaderKind, tag.Kind)
				res.SetPayload(data, nil)
				return
			}
			err = errInternal(err)
		}

		if errors.Is(err, transport.ErrInternal) {
			logger.Error("dispatch failed", err, logging.LogFields{"method": req.Method(), "query": req.Query()})
		}
		res.SetPayload(nil, err)
	})

	// Apply server middleware in reverse order
	for index := len(s.middleware) - 1; index >= 0; index-- {
		if s.middleware[index] == nil {
			continue
		}
		middlewareChain = s.middleware[index](middlewareChain)
	}

	// Apply global middleware in reverse order
	for index := len(globalMiddleware) - 1; index >= 0; index-- {
		if globalMiddleware[index] == nil {
			continue
		}
		middlewareChain = globalMiddleware[index](middlewareChain)
	}

	baseCtx := s.serveCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	return transport.HandlerFunc(func(req transport.ImmutableMessage, res transport.Message) {
		defer func() {
			if r := recover(); r != nil {
				// Map recovered value to an error that we can feed to the panic handler
				var err error
				switch errVal := r.(type) {
				case error:
					err = errVal
				default:
					err = errors.New(fmt.Sprint(errVal))
				}
				logger.Error("recovered from panic", err, nil)
				s.panicHandler(err)
				res.SetPayload(nil, transport.ErrInternal)
			}
		}()

		ctx := context.WithValue(baseCtx, CtxFieldPath, path)
		middlewareChain.Handle(ctx, req, res)
	})
}

// defaultPanicHandler implements a PanicHandler that writes its output to
// DefaultPanicWriter.
func defaultPanicHandler(err error) {
	stackBuf := make([]byte, 4096)
	n := runtime.Stack(stackBuf, false)

	msg := fmt.Sprintf(
		"recovered from panic: %v\n\nstacktrace:\n%v\n",
		err,
		string(stackBuf[:n]),
	)

	DefaultPanicWriter.Write([]byte(msg))
}
