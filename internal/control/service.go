// Package control exposes live sessions over gRPC so an external
// turn-taking engine can deliver user turns and end conversations. Messages
// are google.protobuf.Struct values; the service is registered by hand.
package control

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"yuzu/concierge/internal/agent"
)

const ServiceName = "concierge.v1.Control"

// ControlServer is the server API for the Control service.
type ControlServer interface {
	Start(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeliverTurn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Terminate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	State(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type method func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, pick func(ControlServer) method) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		fn := pick(srv.(ControlServer))
		if interceptor == nil {
			return fn(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return fn(ctx, req.(*structpb.Struct))
		})
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Start", Handler: handler("Start", func(s ControlServer) method { return s.Start })},
		{MethodName: "DeliverTurn", Handler: handler("DeliverTurn", func(s ControlServer) method { return s.DeliverTurn })},
		{MethodName: "Terminate", Handler: handler("Terminate", func(s ControlServer) method { return s.Terminate })},
		{MethodName: "State", Handler: handler("State", func(s ControlServer) method { return s.State })},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "concierge/v1/control.proto",
}

func Register(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&serviceDesc, srv)
}

// Sessions is the subset of agent.Manager the service needs.
type Sessions interface {
	Get(sessionID string) (*agent.Session, bool)
	IsEnded(sessionID string) bool
	Close(ctx context.Context, sessionID string) error
}

type Service struct {
	sessions Sessions
	logger   *zap.Logger
}

func NewService(sessions Sessions, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{sessions: sessions, logger: logger.Named("control")}
}

func (s *Service) lookup(in *structpb.Struct) (*agent.Session, error) {
	id := in.GetFields()["session_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	sess, ok := s.sessions.Get(id)
	switch {
	case ok:
	case s.sessions.IsEnded(id):
		return nil, status.Errorf(codes.FailedPrecondition, "session %s has ended", id)
	default:
		return nil, status.Errorf(codes.NotFound, "session %s not found", id)
	}
	return sess, nil
}

func (s *Service) Start(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.lookup(in)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(ctx); err != nil {
		return nil, toStatus(err)
	}
	return stateStruct(sess.State())
}

func (s *Service) DeliverTurn(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.lookup(in)
	if err != nil {
		return nil, err
	}
	text := in.GetFields()["text"].GetStringValue()
	if text == "" {
		return nil, status.Error(codes.InvalidArgument, "text is required")
	}
	if err := sess.HandleUserTurn(ctx, text); err != nil {
		return nil, toStatus(err)
	}
	return stateStruct(sess.State())
}

func (s *Service) Terminate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.lookup(in)
	if err != nil {
		return nil, err
	}
	err = s.sessions.Close(ctx, sess.ID())
	if errors.Is(err, agent.ErrSessionNotFound) {
		// closed concurrently; wait for that run
		err = sess.Terminate(ctx)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return stateStruct(sess.State())
}

func (s *Service) State(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	sess, err := s.lookup(in)
	if err != nil {
		return nil, err
	}
	return stateStruct(sess.State())
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, agent.ErrSessionEnded):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Unavailable, err.Error())
}

func stateStruct(st agent.State) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"session_id":   st.SessionID,
		"room_name":    st.Room,
		"persona":      string(st.Persona),
		"display_name": st.Display,
		"topic":        st.Topic,
		"voice_id":     st.VoiceID,
		"turns":        st.Turns,
		"started":      st.Started,
		"ending":       st.Ending,
		"ended":        st.Ended,
	})
}

// UnaryLogger logs every call with its status code and latency.
func UnaryLogger(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logger.Named("control")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)
		metricCalls.WithLabelValues(info.FullMethod, code.String()).Inc()
		logger.Debug("rpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("took", time.Since(start)))
		return resp, err
	}
}
