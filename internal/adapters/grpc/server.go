package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/latchkey/auth-service/internal/application"
	"github.com/latchkey/auth-service/internal/domain"
)

// SessionInternalService is the sibling-service introspection API: hand a raw
// session token, get back who it belongs to. Transparent rotation is
// deliberately excluded here; only the browser-facing HTTP layer can deliver
// a replacement cookie.
type SessionInternalService interface {
	ResolveSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type SessionInternalServer struct {
	service *application.Service
}

func NewSessionInternalServer(service *application.Service) *SessionInternalServer {
	return &SessionInternalServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc SessionInternalService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: "latchkey.auth.v1.SessionInternalService",
		HandlerType: (*SessionInternalService)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "ResolveSession",
				Handler:    resolveSessionHandler(svc),
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "latchkey/auth/v1/session_internal.proto",
	}, svc)
}

func (s *SessionInternalServer) ResolveSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tokenVal := req.GetFields()["token"]
	if tokenVal == nil || tokenVal.GetStringValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "missing token")
	}

	result, err := s.service.IntrospectSession(ctx, tokenVal.GetStringValue())
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredential) {
			return nil, status.Error(codes.Unauthenticated, "invalid session")
		}
		return nil, status.Error(codes.Unavailable, "session lookup failed")
	}

	resp, err := structpb.NewStruct(map[string]any{
		"valid":          true,
		"account_id":     result.Account.AccountID.String(),
		"email":          result.Account.Email,
		"session_id":     result.Session.SessionID.String(),
		"expires_at":     result.Session.ExpiresAt.Unix(),
		"email_verified": result.Account.EmailVerifiedAt != nil,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func resolveSessionHandler(svc SessionInternalService) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return svc.ResolveSession(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/latchkey.auth.v1.SessionInternalService/ResolveSession",
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return svc.ResolveSession(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
