package agent

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// startMentorServer serves handler for every unknown method over an
// in-memory listener.
func startMentorServer(t *testing.T, handler func(method string, req *structpb.Struct) (*structpb.Struct, error)) *GrpcClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		req := new(structpb.Struct)
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		resp, err := handler(method, req)
		if err != nil {
			return err
		}
		return stream.SendMsg(resp)
	}))
	healthpb.RegisterHealthServer(srv, health.NewServer())

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := DefaultGrpcClientConfig()
	cfg.Address = "passthrough:///bufnet"
	cfg.RequestTimeout = 2 * time.Second
	cfg.DialOptions = []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	}

	c, err := NewGrpcClient(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewGrpcClient() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGrpcClient_Exchange(t *testing.T) {
	var gotMethod string
	var gotReq map[string]any

	c := startMentorServer(t, func(method string, req *structpb.Struct) (*structpb.Struct, error) {
		gotMethod = method
		gotReq = req.AsMap()
		return structpb.NewStruct(map[string]any{
			"mentorResponse": map[string]any{
				"content":         "Try recursion.",
				"citations":       []any{map[string]any{"label": "Ch. 3", "href": "https://example.org/3"}},
				"followUpPrompts": []any{"Why?"},
				"conversationId":  "g-7",
			},
		})
	})

	reply, err := c.Exchange(context.Background(), Request{
		LearnerID:      "u1",
		CourseID:       "c1",
		Message:        "help",
		ConversationID: "g-6",
	})
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if gotMethod != DefaultGrpcMethod {
		t.Errorf("Expected method %s, got %s", DefaultGrpcMethod, gotMethod)
	}
	if gotReq["message"] != "help" || gotReq["conversationId"] != "g-6" || gotReq["learnerId"] != "u1" {
		t.Errorf("Unexpected request %v", gotReq)
	}
	if reply.Content != "Try recursion." || reply.ConversationID != "g-7" {
		t.Errorf("Unexpected reply %+v", reply)
	}
	if len(reply.Citations) != 1 || reply.Citations[0].Href != "https://example.org/3" {
		t.Errorf("Unexpected citations %+v", reply.Citations)
	}
	if len(reply.FollowUps) != 1 || reply.FollowUps[0] != "Why?" {
		t.Errorf("Unexpected follow-ups %+v", reply.FollowUps)
	}
}

func TestGrpcClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"internal", status.Error(codes.Internal, "boom"), KindStatus},
		{"unavailable", status.Error(codes.Unavailable, "down"), KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := startMentorServer(t, func(string, *structpb.Struct) (*structpb.Struct, error) {
				return nil, tt.err
			})
			_, err := c.Exchange(context.Background(), Request{Message: "x"})
			if !IsKind(err, tt.want) {
				t.Errorf("Expected %s error, got %v", tt.want, err)
			}
		})
	}
}

func TestGrpcClient_SchemaError(t *testing.T) {
	c := startMentorServer(t, func(string, *structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{"unexpected": true})
	})
	if _, err := c.Exchange(context.Background(), Request{Message: "x"}); !IsKind(err, KindSchema) {
		t.Errorf("Expected schema error, got %v", err)
	}
}

func TestGrpcClient_Health(t *testing.T) {
	c := startMentorServer(t, func(string, *structpb.Struct) (*structpb.Struct, error) {
		return &structpb.Struct{}, nil
	})
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}

func TestClassifyRPCError_StatusMessage(t *testing.T) {
	te := classifyRPCError(status.Error(codes.PermissionDenied, "nope"))
	if te.Error() != "API error: PermissionDenied" {
		t.Errorf("Unexpected message %q", te.Error())
	}
}
