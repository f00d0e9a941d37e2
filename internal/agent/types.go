// Package agent implements the transport to the remote Mentor service.
package agent

import (
	"time"

	"github.com/ashureev/mentor-chat/internal/domain"
)

// Transport kinds accepted by NewClient.
const (
	KindHTTP = "http"
	KindGRPC = "grpc"
)

// DefaultGrpcMethod is the unary method invoked by GrpcClient.
const DefaultGrpcMethod = "/mentor.v1.MentorService/Query"

// maxReplyBytes caps how much of a reply body is read.
const maxReplyBytes = 1 << 20

// Request is one learner turn sent to the service.
type Request struct {
	LearnerID string
	CourseID  string
	Message   string
	// ConversationID is empty until the service has issued one.
	ConversationID string
}

// Reply is a decoded, validated assistant answer.
type Reply struct {
	Content        string
	Citations      []domain.Citation
	FollowUps      []string
	ConversationID string
}

// Config holds transport configuration.
type Config struct {
	Kind       string
	Endpoint   string
	Timeout    time.Duration
	GrpcMethod string
}

// DefaultConfig returns default transport configuration. Endpoint has no
// default.
func DefaultConfig() Config {
	return Config{
		Kind:       KindHTTP,
		Timeout:    30 * time.Second,
		GrpcMethod: DefaultGrpcMethod,
	}
}

type wireRequest struct {
	LearnerID      string `json:"learnerId"`
	CourseID       string `json:"courseId"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

type wireCitation struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

type wireReply struct {
	Content         *string        `json:"content"`
	Citations       []wireCitation `json:"citations"`
	FollowUpPrompts []string       `json:"followUpPrompts"`
	ConversationID  string         `json:"conversationId"`
}

func newWireRequest(req Request) wireRequest {
	return wireRequest{
		LearnerID:      req.LearnerID,
		CourseID:       req.CourseID,
		Message:        req.Message,
		ConversationID: req.ConversationID,
	}
}
