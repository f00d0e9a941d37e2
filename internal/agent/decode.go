package agent

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ashureev/mentor-chat/internal/domain"
)

// decodeReply validates a JSON reply body and converts it to a Reply.
func decodeReply(body []byte) (*Reply, error) {
	var envelope struct {
		MentorResponse json.RawMessage `json:"mentorResponse"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, schemaError(fmt.Errorf("decode body: %w", err))
	}

	raw := bytes.TrimSpace(envelope.MentorResponse)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, schemaError(errMissingEnvelope)
	}

	var wr wireReply
	if err := json.Unmarshal(raw, &wr); err != nil {
		return nil, schemaError(fmt.Errorf("decode mentorResponse: %w", err))
	}
	if wr.Content == nil {
		return nil, schemaError(errMissingContent)
	}

	reply := &Reply{
		Content:        *wr.Content,
		FollowUps:      wr.FollowUpPrompts,
		ConversationID: wr.ConversationID,
	}
	for _, c := range wr.Citations {
		if c.Href == "" {
			return nil, schemaError(errEmptyHref)
		}
		reply.Citations = append(reply.Citations, domain.Citation{Label: c.Label, Href: c.Href})
	}
	return reply, nil
}
