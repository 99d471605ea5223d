// Package domain holds the core entities, ports, and error taxonomy of the
// chat mediation service. It has no dependencies on adapters so that the
// pipeline logic can be exercised against fakes.
package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Context is an alias so that ports read uniformly; adapters pass
// context.Context through unchanged.
type Context = context.Context

// APIVariant distinguishes the two on-the-wire webhook/send shapes.
type APIVariant string

const (
	VariantEnterprise APIVariant = "enterprise"
	VariantGroup      APIVariant = "group"
)

// MessageType tags the payload union, values per the IM platform.
type MessageType int

const (
	MessageTypeFile        MessageType = 1
	MessageTypeVoice       MessageType = 2
	MessageTypeContactCard MessageType = 3
	MessageTypeEmotion     MessageType = 5
	MessageTypeImage       MessageType = 6
	MessageTypeText        MessageType = 7
	MessageTypeLocation    MessageType = 8
	MessageTypeMiniProgram MessageType = 9
	MessageTypeLink        MessageType = 12
	MessageTypeVideo       MessageType = 13
	MessageTypeChannels    MessageType = 14
	MessageTypeWecomSystem MessageType = 10001
)

// Source identifies how the platform observed the message.
type Source int

const (
	SourceUnknown    Source = 0
	SourceSync       Source = 1
	SourceSelfSent   Source = 2
	SourceMobilePush Source = 13
)

// ContactType classifies the peer account.
type ContactType int

const (
	ContactTypeUnknown        ContactType = 0
	ContactTypePersonalWechat ContactType = 1
	ContactTypeEnterprise     ContactType = 2
)

// TextPayload is the body of a TEXT message.
type TextPayload struct {
	Text string `json:"text"`
}

// LocationPayload is the body of a LOCATION message.
type LocationPayload struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Payload is a tagged union keyed by MessageType. Variants the pipeline does
// not consume are kept as opaque Raw for history passthrough.
type Payload struct {
	Type     MessageType      `json:"type"`
	Text     *TextPayload     `json:"text,omitempty"`
	Location *LocationPayload `json:"location,omitempty"`
	Raw      json.RawMessage  `json:"raw,omitempty"`
}

// InboundRecord is the canonical form of one received message. It is created
// on webhook ingress and immutable afterwards.
type InboundRecord struct {
	MessageID   string      `json:"message_id"`
	ChatID      string      `json:"chat_id"`
	ContactID   string      `json:"contact_id"`
	BotID       string      `json:"bot_id"`
	OrgID       string      `json:"org_id"`
	Token       string      `json:"token"`
	RoomID      string      `json:"room_id,omitempty"`
	ContactName string      `json:"contact_name,omitempty"`
	Avatar      string      `json:"avatar,omitempty"`
	ExternalUID string      `json:"external_user_id,omitempty"`
	IsSelf      bool        `json:"is_self"`
	Source      Source      `json:"source"`
	ContactType ContactType `json:"contact_type"`
	MessageType MessageType `json:"message_type"`
	Timestamp   int64       `json:"timestamp"` // ms epoch
	Payload     Payload     `json:"payload"`
	APIVariant  APIVariant  `json:"api_variant"`
}

// IsRoom reports whether the record belongs to a group chat.
func (r InboundRecord) IsRoom() bool { return r.RoomID != "" }

// Role of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one turn in a conversation, with passthrough metadata kept
// for the analytics sink.
type HistoryEntry struct {
	Role          Role            `json:"role"`
	Content       string          `json:"content"`
	Timestamp     int64           `json:"timestamp"`
	MessageID     string          `json:"message_id,omitempty"`
	CandidateName string          `json:"candidate_name,omitempty"`
	ManagerName   string          `json:"manager_name,omitempty"`
	OrgID         string          `json:"org_id,omitempty"`
	BotID         string          `json:"bot_id,omitempty"`
	MessageType   MessageType     `json:"message_type,omitempty"`
	Source        Source          `json:"source,omitempty"`
	IsRoom        bool            `json:"is_room,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Avatar        string          `json:"avatar,omitempty"`
	ExternalUID   string          `json:"external_user_id,omitempty"`
}

// ContextMessage is the minimal role/content pair handed to the Agent.
type ContextMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Scenario selects the agent profile.
type Scenario string

// ScenarioCandidateConsultation is the only scenario currently served.
const ScenarioCandidateConsultation Scenario = "CANDIDATE_CONSULTATION"

// TokenUsage mirrors the Agent usage block.
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// AgentInvocation is the input to the agent gateway.
type AgentInvocation struct {
	ConversationID string
	UserMessage    string
	History        []ContextMessage
	Scenario       Scenario
	MessageID      string
}

// AgentResult is the normalized outcome of one agent call.
type AgentResult struct {
	ReplyText      string
	Usage          TokenUsage
	ToolsUsed      []string
	IsFallback     bool
	FallbackReason string
	ProcessingTime time.Duration
	Raw            json.RawMessage
}

// DeliveryContext carries the addressing fields the outbound send RPC needs.
type DeliveryContext struct {
	MessageID  string
	ChatID     string
	BotID      string
	ContactID  string
	RoomID     string
	Token      string
	APIVariant APIVariant
}

// DeliveryResult summarizes one paced, segmented delivery.
type DeliveryResult struct {
	Success        bool
	SegmentCount   int
	FailedSegments int
	TotalTime      time.Duration
}

// JobState is the queue-visible lifecycle of a job id.
type JobState string

const (
	JobStateAbsent    JobState = "absent"
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Pending reports whether the job can still be replaced by a re-enqueue.
func (s JobState) Pending() bool { return s == JobStateWaiting || s == JobStateDelayed }

// EnqueueOpts configure a delayed job.
type EnqueueOpts struct {
	JobID    string
	Delay    time.Duration
	MaxRetry int
}

// ChatJobPayload is the payload of an aggregator job.
type ChatJobPayload struct {
	ChatID string `json:"chat_id"`
}

// EncodeChatJob marshals a chat job payload.
func EncodeChatJob(chatID string) []byte {
	b, _ := json.Marshal(ChatJobPayload{ChatID: chatID})
	return b
}

// DecodeChatJob unmarshals a chat job payload.
func DecodeChatJob(b []byte) (string, error) {
	var p ChatJobPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return "", fmt.Errorf("op=domain.DecodeChatJob: %w: %v", ErrInvalidArgument, err)
	}
	if p.ChatID == "" {
		return "", fmt.Errorf("op=domain.DecodeChatJob: %w: empty chat_id", ErrInvalidArgument)
	}
	return p.ChatID, nil
}
