package wecom

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hireflow/wecom-relay/internal/domain"
)

// groupOrgSentinel fills the org id for group-variant webhooks, which do not
// carry one.
const groupOrgSentinel = "group-api"

type enterpriseEnvelope struct {
	OrgID          string          `json:"orgId"`
	Token          string          `json:"token"`
	MessageID      string          `json:"messageId"`
	MessageType    *int            `json:"messageType"`
	Timestamp      string          `json:"timestamp"`
	IMBotID        string          `json:"imBotId"`
	IMContactID    string          `json:"imContactId"`
	IMRoomID       string          `json:"imRoomId"`
	ContactName    string          `json:"contactName"`
	Avatar         string          `json:"avatar"`
	ExternalUserID string          `json:"externalUserId"`
	IsSelf         bool            `json:"isSelf"`
	Source         int             `json:"source"`
	ContactType    int             `json:"contactType"`
	Payload        json.RawMessage `json:"payload"`
}

type groupEnvelope struct {
	Data *struct {
		Type        *int            `json:"type"`
		MessageID   string          `json:"messageId"`
		ContactID   string          `json:"contactId"`
		BotWxid     string          `json:"botWxid"`
		RoomWxid    string          `json:"roomWxid"`
		Token       string          `json:"token"`
		ContactName string          `json:"contactName"`
		Avatar      string          `json:"avatar"`
		IsSelf      bool            `json:"isSelf"`
		ContactType int             `json:"contactType"`
		Timestamp   int64           `json:"timestamp"`
		Payload     json.RawMessage `json:"payload"`
	} `json:"data"`
}

// Normalize detects the webhook variant and converts the raw body into the
// canonical inbound record. Detection: top-level orgId+messageType means
// enterprise; data.type+data.messageId means group.
func Normalize(body []byte) (domain.InboundRecord, error) {
	var ent enterpriseEnvelope
	if err := json.Unmarshal(body, &ent); err == nil && ent.OrgID != "" && ent.MessageType != nil {
		return normalizeEnterprise(ent)
	}
	var grp groupEnvelope
	if err := json.Unmarshal(body, &grp); err == nil && grp.Data != nil && grp.Data.Type != nil && grp.Data.MessageID != "" {
		return normalizeGroup(grp)
	}
	return domain.InboundRecord{}, fmt.Errorf("op=wecom.Normalize: %w: unrecognized webhook shape", domain.ErrInvalidArgument)
}

func normalizeEnterprise(env enterpriseEnvelope) (domain.InboundRecord, error) {
	if env.MessageID == "" {
		return domain.InboundRecord{}, fmt.Errorf("op=wecom.Normalize: %w: missing messageId", domain.ErrInvalidArgument)
	}
	ts, err := strconv.ParseInt(env.Timestamp, 10, 64)
	if err != nil {
		ts = 0
	}
	mt := domain.MessageType(*env.MessageType)
	rec := domain.InboundRecord{
		MessageID:   env.MessageID,
		ContactID:   env.IMContactID,
		BotID:       env.IMBotID,
		OrgID:       env.OrgID,
		Token:       env.Token,
		RoomID:      env.IMRoomID,
		ContactName: env.ContactName,
		Avatar:      env.Avatar,
		ExternalUID: env.ExternalUserID,
		IsSelf:      env.IsSelf,
		Source:      domain.Source(env.Source),
		ContactType: domain.ContactType(env.ContactType),
		MessageType: mt,
		Timestamp:   ts,
		Payload:     decodePayload(mt, env.Payload),
		APIVariant:  domain.VariantEnterprise,
	}
	rec.ChatID = chatID(rec)
	return rec, nil
}

func normalizeGroup(env groupEnvelope) (domain.InboundRecord, error) {
	d := env.Data
	mt := domain.MessageType(*d.Type)
	source := domain.SourceMobilePush
	if d.IsSelf {
		source = domain.SourceSelfSent
	}
	contactType := domain.ContactType(d.ContactType)
	if contactType == domain.ContactTypeUnknown {
		contactType = domain.ContactTypePersonalWechat
	}
	rec := domain.InboundRecord{
		MessageID:   d.MessageID,
		ContactID:   d.ContactID,
		BotID:       d.BotWxid,
		OrgID:       groupOrgSentinel,
		Token:       d.Token,
		RoomID:      d.RoomWxid,
		ContactName: d.ContactName,
		Avatar:      d.Avatar,
		IsSelf:      d.IsSelf,
		Source:      source,
		ContactType: contactType,
		MessageType: mt,
		Timestamp:   d.Timestamp,
		Payload:     decodePayload(mt, d.Payload),
		APIVariant:  domain.VariantGroup,
	}
	rec.ChatID = chatID(rec)
	return rec, nil
}

// chatID derives the conversation key: the room for group chats, the
// contact otherwise.
func chatID(rec domain.InboundRecord) string {
	if rec.RoomID != "" {
		return rec.RoomID
	}
	return rec.ContactID
}

// decodePayload parses the typed variants the pipeline consumes and keeps
// everything else as opaque raw for history passthrough.
func decodePayload(mt domain.MessageType, raw json.RawMessage) domain.Payload {
	p := domain.Payload{Type: mt, Raw: raw}
	switch mt {
	case domain.MessageTypeText:
		var tp domain.TextPayload
		if err := json.Unmarshal(raw, &tp); err == nil {
			p.Text = &tp
			p.Raw = nil
		}
	case domain.MessageTypeLocation:
		var lp domain.LocationPayload
		if err := json.Unmarshal(raw, &lp); err == nil {
			p.Location = &lp
			p.Raw = nil
		}
	}
	return p
}
