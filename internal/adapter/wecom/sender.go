// Package wecom implements the outbound send RPC and the normalization of
// the platform's two webhook shapes into the canonical inbound record.
package wecom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hireflow/wecom-relay/internal/domain"
)

// Sender posts text messages through the IM platform's send RPC.
type Sender struct {
	endpoint string
	hc       *http.Client
}

// NewSender builds a Sender for the configured endpoint.
func NewSender(endpoint string, timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{endpoint: endpoint, hc: &http.Client{Timeout: timeout}}
}

type sendRequest struct {
	IMBotID     string       `json:"imBotId,omitempty"`
	IMContactID string       `json:"imContactId,omitempty"`
	IMRoomID    string       `json:"imRoomId,omitempty"`
	BotWxid     string       `json:"botWxid,omitempty"`
	ContactID   string       `json:"contactId,omitempty"`
	RoomWxid    string       `json:"roomWxid,omitempty"`
	MessageType int          `json:"messageType"`
	Payload     *textPayload `json:"payload"`
}

type textPayload struct {
	Text string `json:"text"`
}

type sendResponse struct {
	ErrCode   int    `json:"errcode"`
	ErrMsg    string `json:"errmsg"`
	RequestID string `json:"requestId"`
}

// SendText implements domain.Sender. The body fields depend on the API
// variant of the conversation.
func (s *Sender) SendText(ctx domain.Context, dctx domain.DeliveryContext, text string) error {
	req := sendRequest{MessageType: int(domain.MessageTypeText), Payload: &textPayload{Text: text}}
	switch dctx.APIVariant {
	case domain.VariantGroup:
		req.BotWxid = dctx.BotID
		if dctx.RoomID != "" {
			req.RoomWxid = dctx.RoomID
		} else {
			req.ContactID = dctx.ContactID
		}
	default:
		req.IMBotID = dctx.BotID
		if dctx.RoomID != "" {
			req.IMRoomID = dctx.RoomID
		} else {
			req.IMContactID = dctx.ContactID
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("op=wecom.SendText: %w", err)
	}

	u := s.endpoint + "?token=" + url.QueryEscape(dctx.Token)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("op=wecom.SendText: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.hc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("op=wecom.SendText: %w: %v", domain.ErrDelivery, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("op=wecom.SendText read: %w: %v", domain.ErrDelivery, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("op=wecom.SendText: %w: http %d", domain.ErrDelivery, resp.StatusCode)
	}

	var sr sendResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return fmt.Errorf("op=wecom.SendText decode: %w: %v", domain.ErrDelivery, err)
	}
	if sr.ErrCode != 0 {
		return fmt.Errorf("op=wecom.SendText: %w: errcode=%d errmsg=%s", domain.ErrDelivery, sr.ErrCode, sr.ErrMsg)
	}
	return nil
}
