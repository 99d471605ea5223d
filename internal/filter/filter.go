// Package filter classifies inbound records into reject / record-only /
// pass verdicts. Rules are ordered; the first match decides.
package filter

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hireflow/wecom-relay/internal/domain"
)

// Verdict is the filter outcome.
type Verdict int

const (
	VerdictPass Verdict = iota
	VerdictReject
	VerdictRecordOnly
)

// Decision carries the verdict, the reject reason, and (on pass) the
// extracted message content.
type Decision struct {
	Verdict Verdict
	Reason  string
	Content string
}

// Lists exposes the small operator tables consulted per message.
type Lists interface {
	IsContactPaused(ctx domain.Context, contactID string) (bool, error)
	IsGroupBlacklisted(ctx domain.Context, chatID string) (bool, error)
	IsGroupBlocked(ctx domain.Context, groupID string) (bool, error)
}

// Filter applies the ordered rule chain.
type Filter struct {
	lists Lists
}

// New builds a Filter. lists may be nil, in which case the paused /
// blacklist rules never match.
func New(lists Lists) *Filter { return &Filter{lists: lists} }

// Decide runs the rule chain against rec. List lookup failures fail open
// (the rule does not match) so a flaky operator table cannot stall chats.
func (f *Filter) Decide(ctx domain.Context, rec domain.InboundRecord) Decision {
	if rec.IsSelf {
		return reject("self message")
	}
	if rec.Source != domain.SourceMobilePush {
		return reject(fmt.Sprintf("source %d is not a user push", rec.Source))
	}
	if rec.ContactType != domain.ContactTypePersonalWechat {
		return reject(fmt.Sprintf("contact type %d not personal wechat", rec.ContactType))
	}
	if f.lookup(ctx, "paused", rec.ContactID, f.listsPaused) {
		return reject("contact paused")
	}
	if f.lookup(ctx, "blacklist", rec.ChatID, f.listsBlacklist) {
		return Decision{Verdict: VerdictRecordOnly, Reason: "group blacklisted"}
	}
	if rec.APIVariant == domain.VariantEnterprise && rec.RoomID != "" &&
		f.lookup(ctx, "blocked_group", rec.RoomID, f.listsBlocked) {
		return reject("blocked group")
	}
	if rec.IsRoom() {
		return reject("room chat")
	}
	if rec.MessageType != domain.MessageTypeText && rec.MessageType != domain.MessageTypeLocation {
		return reject(fmt.Sprintf("message type %d not handled", rec.MessageType))
	}
	content := ExtractContent(rec)
	if strings.TrimSpace(content) == "" {
		return reject("empty content")
	}
	return Decision{Verdict: VerdictPass, Content: content}
}

func reject(reason string) Decision { return Decision{Verdict: VerdictReject, Reason: reason} }

func (f *Filter) listsPaused(ctx domain.Context, id string) (bool, error) {
	return f.lists.IsContactPaused(ctx, id)
}

func (f *Filter) listsBlacklist(ctx domain.Context, id string) (bool, error) {
	return f.lists.IsGroupBlacklisted(ctx, id)
}

func (f *Filter) listsBlocked(ctx domain.Context, id string) (bool, error) {
	return f.lists.IsGroupBlocked(ctx, id)
}

func (f *Filter) lookup(ctx domain.Context, what, id string, fn func(domain.Context, string) (bool, error)) bool {
	if f.lists == nil || id == "" {
		return false
	}
	hit, err := fn(ctx, id)
	if err != nil {
		slog.Warn("list lookup failed, failing open",
			slog.String("list", what),
			slog.String("id", id),
			slog.Any("error", err))
		return false
	}
	return hit
}

// ExtractContent returns the natural-language content of a record. LOCATION
// payloads are rendered as a share description.
func ExtractContent(rec domain.InboundRecord) string {
	switch rec.MessageType {
	case domain.MessageTypeText:
		if rec.Payload.Text != nil {
			return rec.Payload.Text.Text
		}
	case domain.MessageTypeLocation:
		if loc := rec.Payload.Location; loc != nil {
			return RenderLocation(*loc)
		}
	}
	return ""
}

// RenderLocation synthesizes a natural-language description of a shared
// location. When name and address coincide only the address is shown.
func RenderLocation(loc domain.LocationPayload) string {
	name := strings.TrimSpace(loc.Name)
	addr := strings.TrimSpace(loc.Address)
	switch {
	case name == "" && addr == "":
		return ""
	case name == "" || name == addr:
		return fmt.Sprintf("[位置分享] %s", addr)
	case addr == "":
		return fmt.Sprintf("[位置分享] %s", name)
	default:
		return fmt.Sprintf("[位置分享] %s（%s）", name, addr)
	}
}

// IsMentioned reports whether the bot is @-mentioned in a room message.
// Reserved for future room support.
func IsMentioned(rec domain.InboundRecord, botWxid string) bool {
	if !rec.IsRoom() || botWxid == "" {
		return false
	}
	if rec.Payload.Text == nil {
		return false
	}
	return strings.Contains(rec.Payload.Text.Text, "@"+botWxid)
}
