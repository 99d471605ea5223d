package filter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hireflow/wecom-relay/internal/domain"
)

type fakeLists struct {
	paused  map[string]bool
	black   map[string]bool
	blocked map[string]bool
	err     error
}

func (f *fakeLists) IsContactPaused(_ domain.Context, id string) (bool, error) {
	return f.paused[id], f.err
}

func (f *fakeLists) IsGroupBlacklisted(_ domain.Context, id string) (bool, error) {
	return f.black[id], f.err
}

func (f *fakeLists) IsGroupBlocked(_ domain.Context, id string) (bool, error) {
	return f.blocked[id], f.err
}

func textRecord(text string) domain.InboundRecord {
	return domain.InboundRecord{
		MessageID:   "m1",
		ChatID:      "contact-1",
		ContactID:   "contact-1",
		Source:      domain.SourceMobilePush,
		ContactType: domain.ContactTypePersonalWechat,
		MessageType: domain.MessageTypeText,
		Payload: domain.Payload{
			Type: domain.MessageTypeText,
			Text: &domain.TextPayload{Text: text},
		},
		APIVariant: domain.VariantEnterprise,
	}
}

func TestDecidePass(t *testing.T) {
	f := New(&fakeLists{})
	d := f.Decide(context.Background(), textRecord("你好"))
	assert.Equal(t, VerdictPass, d.Verdict)
	assert.Equal(t, "你好", d.Content)
}

func TestDecideRejectSelf(t *testing.T) {
	rec := textRecord("x")
	rec.IsSelf = true
	d := New(nil).Decide(context.Background(), rec)
	assert.Equal(t, VerdictReject, d.Verdict)
}

func TestDecideRejectSource(t *testing.T) {
	rec := textRecord("x")
	rec.Source = domain.SourceSelfSent
	d := New(nil).Decide(context.Background(), rec)
	assert.Equal(t, VerdictReject, d.Verdict)
}

func TestDecideRejectContactType(t *testing.T) {
	rec := textRecord("x")
	rec.ContactType = domain.ContactType(3)
	d := New(nil).Decide(context.Background(), rec)
	assert.Equal(t, VerdictReject, d.Verdict)
}

func TestDecideRejectPaused(t *testing.T) {
	f := New(&fakeLists{paused: map[string]bool{"contact-1": true}})
	d := f.Decide(context.Background(), textRecord("x"))
	assert.Equal(t, VerdictReject, d.Verdict)
	assert.Equal(t, "contact paused", d.Reason)
}

func TestDecideBlacklistRecordOnly(t *testing.T) {
	f := New(&fakeLists{black: map[string]bool{"contact-1": true}})
	d := f.Decide(context.Background(), textRecord("x"))
	assert.Equal(t, VerdictRecordOnly, d.Verdict)
}

func TestDecideBlockedEnterpriseRoom(t *testing.T) {
	rec := textRecord("x")
	rec.RoomID = "room-1"
	rec.ChatID = "room-1"
	f := New(&fakeLists{blocked: map[string]bool{"room-1": true}})
	d := f.Decide(context.Background(), rec)
	assert.Equal(t, VerdictReject, d.Verdict)
	assert.Equal(t, "blocked group", d.Reason)
}

func TestDecideRejectRoom(t *testing.T) {
	rec := textRecord("x")
	rec.RoomID = "room-1"
	rec.ChatID = "room-1"
	d := New(&fakeLists{}).Decide(context.Background(), rec)
	assert.Equal(t, VerdictReject, d.Verdict)
	assert.Equal(t, "room chat", d.Reason)
}

func TestDecideRejectUnhandledType(t *testing.T) {
	rec := textRecord("x")
	rec.MessageType = domain.MessageTypeImage
	d := New(nil).Decide(context.Background(), rec)
	assert.Equal(t, VerdictReject, d.Verdict)
}

func TestDecideRejectEmptyContent(t *testing.T) {
	d := New(nil).Decide(context.Background(), textRecord("   "))
	assert.Equal(t, VerdictReject, d.Verdict)
	assert.Equal(t, "empty content", d.Reason)
}

func TestDecideFailsOpenOnListError(t *testing.T) {
	f := New(&fakeLists{err: errors.New("db down")})
	d := f.Decide(context.Background(), textRecord("你好"))
	assert.Equal(t, VerdictPass, d.Verdict)
}

func TestDecideLocationPass(t *testing.T) {
	rec := textRecord("")
	rec.MessageType = domain.MessageTypeLocation
	loc := domain.LocationPayload{Name: "国贸大厦", Address: "北京市朝阳区建国门外大街1号"}
	raw, _ := json.Marshal(loc)
	rec.Payload = domain.Payload{Type: domain.MessageTypeLocation, Location: &loc, Raw: raw}

	d := New(nil).Decide(context.Background(), rec)
	assert.Equal(t, VerdictPass, d.Verdict)
	assert.Equal(t, "[位置分享] 国贸大厦（北京市朝阳区建国门外大街1号）", d.Content)
}

func TestRenderLocation(t *testing.T) {
	cases := []struct {
		name string
		loc  domain.LocationPayload
		want string
	}{
		{"both", domain.LocationPayload{Name: "咖啡店", Address: "某路1号"}, "[位置分享] 咖啡店（某路1号）"},
		{"same", domain.LocationPayload{Name: "某路1号", Address: "某路1号"}, "[位置分享] 某路1号"},
		{"name only", domain.LocationPayload{Name: "咖啡店"}, "[位置分享] 咖啡店"},
		{"address only", domain.LocationPayload{Address: "某路1号"}, "[位置分享] 某路1号"},
		{"empty", domain.LocationPayload{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RenderLocation(tc.loc))
		})
	}
}

func TestIsMentioned(t *testing.T) {
	rec := textRecord("@bot-1 在吗")
	rec.RoomID = "room-1"
	assert.True(t, IsMentioned(rec, "bot-1"))
	assert.False(t, IsMentioned(rec, "bot-2"))
	assert.False(t, IsMentioned(textRecord("@bot-1"), "bot-1"))
}
