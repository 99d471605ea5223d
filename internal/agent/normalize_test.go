package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireflow/wecom-relay/internal/domain"
)

func TestExtractReplyTextLastAssistant(t *testing.T) {
	resp := &ChatResponse{Messages: []Message{
		{Role: "assistant", Parts: []MessagePart{{Type: "text", Text: "旧回复"}}},
		{Role: "user", Parts: []MessagePart{{Type: "text", Text: "问题"}}},
		{Role: "assistant", Parts: []MessagePart{
			{Type: "tool-call", ToolName: "job_search"},
			{Type: "text", Text: "第一部分"},
			{Type: "text", Text: "第二部分"},
		}},
	}}
	got, err := ExtractReplyText(resp)
	require.NoError(t, err)
	assert.Equal(t, "第一部分\n\n第二部分", got)
}

func TestExtractReplyTextNoAssistant(t *testing.T) {
	resp := &ChatResponse{Messages: []Message{{Role: "user", Parts: []MessagePart{{Type: "text", Text: "hi"}}}}}
	_, err := ExtractReplyText(resp)
	assert.ErrorIs(t, err, domain.ErrAgentUnavailable)
}

func TestExtractReplyTextEmptyParts(t *testing.T) {
	resp := &ChatResponse{Messages: []Message{{Role: "assistant", Parts: []MessagePart{{Type: "text", Text: "   "}}}}}
	_, err := ExtractReplyText(resp)
	assert.ErrorIs(t, err, domain.ErrAgentUnavailable)
}

func TestNormalizeReplyListToProse(t *testing.T) {
	in := "这边有几个岗位：\n- 前端工程师\n- 后端工程师\n- 测试工程师\n你看哪个合适"
	got := NormalizeReply(in)
	assert.Equal(t, "这边有几个岗位，有前端工程师、后端工程师、测试工程师可以选，你看哪个合适", got)
}

func TestNormalizeReplyNumberedList(t *testing.T) {
	in := "1. 上午十点\n2) 下午三点"
	got := NormalizeReply(in)
	assert.Equal(t, "有上午十点、下午三点可以选～", got)
}

func TestNormalizeReplyPlainTextUntouched(t *testing.T) {
	got := NormalizeReply("好的，明天见～")
	assert.Equal(t, "好的，明天见～", got)
}

func TestNormalizeReplyCollapsesWhitespace(t *testing.T) {
	got := NormalizeReply("好的，   没问题\n\n\n\n明天见")
	assert.Equal(t, "好的， 没问题\n\n明天见", got)
}

func TestMergedContextStripsInternalKeys(t *testing.T) {
	base := map[string]any{"channel": "wecom"}
	brand := BrandConfig{"company": "好样的科技", "_synced_at": 123}
	got := MergedContext(base, brand)
	assert.Equal(t, "wecom", got["channel"])
	assert.Equal(t, "好样的科技", got["company"])
	assert.NotContains(t, got, "_synced_at")
}

func TestCurrentTimeZH(t *testing.T) {
	// 2024-06-03 is a Monday; 02:00 UTC is 10:00 in Shanghai.
	ts := timeMustParse(t, "2024-06-03T02:00:00Z")
	assert.Equal(t, "2024-06-03 10:00 星期一", CurrentTimeZH(ts))
}
