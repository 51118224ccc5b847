package viva

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 客户端可发送的事件名
const (
	EventStart        = "start"
	EventEndUtterance = "end_utterance"
	EventTextResponse = "text_response"
	EventEndSession   = "end_session"
	EventGetState     = "get_state"
)

// ErrMalformedFrame 表示结构化帧无法解析
var ErrMalformedFrame = errors.New("malformed frame")

// Event 是入站事件的标签联合，具体类型见下方各结构体。
type Event interface {
	Name() string
}

// Start 开始一次 viva，可选地携带题目列表
type Start struct {
	Questions []string
}

// EndUtterance 标记一段语音回答结束
type EndUtterance struct{}

// TextResponse 直接以文本作答
type TextResponse struct {
	Text string
}

// EndSession 结束会话
type EndSession struct{}

// GetState 查询会话状态
type GetState struct{}

// Unknown 未识别的事件，保留原始名称用于日志
type Unknown struct {
	Event string
}

func (Start) Name() string        { return EventStart }
func (EndUtterance) Name() string { return EventEndUtterance }
func (TextResponse) Name() string { return EventTextResponse }
func (EndSession) Name() string   { return EventEndSession }
func (GetState) Name() string     { return EventGetState }
func (u Unknown) Name() string    { return u.Event }

type inboundFrame struct {
	Event     string   `json:"event"`
	Questions []string `json:"questions"`
	Text      string   `json:"text"`
}

// DecodeEvent 将文本帧解码为具体事件。
func DecodeEvent(data []byte) (Event, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch frame.Event {
	case "":
		return nil, fmt.Errorf("%w: missing event field", ErrMalformedFrame)
	case EventStart:
		return Start{Questions: frame.Questions}, nil
	case EventEndUtterance:
		return EndUtterance{}, nil
	case EventTextResponse:
		return TextResponse{Text: frame.Text}, nil
	case EventEndSession:
		return EndSession{}, nil
	case EventGetState:
		return GetState{}, nil
	default:
		return Unknown{Event: frame.Event}, nil
	}
}
