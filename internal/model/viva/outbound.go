package viva

// 服务端下发的事件名，统一使用 event 字段
const (
	OutStarted       = "started"
	OutQuestion      = "question"
	OutError         = "error"
	OutTranscription = "transcription"
	OutResponse      = "response"
	OutAudioEnd      = "audio_end"
	OutAudioFailed   = "audio_failed"
	OutState         = "state"
	OutSessionEnded  = "session_ended"
)

// Outbound 下行结构化帧
type Outbound struct {
	Event     string    `json:"event"`
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text,omitempty"`
	Message   string    `json:"message,omitempty"`
	State     *Snapshot `json:"state,omitempty"`
}

func Started(sessionID string) Outbound {
	return Outbound{Event: OutStarted, SessionID: sessionID}
}

func Question(text string) Outbound {
	return Outbound{Event: OutQuestion, Text: text}
}

func Failure(message string) Outbound {
	return Outbound{Event: OutError, Message: message}
}

func Transcription(text string) Outbound {
	return Outbound{Event: OutTranscription, Text: text}
}

func Response(text string) Outbound {
	return Outbound{Event: OutResponse, Text: text}
}

func AudioEnd() Outbound {
	return Outbound{Event: OutAudioEnd}
}

func AudioFailed() Outbound {
	return Outbound{Event: OutAudioFailed}
}

func State(s Snapshot) Outbound {
	return Outbound{Event: OutState, State: &s}
}

func SessionEnded() Outbound {
	return Outbound{Event: OutSessionEnded}
}
