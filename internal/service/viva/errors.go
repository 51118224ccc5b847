package viva

import (
	"errors"
	"fmt"
)

var (
	ErrNoAudio         = errors.New("no audio data received")
	ErrAudioLimit      = errors.New("utterance exceeds maximum audio size")
	ErrNoQuestions     = errors.New("no questions available")
	ErrEmptyAnswer     = errors.New("empty text response")
	ErrEmptyTranscript = errors.New("empty transcription")
	ErrEmptyReply      = errors.New("empty generated response")
	ErrUnavailable     = errors.New("collaborator unavailable")
	ErrSessionEnded    = errors.New("session ended")
)

// 返回给客户端的错误文案
const (
	msgNoQuestions      = "No questions available. Please upload a questions file first."
	msgNoAudio          = "No audio data received."
	msgEmptyAnswer      = "Empty text response."
	msgTranscription    = "Transcription failed."
	msgGeneration       = "Response generation failed."
	msgAudioLimit       = "Audio exceeds the maximum utterance size; extra audio was dropped."
	msgProcessingFailed = "Audio processing failed: "
)

// ErrorKind 区分错误来源，决定日志级别
type ErrorKind int

const (
	// KindInput 客户端输入不满足前置条件
	KindInput ErrorKind = iota
	// KindCollaborator 转写/生成等外部协作者失败
	KindCollaborator
	// KindInternal 本地资源或意外错误
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindCollaborator:
		return "collaborator"
	default:
		return "internal"
	}
}

// TurnError 是一轮处理中止的原因，Message 会原样发给客户端。
type TurnError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *TurnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

func inputError(message string, err error) *TurnError {
	return &TurnError{Kind: KindInput, Message: message, Err: err}
}

func collaboratorError(message string, err error) *TurnError {
	return &TurnError{Kind: KindCollaborator, Message: message, Err: err}
}

func internalError(err error) *TurnError {
	return &TurnError{Kind: KindInternal, Message: msgProcessingFailed + err.Error(), Err: err}
}
