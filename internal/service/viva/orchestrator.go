package viva

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/viva/backend/internal/logger"
	model "github.com/zhouzirui/viva/backend/internal/model/viva"
	"github.com/zhouzirui/viva/backend/internal/service/questions"
)

// Transcriber 语音转文字，返回空文本视为失败
type Transcriber interface {
	Transcribe(ctx context.Context, sessionID string, audio io.Reader, format string) (string, error)
}

// Generator 根据系统提示词与本轮上下文生成回复
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, turn model.TurnContext) (string, error)
}

// Synthesizer 文字转语音
type Synthesizer interface {
	Synthesize(ctx context.Context, sessionID, text string) ([]byte, error)
}

// Emitter 是连接唯一的写出口，实现方负责串行化写入
type Emitter interface {
	SendEvent(msg model.Outbound) error
	SendAudio(chunk []byte) error
}

// QuestionSource 提供上传的默认题库
type QuestionSource interface {
	Questions() []string
}

// Collaborators 一轮答题依赖的外部能力，均可为空
type Collaborators struct {
	Transcriber Transcriber
	Generator   Generator
	Synthesizer Synthesizer
}

// UnknownEventPolicy 决定未识别事件是否告知客户端
type UnknownEventPolicy string

const (
	UnknownIgnore UnknownEventPolicy = "ignore"
	UnknownReport UnknownEventPolicy = "error"
)

// ExhaustionPolicy 决定题目全部问完后的行为
type ExhaustionPolicy string

const (
	ExhaustContinue ExhaustionPolicy = "continue"
	ExhaustRecycle  ExhaustionPolicy = "recycle"
	ExhaustEnd      ExhaustionPolicy = "end"
)

// ParseUnknownEventPolicy 空字符串视为 ignore
func ParseUnknownEventPolicy(raw string) (UnknownEventPolicy, error) {
	switch p := UnknownEventPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return UnknownIgnore, nil
	case UnknownIgnore, UnknownReport:
		return p, nil
	default:
		return "", fmt.Errorf("unknown event policy %q", raw)
	}
}

// ParseExhaustionPolicy 空字符串视为 continue
func ParseExhaustionPolicy(raw string) (ExhaustionPolicy, error) {
	switch p := ExhaustionPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return ExhaustContinue, nil
	case ExhaustContinue, ExhaustRecycle, ExhaustEnd:
		return p, nil
	default:
		return "", fmt.Errorf("unknown exhaustion policy %q", raw)
	}
}

// Config 编排器参数
type Config struct {
	HistoryLimit    int
	AudioChunkBytes int
	AudioFormat     string
	TurnTimeout     time.Duration
	UnknownEvents   UnknownEventPolicy
	Exhaustion      ExhaustionPolicy
}

// DefaultConfig 返回默认参数
func DefaultConfig() Config {
	return Config{
		HistoryLimit:    10,
		AudioChunkBytes: 512 * 1024,
		AudioFormat:     "wav",
		TurnTimeout:     2 * time.Minute,
		UnknownEvents:   UnknownIgnore,
		Exhaustion:      ExhaustContinue,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.AudioChunkBytes <= 0 {
		c.AudioChunkBytes = def.AudioChunkBytes
	}
	if c.AudioFormat == "" {
		c.AudioFormat = def.AudioFormat
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = def.TurnTimeout
	}
	if c.UnknownEvents == "" {
		c.UnknownEvents = def.UnknownEvents
	}
	if c.Exhaustion == "" {
		c.Exhaustion = def.Exhaustion
	}
	return c
}

const (
	markerStarted     = "Viva started."
	markerAutoStarted = "Viva auto-started."
)

// job 是一次排队执行的事件。end_utterance 在到达时就取走缓冲区，
// audio 为空表示排在运行中一轮之后的边界，出队时再取。
type job struct {
	ev    model.Event
	audio []byte
}

// Orchestrator 驱动单个会话的状态机。
// start/end_utterance/text_response 在后台协程里逐个执行，同一时刻最多一轮；
// get_state 与 end_session 立即处理。
type Orchestrator struct {
	session  *Session
	emit     Emitter
	scratch  *Scratch
	defaults QuestionSource
	deps     Collaborators
	cfg      Config

	mu      sync.Mutex
	busy    bool
	ended   bool
	pending []job

	// emitMu 串行化“检查 ended + 写出”，保证 session_ended 之后不再有任何帧
	emitMu sync.Mutex

	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

// NewOrchestrator scratch 为空时语音直接以内存形式交给转写
func NewOrchestrator(session *Session, emit Emitter, scratch *Scratch, defaults QuestionSource, deps Collaborators, cfg Config) *Orchestrator {
	return &Orchestrator{
		session:  session,
		emit:     emit,
		scratch:  scratch,
		defaults: defaults,
		deps:     deps,
		cfg:      cfg.withDefaults(),
		done:     make(chan struct{}),
	}
}

// Done 会话进入 ENDED 后关闭
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

func (o *Orchestrator) Session() *Session {
	return o.session
}

// Handle 对事件做显式分派，不会阻塞调用方。
func (o *Orchestrator) Handle(ctx context.Context, ev model.Event) {
	if o.isEnded() {
		return
	}

	switch e := ev.(type) {
	case model.GetState:
		o.send(model.State(o.session.Snapshot()))
	case model.EndSession:
		o.End()
	case model.Start, model.EndUtterance, model.TextResponse:
		o.enqueue(ctx, ev)
	case model.Unknown:
		o.ignore(e)
	default:
		logger.Warn("viva event has no handler", "session", o.session.ID, "event", ev.Name())
	}
}

// AppendAudio 缓存二进制帧；超出单段上限时告知客户端一次
func (o *Orchestrator) AppendAudio(fragment []byte) {
	if o.isEnded() {
		return
	}
	if err := o.session.AppendAudio(fragment); err != nil {
		logger.Warn("viva dropped audio fragment", "session", o.session.ID, "bytes", len(fragment), "err", err)
		o.send(model.Failure(msgAudioLimit))
	}
}

// End 发送 session_ended 并进入终态，可重复调用。
// 正在执行的一轮此后的输出全部丢弃。
func (o *Orchestrator) End() {
	o.emitMu.Lock()
	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		o.emitMu.Unlock()
		return
	}
	o.ended = true
	o.pending = nil
	o.mu.Unlock()

	o.session.end()
	o.write(model.SessionEnded())
	o.emitMu.Unlock()

	o.doneOnce.Do(func() { close(o.done) })
}

// Close 连接断开时调用：丢弃排队事件与未处理音频，不再向客户端写任何内容。
// 正在执行的一轮不会被打断，但它之后的写入由 Emitter 负责吞掉。
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.ended = true
	o.pending = nil
	o.mu.Unlock()

	o.session.end()
	o.doneOnce.Do(func() { close(o.done) })
}

// Wait 等待正在执行的一轮结束
func (o *Orchestrator) Wait(ctx context.Context) bool {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		o.wg.Wait()
	}()

	select {
	case <-finished:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) isEnded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ended
}

// enqueue 在 pump 协程上执行：空闲时立即取走本段语音并启动一轮，
// 之后到达的二进制帧只会进入下一段。
func (o *Orchestrator) enqueue(ctx context.Context, ev model.Event) {
	_, boundary := ev.(model.EndUtterance)

	o.mu.Lock()
	if o.ended {
		o.mu.Unlock()
		return
	}
	if o.busy {
		if boundary && o.lastPendingIsUtterance() {
			o.mu.Unlock()
			logger.Debug("viva coalesced utterance boundary", "session", o.session.ID)
			return
		}
		o.pending = append(o.pending, job{ev: ev})
		o.mu.Unlock()
		logger.Debug("viva queued event behind running turn", "session", o.session.ID, "event", ev.Name())
		return
	}

	j := job{ev: ev}
	if boundary {
		audio, err := o.session.audio.Flush()
		if err != nil {
			o.mu.Unlock()
			o.report(ev, inputError(msgNoAudio, err))
			return
		}
		j.audio = audio
	}
	o.busy = true
	o.wg.Add(1)
	o.mu.Unlock()

	go o.work(ctx, j)
}

func (o *Orchestrator) lastPendingIsUtterance() bool {
	if len(o.pending) == 0 {
		return false
	}
	_, ok := o.pending[len(o.pending)-1].ev.(model.EndUtterance)
	return ok
}

func (o *Orchestrator) work(ctx context.Context, j job) {
	defer o.wg.Done()

	for {
		o.run(ctx, j)

		o.mu.Lock()
		if o.ended || len(o.pending) == 0 {
			o.busy = false
			o.pending = nil
			o.mu.Unlock()
			return
		}
		j = o.pending[0]
		o.pending = o.pending[1:]
		o.mu.Unlock()
	}
}

func (o *Orchestrator) run(ctx context.Context, j job) {
	ev := j.ev
	// 连接断开不打断正在进行的协作者调用，只受单轮超时约束
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.TurnTimeout)
	defer cancel()
	defer o.session.settle()
	defer func() {
		if r := recover(); r != nil {
			o.report(ev, internalError(fmt.Errorf("panic: %v", r)))
		}
	}()

	var err error
	switch e := ev.(type) {
	case model.Start:
		err = o.start(e)
	case model.EndUtterance:
		err = o.answerUtterance(ctx, j.audio)
	case model.TextResponse:
		err = o.answerText(ctx, e.Text)
	}
	if err != nil {
		o.report(ev, err)
	}
}

func (o *Orchestrator) start(ev model.Start) error {
	if o.session.hasQuestions() {
		logger.Info("viva start repeated, keeping loaded questions", "session", o.session.ID)
		o.session.begin(nil, markerStarted)
	} else {
		qs := questions.Normalize(ev.Questions)
		if len(qs) == 0 && o.defaults != nil {
			qs = o.defaults.Questions()
		}
		if len(qs) == 0 {
			return inputError(msgNoQuestions, ErrNoQuestions)
		}
		o.session.begin(qs, markerStarted)
	}

	o.session.enter(model.PhaseActive)
	o.send(model.Started(o.session.ID))
	logger.Info("viva started", "session", o.session.ID, "questions", o.session.Snapshot().QuestionsCount)

	if idx, _, ok := o.selectNext(); ok {
		o.ask(idx)
	} else {
		o.exhausted()
	}
	return nil
}

func (o *Orchestrator) answerUtterance(ctx context.Context, audio []byte) (err error) {
	if audio == nil {
		if audio, err = o.session.audio.Flush(); err != nil {
			return inputError(msgNoAudio, err)
		}
	}
	o.autoStart()
	o.session.enter(model.PhaseProcessing)

	ctx, span := tracer.Start(ctx, "viva turn", trace.WithAttributes(
		attribute.String("viva.session", o.session.ID),
		attribute.String("viva.input", "audio"),
		attribute.Int("viva.audio_bytes", len(audio)),
	))
	defer func() { finishSpan(span, err) }()

	var src io.Reader = bytes.NewReader(audio)
	if o.scratch != nil {
		blob, err := o.scratch.Spool(audio, o.cfg.AudioFormat)
		if err != nil {
			return internalError(err)
		}
		defer func() {
			if rerr := blob.Release(); rerr != nil {
				logger.Warn("viva failed to release audio blob", "session", o.session.ID, "path", blob.Path, "err", rerr)
			}
		}()

		f, err := blob.Open()
		if err != nil {
			return internalError(err)
		}
		defer f.Close()
		src = f
	}

	text, err := o.transcribe(ctx, src)
	if err != nil {
		return collaboratorError(msgTranscription, err)
	}
	return o.answer(ctx, text, true)
}

func (o *Orchestrator) answerText(ctx context.Context, text string) (err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return inputError(msgEmptyAnswer, ErrEmptyAnswer)
	}
	o.autoStart()
	o.session.enter(model.PhaseProcessing)

	ctx, span := tracer.Start(ctx, "viva turn", trace.WithAttributes(
		attribute.String("viva.session", o.session.ID),
		attribute.String("viva.input", "text"),
	))
	defer func() { finishSpan(span, err) }()

	return o.answer(ctx, text, false)
}

// answer 记录回答、生成反馈、按需合成语音，最后下发下一题
func (o *Orchestrator) answer(ctx context.Context, text string, speak bool) error {
	if o.isEnded() {
		return nil
	}
	o.session.appendTurn(model.RoleUser, text)
	o.send(model.Transcription(text))

	idx, next, hasNext := o.selectNext()
	turn := model.TurnContext{
		StudentLastAnswer:   text,
		ConversationHistory: o.session.recentHistory(o.cfg.HistoryLimit),
	}
	if hasNext {
		turn.NextPredefinedQuestion = &next
	}

	reply, err := o.generate(ctx, BuildSystemPrompt(o.session.questionList()), turn)
	if err != nil {
		return collaboratorError(msgGeneration, err)
	}

	if o.isEnded() {
		return nil
	}
	o.session.appendTurn(model.RoleAssistant, reply)
	o.send(model.Response(reply))

	if speak && !o.isEnded() {
		o.speak(ctx, reply)
	}

	if hasNext {
		o.ask(idx)
	} else {
		o.exhausted()
	}
	return nil
}

func (o *Orchestrator) transcribe(ctx context.Context, audio io.Reader) (text string, err error) {
	if o.deps.Transcriber == nil {
		return "", fmt.Errorf("transcriber: %w", ErrUnavailable)
	}

	ctx, span := tracer.Start(ctx, "transcribe")
	defer func() { finishSpan(span, err) }()

	text, err = o.deps.Transcriber.Transcribe(ctx, o.session.ID, audio, o.cfg.AudioFormat)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

func (o *Orchestrator) generate(ctx context.Context, systemPrompt string, turn model.TurnContext) (reply string, err error) {
	if o.deps.Generator == nil {
		return "", fmt.Errorf("generator: %w", ErrUnavailable)
	}

	ctx, span := tracer.Start(ctx, "generate")
	defer func() { finishSpan(span, err) }()

	reply, err = o.deps.Generator.Generate(ctx, systemPrompt, turn)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// speak 合成并分片下发语音；任何失败只产生 audio_failed，不影响后续出题
func (o *Orchestrator) speak(ctx context.Context, text string) {
	audio, err := o.synthesize(ctx, text)
	if err != nil {
		logger.Warn("viva synthesis failed", "session", o.session.ID, "err", err)
		o.send(model.AudioFailed())
		return
	}

	chunk := o.cfg.AudioChunkBytes
	for off := 0; off < len(audio); off += chunk {
		end := min(off+chunk, len(audio))
		if !o.sendAudio(audio[off:end]) {
			return
		}
	}
	o.send(model.AudioEnd())
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) (audio []byte, err error) {
	if o.deps.Synthesizer == nil {
		return nil, fmt.Errorf("synthesizer: %w", ErrUnavailable)
	}

	ctx, span := tracer.Start(ctx, "synthesize")
	defer func() { finishSpan(span, err) }()

	audio, err = o.deps.Synthesizer.Synthesize(ctx, o.session.ID, text)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, errors.New("synthesis returned no audio")
	}
	span.SetAttributes(attribute.Int("viva.tts_bytes", len(audio)))
	return audio, nil
}

// selectNext 挑选下一题；recycle 策略下题目耗尽时开启新一轮
func (o *Orchestrator) selectNext() (int, string, bool) {
	idx, text, ok := o.session.pickNext()
	if ok || o.cfg.Exhaustion != ExhaustRecycle || !o.session.hasQuestions() {
		return idx, text, ok
	}

	logger.Info("viva question list exhausted, starting a new round", "session", o.session.ID)
	o.session.resetAsked()
	return o.session.pickNext()
}

func (o *Orchestrator) ask(idx int) {
	if text := o.session.markAsked(idx); text != "" {
		o.send(model.Question(text))
	}
}

func (o *Orchestrator) exhausted() {
	if o.cfg.Exhaustion == ExhaustEnd && o.session.hasQuestions() {
		logger.Info("viva question list exhausted, ending session", "session", o.session.ID)
		o.End()
		return
	}
	logger.Debug("viva has no further questions", "session", o.session.ID)
}

func (o *Orchestrator) autoStart() {
	if o.session.ensureInitialized(markerAutoStarted) {
		logger.Info("viva auto-started without start event", "session", o.session.ID)
	}
}

func (o *Orchestrator) ignore(ev model.Unknown) {
	logger.Debug("viva ignored unknown event", "session", o.session.ID, "event", ev.Event)
	if o.cfg.UnknownEvents == UnknownReport {
		o.send(model.Failure("unknown event: " + ev.Event))
	}
}

// report 是一轮错误唯一的上报点：记录日志并转换为客户端 error 事件
func (o *Orchestrator) report(ev model.Event, err error) {
	var te *TurnError
	if !errors.As(err, &te) {
		te = internalError(err)
	}

	attrs := []any{"session", o.session.ID, "event", ev.Name(), "kind", te.Kind.String(), "err", te.Err}
	switch te.Kind {
	case KindInput:
		logger.Info("viva rejected event", attrs...)
	case KindCollaborator:
		logger.Warn("viva turn aborted", attrs...)
	default:
		logger.Error("viva turn failed", attrs...)
	}
	o.send(model.Failure(te.Message))
}

// send 在会话结束后静默丢弃
func (o *Orchestrator) send(msg model.Outbound) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	if o.isEnded() {
		logger.Debug("viva event dropped after end", "session", o.session.ID, "event", msg.Event)
		return
	}
	o.write(msg)
}

func (o *Orchestrator) sendAudio(chunk []byte) bool {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	if o.isEnded() {
		return false
	}
	if err := o.emit.SendAudio(chunk); err != nil {
		logger.Debug("viva audio chunk not delivered", "session", o.session.ID, "err", err)
	}
	return true
}

func (o *Orchestrator) write(msg model.Outbound) {
	if err := o.emit.SendEvent(msg); err != nil {
		logger.Debug("viva event not delivered", "session", o.session.ID, "event", msg.Event, "err", err)
	}
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
