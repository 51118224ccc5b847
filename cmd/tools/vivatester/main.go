package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/viva/backend/internal/config"
	"github.com/zhouzirui/viva/backend/internal/logger"
	speechmodel "github.com/zhouzirui/viva/backend/internal/model/speech"
	model "github.com/zhouzirui/viva/backend/internal/model/viva"
	"github.com/zhouzirui/viva/backend/internal/service/speech"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logger.Warn("无法加载 .env，改用系统环境变量", "err", err)
	}

	mode := flag.String("mode", "", "测试模式: asr, tts 或 viva")
	audioPath := flag.String("audio", "", "输入音频文件路径 (asr / viva)")
	text := flag.String("text", "", "TTS 文本，或 viva 模式下的文字回答")
	outputPath := flag.String("out", "", "输出音频文件路径 (默认根据格式自动生成)")
	format := flag.String("format", "", "音频格式 (ASR: 输入格式; TTS: 输出格式)")
	language := flag.String("lang", "", "语言代码，默认使用配置中的语言")
	voice := flag.String("voice", "", "TTS 声音 ID，默认使用配置中的 TTSVoice")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	url := flag.String("url", "ws://localhost:8080/ws", "viva 模式的 websocket 地址")
	questionList := flag.String("questions", "", "viva 模式下用 | 分隔的题目，留空使用服务端默认题库")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	switch *mode {
	case "asr", "tts":
		cfg, err := config.Load()
		if err != nil {
			logger.Fatal("配置加载失败", "err", err)
		}
		svc, err := speech.NewService(cfg.Speech.Model())
		if err != nil {
			logger.Fatal("语音服务初始化失败", "err", err)
		}
		if *mode == "asr" {
			runASR(ctx, svc, cfg, sessionID, *audioPath, *format, *language)
		} else {
			runTTS(ctx, svc, cfg, sessionID, *text, *voice, *format, *language, *outputPath)
		}
	case "viva":
		runViva(ctx, *url, splitQuestions(*questionList), *audioPath, *text)
	default:
		flag.Usage()
		logger.Fatal("请通过 -mode=asr、-mode=tts 或 -mode=viva 指定测试模式")
	}
}

func runASR(ctx context.Context, svc *speech.Service, cfg *config.Config, sessionID, audioPath, format, language string) {
	if audioPath == "" {
		logger.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	file, err := os.Open(audioPath)
	if err != nil {
		logger.Fatal("打开音频文件失败", "err", err)
	}
	defer file.Close()

	if format == "" {
		format = audioFormat(audioPath)
	}
	if language == "" {
		language = cfg.Speech.ASRLanguage
	}

	logger.Info("开始进行 ASR 测试", "session", sessionID, "provider", svc.Provider(), "format", format, "language", language)

	resp, err := svc.TranscribeAudio(ctx, &speechmodel.ASRRequest{
		SessionID: sessionID,
		AudioData: file,
		Format:    format,
		Language:  language,
	})
	if err != nil {
		logger.Fatal("ASR 调用失败", "err", err)
	}

	logger.Info("ASR 识别成功", "text", resp.Text, "confidence", resp.Confidence, "duration_ms", resp.Duration)
}

func runTTS(ctx context.Context, svc *speech.Service, cfg *config.Config, sessionID, text, voice, format, language, outputPath string) {
	if strings.TrimSpace(text) == "" {
		logger.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}
	if voice == "" {
		voice = cfg.Speech.TTSVoice
	}
	if language == "" {
		language = cfg.Speech.TTSLanguage
	}
	if format == "" {
		format = "mp3"
	}
	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), format)
	}

	logger.Info("开始进行 TTS 测试", "session", sessionID, "voice", voice, "format", format)

	resp, err := svc.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
		Format:    format,
		Language:  language,
	})
	if err != nil {
		logger.Fatal("TTS 调用失败", "err", err)
	}

	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		logger.Fatal("写入音频文件失败", "err", err)
	}
	logger.Info("TTS 合成成功", "out", outputPath, "duration_ms", resp.Duration)
}

// runViva 走一遍完整的答辩流程：start → 回答 → 等待 response
func runViva(ctx context.Context, url string, qs []string, audioPath, answer string) {
	if audioPath == "" && strings.TrimSpace(answer) == "" {
		logger.Fatal("viva 模式需要 -audio 或 -text 作为回答")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		logger.Fatal("连接 websocket 失败", "url", url, "err", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	send := func(v any) {
		if err := conn.WriteJSON(v); err != nil {
			logger.Fatal("发送失败", "err", err)
		}
	}

	send(map[string]any{"event": model.EventStart, "questions": qs})
	if !await(conn, model.OutQuestion) {
		return
	}

	if audioPath != "" {
		data, err := os.ReadFile(audioPath)
		if err != nil {
			logger.Fatal("读取音频失败", "err", err)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			logger.Fatal("发送音频失败", "err", err)
		}
		send(map[string]any{"event": model.EventEndUtterance})
	} else {
		send(map[string]any{"event": model.EventTextResponse, "text": answer})
	}

	if !await(conn, model.OutResponse) {
		return
	}
	send(map[string]any{"event": model.EventGetState})
	await(conn, model.OutState)
	send(map[string]any{"event": model.EventEndSession})
	await(conn, model.OutSessionEnded)
}

// await 打印收到的帧直到出现目标事件；遇到 error 事件返回 false
func await(conn *websocket.Conn, target string) bool {
	audioBytes := 0
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			logger.Error("读取失败", "err", err)
			return false
		}
		if kind == websocket.BinaryMessage {
			audioBytes += len(data)
			continue
		}

		var frame model.Outbound
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warn("无法解析下行帧", "raw", string(data))
			continue
		}
		logger.Info("收到事件", "event", frame.Event, "text", frame.Text, "message", frame.Message, "audio_bytes", audioBytes)
		if frame.State != nil {
			logger.Info("会话状态", "questions", frame.State.QuestionsCount, "asked", frame.State.AskedCount, "initialized", frame.State.Initialized)
		}

		switch frame.Event {
		case target:
			return true
		case model.OutError:
			return false
		}
	}
}

func splitQuestions(raw string) []string {
	var out []string
	for _, q := range strings.Split(raw, "|") {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

func audioFormat(path string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."); ext != "" {
		return ext
	}
	return "wav"
}
