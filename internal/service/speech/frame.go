package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// 火山引擎流式语音接口的二进制帧：
// header(4) | [sequence] | [event | session id | connect id] | [error code] | payload size | payload

type frameKind uint8

const (
	kindFullRequest   frameKind = 0x1
	kindAudioRequest  frameKind = 0x2
	kindFullResponse  frameKind = 0x9
	kindAudioResponse frameKind = 0xB
	kindError         frameKind = 0xF
)

type frameFlags uint8

const (
	flagNone         frameFlags = 0x0
	flagSequence     frameFlags = 0x1
	flagLast         frameFlags = 0x2
	flagLastSequence frameFlags = 0x3
	flagEvent        frameFlags = 0x4
)

type serverEvent int32

const (
	eventStartConnection    serverEvent = 1
	eventFinishConnection   serverEvent = 2
	eventConnectionStarted  serverEvent = 50
	eventConnectionFailed   serverEvent = 51
	eventConnectionFinished serverEvent = 52
	eventSessionStarted     serverEvent = 150
	eventSessionFinished    serverEvent = 152
	eventSessionFailed      serverEvent = 153
)

// connectionScoped 连接级事件不带 session id
func (e serverEvent) connectionScoped() bool {
	switch e {
	case eventStartConnection, eventFinishConnection,
		eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return true
	default:
		return false
	}
}

func (e serverEvent) carriesConnectID() bool {
	switch e {
	case eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return true
	default:
		return false
	}
}

const (
	protocolVersion = 0x1
	serialNone      = 0x0
	serialJSON      = 0x1
	compressNone    = 0x0
	compressGzip    = 0x1
)

// frame payload 始终保存解压后的内容
type frame struct {
	kind      frameKind
	flags     frameFlags
	serial    uint8
	gzip      bool
	seq       int32
	event     serverEvent
	sessionID string
	connectID string
	code      uint32
	payload   []byte
}

func (f *frame) sequenced() bool {
	m := f.flags & flagLastSequence
	return m == flagSequence || m == flagLastSequence
}

func (f *frame) last() bool {
	m := f.flags & flagLastSequence
	return m == flagLast || m == flagLastSequence
}

func (f *frame) hasEvent() bool {
	return f.flags&flagEvent != 0
}

// configFrame 携带 JSON 请求参数的首帧
func configFrame(payload []byte, compress bool) *frame {
	return &frame{kind: kindFullRequest, serial: serialJSON, gzip: compress, payload: payload}
}

// audioFrame 最后一包使用负序号
func audioFrame(chunk []byte, seq int32, last bool) *frame {
	f := &frame{kind: kindAudioRequest, serial: serialNone, gzip: true, seq: seq, payload: chunk}
	switch {
	case last && seq != 0:
		f.flags = flagLastSequence
		f.seq = -seq
	case last:
		f.flags = flagLast
	case seq > 0:
		f.flags = flagSequence
	default:
		f.flags = flagNone
	}
	return f
}

func (f *frame) marshal() ([]byte, error) {
	payload := f.payload
	compress := byte(compressNone)
	if f.gzip {
		z, err := gzipBytes(payload)
		if err != nil {
			return nil, err
		}
		payload = z
		compress = compressGzip
	}

	var buf bytes.Buffer
	buf.Write([]byte{
		protocolVersion<<4 | 0x1,
		byte(f.kind)<<4 | byte(f.flags),
		f.serial<<4 | compress,
		0,
	})
	if f.sequenced() {
		writeUint32(&buf, uint32(f.seq))
	}
	if f.hasEvent() {
		writeUint32(&buf, uint32(f.event))
		if !f.event.connectionScoped() {
			writeSized(&buf, f.sessionID)
		}
		if f.event.carriesConnectID() {
			writeSized(&buf, f.connectID)
		}
	}
	if f.kind == kindError {
		writeUint32(&buf, f.code)
	}
	writeUint32(&buf, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes(), nil
}

func parseFrame(data []byte) (*frame, error) {
	r := bytes.NewReader(data)

	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	if v := head[0] >> 4; v != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", v)
	}
	if extra := int(head[0]&0x0F)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("read extended header: %w", err)
		}
	}

	f := &frame{
		kind:   frameKind(head[1] >> 4),
		flags:  frameFlags(head[1] & 0x0F),
		serial: head[2] >> 4,
	}
	compress := head[2] & 0x0F

	if f.sequenced() {
		v, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		f.seq = int32(v)
	}

	if f.hasEvent() {
		v, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		f.event = serverEvent(int32(v))
		if !f.event.connectionScoped() {
			if f.sessionID, err = readSized(r); err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
		}
		if f.event.carriesConnectID() {
			if f.connectID, err = readSized(r); err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
		}
	}

	if f.kind == kindError {
		code, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
		f.code = code
	}

	payload, err := readSized(r)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	f.payload = []byte(payload)

	switch compress {
	case compressNone:
	case compressGzip:
		f.gzip = true
		if len(f.payload) > 0 {
			if f.payload, err = gunzipBytes(f.payload); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", compress)
	}
	return f, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeSized(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readSized(r *bytes.Reader) (string, error) {
	size, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if int64(size) > int64(r.Len()) {
		return "", fmt.Errorf("declared size %d exceeds remaining %d bytes", size, r.Len())
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return out, nil
}
