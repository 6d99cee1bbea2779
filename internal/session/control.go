package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/gonewx/nextalk-sub001/internal/audio"
)

// DefaultHotwordWeight applies to hotwords sent without a weight.
const DefaultHotwordWeight = 20

// ErrMalformedControl is returned for control payloads that are not a JSON object.
var ErrMalformedControl = errors.New("malformed control message")

// FieldError describes one control field that was present but rejected.
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("control field %q: %v", e.Field, e.Err)
}

func (e FieldError) Unwrap() error { return e.Err }

// ControlMessage is a decoded client directive. A nil field was absent and
// leaves the session unchanged.
type ControlMessage struct {
	Speaking            *bool
	ChunkIntervalFrames *int
	Label               *string
	ChunkSize           *[3]int
	EncoderLookBack     *int
	DecoderLookBack     *int
	Hotwords            *map[string]int
	Mode                *Mode
	AudioFormat         *audio.Format
	AudioSampleRate     *int
	ITN                 *bool

	// Invalid lists fields that were present but rejected.
	Invalid []FieldError
}

// Field names followed by their accepted legacy aliases. The first present
// spelling wins.
var (
	keysSpeaking        = []string{"speaking", "is_speaking"}
	keysChunkInterval   = []string{"chunkIntervalFrames", "chunk_interval"}
	keysLabel           = []string{"label", "wav_name"}
	keysChunkSize       = []string{"chunkSize", "chunk_size"}
	keysEncoderLookBack = []string{"encoderLookBack", "encoder_chunk_look_back"}
	keysDecoderLookBack = []string{"decoderLookBack", "decoder_chunk_look_back"}
	keysHotwords        = []string{"hotwords"}
	keysMode            = []string{"mode"}
	keysAudioFormat     = []string{"audioFormat", "wav_format"}
	keysAudioSampleRate = []string{"audioSampleRate", "audio_fs"}
	keysITN             = []string{"inverseTextNormalization", "itn"}
)

// ParseControl decodes a control payload. It fails only when the payload is
// not a JSON object; individual bad fields are collected in Invalid.
// Unknown keys are ignored.
func ParseControl(data []byte) (*ControlMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedControl)
	}

	msg := &ControlMessage{}
	p := fieldParser{raw: raw, msg: msg}

	if v, ok := p.lookup(keysSpeaking); ok {
		msg.Speaking = p.boolField(keysSpeaking[0], v)
	}
	if v, ok := p.lookup(keysChunkInterval); ok {
		if n := p.intField(keysChunkInterval[0], v); n != nil {
			if *n < 1 {
				p.reject(keysChunkInterval[0], fmt.Errorf("must be positive, got %d", *n))
			} else {
				msg.ChunkIntervalFrames = n
			}
		}
	}
	if v, ok := p.lookup(keysLabel); ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			p.reject(keysLabel[0], errors.New("must be a string"))
		} else {
			msg.Label = &s
		}
	}
	if v, ok := p.lookup(keysChunkSize); ok {
		if cs, err := parseChunkSize(v); err != nil {
			p.reject(keysChunkSize[0], err)
		} else {
			msg.ChunkSize = &cs
		}
	}
	if v, ok := p.lookup(keysEncoderLookBack); ok {
		msg.EncoderLookBack = p.nonNegative(keysEncoderLookBack[0], v)
	}
	if v, ok := p.lookup(keysDecoderLookBack); ok {
		msg.DecoderLookBack = p.nonNegative(keysDecoderLookBack[0], v)
	}
	if v, ok := p.lookup(keysHotwords); ok {
		if hw, err := ParseHotwords(v); err != nil {
			p.reject(keysHotwords[0], err)
		} else {
			msg.Hotwords = &hw
		}
	}
	if v, ok := p.lookup(keysMode); ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			p.reject(keysMode[0], errors.New("must be a string"))
		} else if m, ok := ParseMode(s); !ok {
			p.reject(keysMode[0], fmt.Errorf("unknown mode %q", s))
		} else {
			msg.Mode = &m
		}
	}
	if v, ok := p.lookup(keysAudioFormat); ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			p.reject(keysAudioFormat[0], errors.New("must be a string"))
		} else if f, ok := audio.ParseFormat(s); !ok {
			p.reject(keysAudioFormat[0], fmt.Errorf("unsupported audio format %q", s))
		} else {
			msg.AudioFormat = &f
		}
	}
	if v, ok := p.lookup(keysAudioSampleRate); ok {
		if n := p.intField(keysAudioSampleRate[0], v); n != nil {
			if *n < 4000 || *n > 192000 {
				p.reject(keysAudioSampleRate[0], fmt.Errorf("sample rate %d out of range", *n))
			} else {
				msg.AudioSampleRate = n
			}
		}
	}
	if v, ok := p.lookup(keysITN); ok {
		msg.ITN = p.boolField(keysITN[0], v)
	}

	return msg, nil
}

type fieldParser struct {
	raw map[string]json.RawMessage
	msg *ControlMessage
}

func (p *fieldParser) lookup(keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := p.raw[k]; ok {
			if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
				return nil, false
			}
			return v, true
		}
	}
	return nil, false
}

func (p *fieldParser) reject(field string, err error) {
	p.msg.Invalid = append(p.msg.Invalid, FieldError{Field: field, Err: err})
}

func (p *fieldParser) boolField(field string, v json.RawMessage) *bool {
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return &b
	}
	// Some clients send "true"/"false" strings.
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return &b
		}
	}
	p.reject(field, errors.New("must be a boolean"))
	return nil
}

func (p *fieldParser) intField(field string, v json.RawMessage) *int {
	n, err := decodeInt(v)
	if err != nil {
		p.reject(field, err)
		return nil
	}
	return &n
}

func (p *fieldParser) nonNegative(field string, v json.RawMessage) *int {
	n := p.intField(field, v)
	if n != nil && *n < 0 {
		p.reject(field, fmt.Errorf("must not be negative, got %d", *n))
		return nil
	}
	return n
}

// decodeInt accepts a JSON integer or a string holding one.
func decodeInt(v json.RawMessage) (int, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		if f != float64(int(f)) {
			return 0, fmt.Errorf("must be an integer, got %v", f)
		}
		return int(f), nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("must be an integer")
}

// parseChunkSize accepts [5,10,5] or "5,10,5".
func parseChunkSize(v json.RawMessage) ([3]int, error) {
	var out [3]int
	var parts []json.RawMessage
	if err := json.Unmarshal(v, &parts); err != nil {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return out, errors.New("must be an array of three integers")
		}
		for _, f := range strings.Split(s, ",") {
			parts = append(parts, json.RawMessage(strconv.Quote(strings.TrimSpace(f))))
		}
	}
	if len(parts) != 3 {
		return out, fmt.Errorf("must have three values, got %d", len(parts))
	}
	for i, part := range parts {
		n, err := decodeInt(part)
		if err != nil {
			return out, err
		}
		if n < 0 {
			return out, fmt.Errorf("values must not be negative, got %d", n)
		}
		out[i] = n
	}
	if out[1] == 0 {
		return out, errors.New("chunk length must be positive")
	}
	return out, nil
}

// ParseHotwords decodes hotwords given as a JSON object, as a string holding
// a JSON object, or as text with one "phrase weight" entry per line. Words
// on a line without a trailing weight each get DefaultHotwordWeight. An
// empty value clears the hotwords.
func ParseHotwords(v json.RawMessage) (map[string]int, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(v, &obj); err == nil {
		return hotwordsFromObject(obj)
	}

	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return nil, errors.New("must be an object or a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]int{}, nil
	}
	if strings.HasPrefix(s, "{") {
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return nil, fmt.Errorf("invalid hotword object: %v", err)
		}
		return hotwordsFromObject(obj)
	}

	out := make(map[string]int)
	for _, line := range strings.Split(s, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) > 1 {
			if w, err := strconv.Atoi(fields[len(fields)-1]); err == nil {
				out[strings.Join(fields[:len(fields)-1], " ")] = w
				continue
			}
		}
		for _, f := range fields {
			out[f] = DefaultHotwordWeight
		}
	}
	return out, nil
}

func hotwordsFromObject(obj map[string]json.RawMessage) (map[string]int, error) {
	out := make(map[string]int, len(obj))
	for word, raw := range obj {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		w, err := decodeInt(raw)
		if err != nil {
			return nil, fmt.Errorf("weight for %q: %v", word, err)
		}
		out[word] = w
	}
	return out, nil
}

// ApplyControl overwrites every field present in msg. A speaking
// transition from true to false sets StopPending; the caller decides when
// to act on it. It reports whether anything changed.
func ApplyControl(s *State, msg *ControlMessage) bool {
	changed := false
	if msg.Speaking != nil {
		if s.Speaking && !*msg.Speaking {
			s.StopPending = true
		}
		changed = changed || s.Speaking != *msg.Speaking
		s.Speaking = *msg.Speaking
	}
	if msg.ChunkIntervalFrames != nil {
		changed = true
		s.ChunkIntervalFrames = *msg.ChunkIntervalFrames
	}
	if msg.Label != nil {
		changed = true
		s.Label = *msg.Label
	}
	if msg.ChunkSize != nil {
		changed = true
		s.ChunkSize = *msg.ChunkSize
	}
	if msg.EncoderLookBack != nil {
		changed = true
		s.EncoderLookBack = *msg.EncoderLookBack
	}
	if msg.DecoderLookBack != nil {
		changed = true
		s.DecoderLookBack = *msg.DecoderLookBack
	}
	if msg.Hotwords != nil {
		changed = true
		if len(*msg.Hotwords) == 0 {
			s.Hotwords = nil
		} else {
			s.Hotwords = maps.Clone(*msg.Hotwords)
		}
	}
	if msg.Mode != nil {
		changed = true
		s.Mode = *msg.Mode
	}
	if msg.AudioFormat != nil {
		changed = true
		s.AudioFormat = *msg.AudioFormat
	}
	if msg.AudioSampleRate != nil {
		changed = true
		s.AudioSampleRate = *msg.AudioSampleRate
	}
	if msg.ITN != nil {
		changed = true
		v := *msg.ITN
		s.ITN = &v
	}
	return changed
}
