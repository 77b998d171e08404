package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/provider"
	"github.com/edutech1596/Final-AI-tutor-with-Videos/internal/tutor"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"audio_chunk","seq":1,"pcm16_base64":"AQID","sample_rate":16000,"voiced":true}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(AudioChunk)
	if !ok {
		t.Fatalf("message type = %T, want AudioChunk", msg)
	}
	if audio.SampleRate != 16000 || audio.Voiced == nil || !*audio.Voiced {
		t.Fatalf("unexpected audio chunk: %+v", audio)
	}
	pcm, err := audio.PCM()
	if err != nil || len(pcm) != 3 {
		t.Fatalf("PCM() = %v, %v", pcm, err)
	}
}

func TestParseClientMessageAsk(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"ask","text":"What is 2+2?","language":"en"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	ask, ok := msg.(Ask)
	if !ok || ask.Text != "What is 2+2?" || ask.Language != "en" {
		t.Fatalf("message = %#v", msg)
	}
}

func TestParseClientMessageControls(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{`{"type":"start_recording","language":"es"}`, StartRecording{Type: TypeStartRecording, Language: "es"}},
		{`{"type":"stop_recording"}`, StopRecording{Type: TypeStopRecording}},
		{`{"type":"cancel"}`, Cancel{Type: TypeCancel}},
	}
	for _, tc := range cases {
		msg, err := ParseClientMessage([]byte(tc.raw))
		if err != nil {
			t.Fatalf("ParseClientMessage(%s) error = %v", tc.raw, err)
		}
		if msg != tc.want {
			t.Fatalf("ParseClientMessage(%s) = %#v, want %#v", tc.raw, msg, tc.want)
		}
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalidPayloads(t *testing.T) {
	for _, raw := range []string{
		`{"type":"audio_chunk","pcm16_base64":"","sample_rate":0}`,
		`{"type":"ask","text":"   "}`,
		`not json`,
	} {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) expected error", raw)
		}
	}
}

func TestFromEvent(t *testing.T) {
	typ, msg := FromEvent(tutor.Event{Type: tutor.EventChunk, RequestID: "r1", Text: "2+2"})
	if typ != TypeToken || msg.(Token).Text != "2+2" {
		t.Fatalf("chunk = %v %#v", typ, msg)
	}

	typ, msg = FromEvent(tutor.Event{
		Type:      tutor.EventDone,
		RequestID: "r1",
		Text:      "2+2 equals 4.",
		Cached:    true,
		Audio:     &provider.Speech{Audio: []byte{1, 2, 3}, Format: "mp3"},
	})
	done := msg.(Done)
	if typ != TypeDone || done.AudioBase64 != "AQID" || done.AudioFormat != "mp3" || !done.Cached {
		t.Fatalf("done = %v %#v", typ, done)
	}

	typ, msg = FromEvent(tutor.Event{Type: tutor.EventFailed, Reason: tutor.ReasonRateLimited, Message: "later", Retryable: true})
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if typ != TypeError || string(raw) != `{"type":"error","reason":"rate_limited","message":"later","retryable":true}` {
		t.Fatalf("error event = %v %s", typ, raw)
	}
}

func BenchmarkParseClientMessageAudioChunk(b *testing.B) {
	raw := []byte(`{"type":"audio_chunk","seq":7,"pcm16_base64":"AQIDBAUGBwgJCgsMDQ4P","sample_rate":16000}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(AudioChunk); !ok {
			b.Fatalf("message type = %T, want AudioChunk", msg)
		}
	}
}
