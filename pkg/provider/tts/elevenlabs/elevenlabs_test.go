package elevenlabs

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// ---- WebSocket message construction ----

func TestBuildWSMessage_WithVoiceSettings(t *testing.T) {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	data, err := buildWSMessage("Hello there", vs)
	if err != nil {
		t.Fatalf("buildWSMessage: %v", err)
	}

	var msg textMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Text != "Hello there" {
		t.Errorf("expected text 'Hello there', got %q", msg.Text)
	}
	if msg.VoiceSettings == nil {
		t.Fatal("expected non-nil voice settings")
	}
	if msg.VoiceSettings.Stability != 0.5 {
		t.Errorf("expected stability 0.5, got %f", msg.VoiceSettings.Stability)
	}
	if msg.VoiceSettings.SimilarityBoost != 0.75 {
		t.Errorf("expected similarity_boost 0.75, got %f", msg.VoiceSettings.SimilarityBoost)
	}
}

func TestBuildWSMessage_EOSCommand(t *testing.T) {
	// ElevenLabs end-of-stream = {"text":""} with no other fields.
	data, err := buildWSMessage("", nil)
	if err != nil {
		t.Fatalf("buildWSMessage: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal eos: %v", err)
	}
	textVal, ok := raw["text"]
	if !ok {
		t.Fatal("expected 'text' field in eos message")
	}
	if string(textVal) != `""` {
		t.Errorf("expected empty string for text, got %s", textVal)
	}
	if _, exists := raw["voice_settings"]; exists {
		t.Error("eos message should not contain voice_settings")
	}
}

// ---- URL construction ----

func TestBuildURLForVoice(t *testing.T) {
	url := buildURLForVoice("voice-abc123", "eleven_flash_v2_5")
	if !strings.Contains(url, "voice-abc123") {
		t.Errorf("URL should contain voice ID, got: %s", url)
	}
	if !strings.Contains(url, "eleven_flash_v2_5") {
		t.Errorf("URL should contain model ID, got: %s", url)
	}
	if !strings.HasPrefix(url, "wss://") {
		t.Errorf("URL should be a WebSocket URL, got: %s", url)
	}
}

// ---- Output format parsing ----

func TestParseOutputRate(t *testing.T) {
	tests := []struct {
		format  string
		rate    int
		wantErr bool
	}{
		{"pcm_16000", 16000, false},
		{"pcm_24000", 24000, false},
		{"pcm_44100", 44100, false},
		{"mp3_44100_128", 0, true},
		{"pcm_", 0, true},
		{"pcm_-8000", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		rate, err := parseOutputRate(tt.format)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseOutputRate(%q): expected error", tt.format)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseOutputRate(%q): %v", tt.format, err)
			continue
		}
		if rate != tt.rate {
			t.Errorf("parseOutputRate(%q): expected %d, got %d", tt.format, tt.rate, rate)
		}
	}
}

// ---- Voice list response parsing ----

func TestParseVoicesResponse_Success(t *testing.T) {
	raw := []byte(`{
		"voices": [
			{
				"voice_id": "abc123",
				"name": "Rachel",
				"category": "premade",
				"labels": {"gender": "female", "accent": "american"}
			},
			{
				"voice_id": "def456",
				"name": "Adam",
				"category": "premade",
				"labels": {"gender": "male"}
			}
		]
	}`)

	voices, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("expected 2 voices, got %d", len(voices))
	}

	rachel := voices[0]
	if rachel.ID != "abc123" {
		t.Errorf("expected ID 'abc123', got %q", rachel.ID)
	}
	if rachel.Name != "Rachel" {
		t.Errorf("expected Name 'Rachel', got %q", rachel.Name)
	}
	if rachel.Provider != "elevenlabs" {
		t.Errorf("expected Provider 'elevenlabs', got %q", rachel.Provider)
	}
	if rachel.Metadata["gender"] != "female" {
		t.Errorf("expected gender 'female', got %q", rachel.Metadata["gender"])
	}
	if rachel.Metadata["category"] != "premade" {
		t.Errorf("expected category 'premade', got %q", rachel.Metadata["category"])
	}

	adam := voices[1]
	if adam.ID != "def456" {
		t.Errorf("expected ID 'def456', got %q", adam.ID)
	}
}

func TestParseVoicesResponse_Empty(t *testing.T) {
	raw := []byte(`{"voices":[]}`)
	voices, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(voices) != 0 {
		t.Errorf("expected 0 voices, got %d", len(voices))
	}
}

func TestParseVoicesResponse_InvalidJSON(t *testing.T) {
	_, err := parseVoicesResponse([]byte(`{invalid`))
	if err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseVoicesResponse_NoLabels(t *testing.T) {
	raw := []byte(`{
		"voices": [
			{"voice_id": "x1", "name": "Ghost", "category": "", "labels": null}
		]
	}`)
	voices, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(voices) != 1 {
		t.Fatalf("expected 1 voice, got %d", len(voices))
	}
	// category is empty, so it should not appear in metadata.
	if _, ok := voices[0].Metadata["category"]; ok {
		t.Error("expected no 'category' key in metadata when category is empty")
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("", "voice-1")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_EmptyVoiceID(t *testing.T) {
	_, err := New("key", "")
	if err == nil {
		t.Error("expected error for empty voice ID")
	}
}

func TestNew_Defaults(t *testing.T) {
	s, err := New("key", "voice-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, s.model)
	}
	if s.outputFormat != defaultOutputFmt {
		t.Errorf("expected outputFormat %q, got %q", defaultOutputFmt, s.outputFormat)
	}
	if s.sampleRate != 16000 {
		t.Errorf("expected sampleRate 16000, got %d", s.sampleRate)
	}
	if s.stability != 0.5 || s.similarityBoost != 0.75 {
		t.Errorf("expected default voice settings 0.5/0.75, got %f/%f", s.stability, s.similarityBoost)
	}
}

func TestNew_WithOptions(t *testing.T) {
	s, err := New("key", "voice-1",
		WithModel("eleven_multilingual_v2"),
		WithOutputFormat("pcm_24000"),
		WithStability(0.8, 0.9),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.model != "eleven_multilingual_v2" {
		t.Errorf("expected model 'eleven_multilingual_v2', got %q", s.model)
	}
	if s.sampleRate != 24000 {
		t.Errorf("expected sampleRate 24000, got %d", s.sampleRate)
	}
	if s.stability != 0.8 {
		t.Errorf("expected stability 0.8, got %f", s.stability)
	}
	if s.similarityBoost != 0.9 {
		t.Errorf("expected similarityBoost 0.9, got %f", s.similarityBoost)
	}
}

func TestNew_UnsupportedOutputFormat(t *testing.T) {
	_, err := New("key", "voice-1", WithOutputFormat("mp3_44100_128"))
	if err == nil {
		t.Error("expected error for non-PCM output format")
	}
}

// ---- Synthesize edge cases ----

func TestSynthesize_WhitespaceOnlyText(t *testing.T) {
	s, err := New("key", "voice-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Whitespace-only text must not open a connection: the returned segment
	// is already closed and carries no error.
	seg, err := s.Synthesize(context.Background(), "  \n\t ")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if seg.SampleRate != 16000 {
		t.Errorf("expected sample rate 16000, got %d", seg.SampleRate)
	}
	n := 0
	for range seg.Audio {
		n++
	}
	if n != 0 {
		t.Errorf("expected no audio chunks, got %d", n)
	}
	if err := seg.Err(); err != nil {
		t.Errorf("expected nil stream error, got %v", err)
	}
}
