package openaiwhisper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tiroq/audiopipe/internal/asr"
)

const verboseResponse = `{
	"task": "transcribe",
	"language": "english",
	"duration": 9.5,
	"text": "Hello there. General Kenobi.",
	"segments": [
		{"id": 0, "seek": 0, "start": 0.0, "end": 2.5, "text": " Hello there.", "tokens": [1, 2], "temperature": 0, "avg_logprob": -0.1, "compression_ratio": 1.1, "no_speech_prob": 0.01},
		{"id": 1, "seek": 0, "start": 5.0, "end": 9.5, "text": " General Kenobi.", "tokens": [3], "temperature": 0, "avg_logprob": -0.3, "compression_ratio": 1.0, "no_speech_prob": 0.02}
	]
}`

type BackendSuite struct {
	suite.Suite
	audio    string
	lastForm map[string]string
	lastAuth string
}

func TestBackendSuite(t *testing.T) {
	suite.Run(t, new(BackendSuite))
}

func (s *BackendSuite) SetupTest() {
	s.audio = filepath.Join(s.T().TempDir(), "clip.wav")
	s.Require().NoError(os.WriteFile(s.audio, []byte("RIFF-fake"), 0644))
	s.lastForm = map[string]string{}
	s.lastAuth = ""
}

func (s *BackendSuite) server(status int, body string) *httptest.Server {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lastAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/audio/transcriptions":
			if err := r.ParseMultipartForm(10 << 20); err == nil {
				for k, v := range r.MultipartForm.Value {
					s.lastForm[k] = v[0]
				}
				if f, _, err := r.FormFile("file"); err == nil {
					data, _ := io.ReadAll(f)
					s.lastForm["file"] = string(data)
					_ = f.Close()
				}
			}
		case "/models/whisper-1":
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	s.T().Cleanup(ts.Close)
	return ts
}

func (s *BackendSuite) newBackend(ts *httptest.Server) *Backend {
	return NewBackend(Config{BaseURL: ts.URL + "/", APIKey: "sk-test", Retries: 0, TimeoutSeconds: 5})
}

func (s *BackendSuite) TestTranscribeMapsSegments() {
	ts := s.server(http.StatusOK, verboseResponse)

	tr, err := s.newBackend(ts).TranscribeFile(context.Background(), s.audio, asr.TranscribeOptions{Language: "en"})
	s.Require().NoError(err)

	s.Equal(Name, tr.Backend)
	s.Equal("whisper-1", tr.Model)
	s.Equal("english", tr.Language)
	s.Equal(9500*time.Millisecond, tr.Duration)
	s.Require().Len(tr.Segments, 2)
	s.Equal(" Hello there.", tr.Segments[0].Text)
	s.Equal(5*time.Second, tr.Segments[1].Start)
	s.InDelta(0.905, tr.Segments[0].Score, 0.001)

	s.Equal("verbose_json", s.lastForm["response_format"])
	s.Equal("en", s.lastForm["language"])
	s.Equal("whisper-1", s.lastForm["model"])
	s.Equal("RIFF-fake", s.lastForm["file"])
	s.Equal("Bearer sk-test", s.lastAuth)
}

func (s *BackendSuite) TestModelOverride() {
	ts := s.server(http.StatusOK, verboseResponse)

	tr, err := s.newBackend(ts).TranscribeFile(context.Background(), s.audio, asr.TranscribeOptions{Model: "gpt-4o-transcribe"})
	s.Require().NoError(err)
	s.Equal("gpt-4o-transcribe", tr.Model)
	s.Equal("gpt-4o-transcribe", s.lastForm["model"])
	_, hasLang := s.lastForm["language"]
	s.False(hasLang)
}

func (s *BackendSuite) TestTextOnlyResponseBecomesOneSegment() {
	ts := s.server(http.StatusOK, `{"text": "just text", "duration": 3.0}`)

	tr, err := s.newBackend(ts).TranscribeFile(context.Background(), s.audio, asr.TranscribeOptions{})
	s.Require().NoError(err)
	s.Require().Len(tr.Segments, 1)
	s.Equal("just text", tr.Segments[0].Text)
	s.Equal(3*time.Second, tr.Segments[0].End)
}

func (s *BackendSuite) TestAPIErrorIsWrapped() {
	ts := s.server(http.StatusBadRequest, `{"error": {"message": "bad audio", "type": "invalid_request_error"}}`)

	_, err := s.newBackend(ts).TranscribeFile(context.Background(), s.audio, asr.TranscribeOptions{})
	s.Require().Error(err)
	s.Contains(err.Error(), "openaiwhisper:")
	s.Contains(err.Error(), "400")
}

func (s *BackendSuite) TestMissingFile() {
	b := NewBackend(Config{BaseURL: "http://127.0.0.1:1/", Retries: 0})
	_, err := b.TranscribeFile(context.Background(), filepath.Join(s.T().TempDir(), "none.wav"), asr.TranscribeOptions{})
	s.ErrorIs(err, os.ErrNotExist)
}

func (s *BackendSuite) TestHealthCheck() {
	ts := s.server(http.StatusOK, `{"id": "whisper-1", "object": "model", "created": 1, "owned_by": "openai"}`)

	hs, err := s.newBackend(ts).HealthCheck(context.Background())
	s.Require().NoError(err)
	s.True(hs.OK, hs.Message)
	s.Equal("model whisper-1 available", hs.Message)
}

func (s *BackendSuite) TestHealthCheckUnavailable() {
	ts := s.server(http.StatusUnauthorized, `{"error": {"message": "bad key"}}`)

	hs, err := s.newBackend(ts).HealthCheck(context.Background())
	s.Require().NoError(err)
	s.False(hs.OK)
	s.Contains(hs.Message, "model lookup failed")
}

func (s *BackendSuite) TestDefaults() {
	b := NewBackend(Config{})
	s.Equal("openai_whisper", b.Name())
	s.Equal("whisper-1", b.cfg.Model)
	s.Equal(600, b.cfg.TimeoutSeconds)
}

func (s *BackendSuite) TestLogprobScore() {
	s.Zero(logprobScore(0))
	s.InDelta(1.0, logprobScore(0.5), 1e-9)
	s.InDelta(0.3679, logprobScore(-1), 1e-3)
}
