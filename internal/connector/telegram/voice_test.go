package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/h1v3-io/frontdesk/internal/speech"
)

type fakeTranscriber struct {
	text  string
	audio []byte
	opts  speech.Options
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, opts speech.Options) string {
	f.audio = audio
	f.opts = opts
	return f.text
}

func TestTranscribeURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ogg bytes"))
	}))
	defer srv.Close()

	tr := &fakeTranscriber{text: "answer 3f2a9c1e yes we do"}
	c := &Connector{transcriber: tr, config: Config{Language: "en"}}

	text, err := c.transcribeURL(context.Background(), srv.URL, speech.EncodingOggOpus)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "answer 3f2a9c1e yes we do" {
		t.Errorf("text = %q", text)
	}
	if string(tr.audio) != "ogg bytes" {
		t.Errorf("audio = %q", tr.audio)
	}
	if tr.opts.Encoding != speech.EncodingOggOpus || tr.opts.Language != "en" {
		t.Errorf("options = %+v", tr.opts)
	}

	tr.text = ""
	if _, err := c.transcribeURL(context.Background(), srv.URL, speech.EncodingOggOpus); err == nil {
		t.Error("expected error for empty transcription")
	}
}

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("audio bytes"))
	}))
	defer srv.Close()

	data, err := downloadFile(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("downloadFile: %v", err)
	}
	if string(data) != "audio bytes" {
		t.Errorf("data = %q", string(data))
	}
}

func TestDownloadFile_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := downloadFile(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
}
