package acestep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/bigeyemix/internal/audio"
)

// fakePiAPI completes every task after pending polls.
type fakePiAPI struct {
	mu      sync.Mutex
	pending int
	fail    string
	polls   int
	body    taskRequest
	apiKey  string
	onTask  func(taskRequest)
	srv     *httptest.Server
}

func newFakePiAPI(t *testing.T, pending int) *fakePiAPI {
	f := &fakePiAPI{pending: pending}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/task", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.apiKey = r.Header.Get("X-API-Key")
		if err := json.NewDecoder(r.Body).Decode(&f.body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if f.onTask != nil {
			f.onTask(f.body)
		}
		fmt.Fprint(w, `{"code":200,"data":{"task_id":"task-1","status":"pending"}}`)
	})
	mux.HandleFunc("GET /api/v1/task/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.polls++
		switch {
		case f.polls <= f.pending:
			fmt.Fprintf(w, `{"code":200,"data":{"task_id":%q,"status":"processing"}}`, r.PathValue("id"))
		case f.fail != "":
			fmt.Fprintf(w, `{"code":200,"data":{"status":"failed","error":{"message":%q}}}`, f.fail)
		default:
			fmt.Fprintf(w, `{"code":200,"data":{"status":"completed","output":{"audio_url":%q}}}`, f.srv.URL+"/out/result.mp3")
		}
	})
	mux.HandleFunc("GET /out/result.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ID3-fake-audio"))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakePiAPI) client() *Client {
	return NewClient(f.srv.URL+"/", "secret", time.Millisecond, 0, nil)
}

// --- Client ---

func TestExtendSubmitsAndPolls(t *testing.T) {
	f := newFakePiAPI(t, 2)
	url, err := f.client().Extend(context.Background(), ExtendRequest{
		AudioURL:     "http://host/files/ref.mp3",
		RightSeconds: 4.2,
		StylePrompt:  "calm",
	})
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if !strings.HasSuffix(url, "/out/result.mp3") {
		t.Errorf("url = %q", url)
	}
	if f.polls != 3 {
		t.Errorf("polls = %d, want 3", f.polls)
	}
	if f.apiKey != "secret" {
		t.Errorf("X-API-Key = %q", f.apiKey)
	}
	b := f.body
	if b.Model != "Qubico/ace-step" || b.TaskType != "extend" {
		t.Errorf("task = %s/%s", b.Model, b.TaskType)
	}
	in := b.Input
	if in.Audio != "http://host/files/ref.mp3" || in.RightExtendDuration != 5 || in.LeftExtendDuration != 0 {
		t.Errorf("input = %+v", in)
	}
	if in.Lyrics != "[inst]" || in.StylePrompt != "calm" {
		t.Errorf("hints = %q / %q", in.Lyrics, in.StylePrompt)
	}
}

func TestPollReportsFailure(t *testing.T) {
	f := newFakePiAPI(t, 0)
	f.fail = "gpu on fire"
	_, err := f.client().Extend(context.Background(), ExtendRequest{AudioURL: "x", RightSeconds: 3})
	if !errors.Is(err, ErrTaskFailed) || !strings.Contains(err.Error(), "gpu on fire") {
		t.Errorf("err = %v, want ErrTaskFailed with message", err)
	}
}

func TestPollHonoursContext(t *testing.T) {
	f := newFakePiAPI(t, 1<<30)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.client().PollUntilDone(ctx, "task-1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestSubmitHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL, "k", 0, 0, nil).Submit(context.Background(), ExtendRequest{})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want status 401", err)
	}
}

func TestDownload(t *testing.T) {
	f := newFakePiAPI(t, 0)
	dir := t.TempDir()
	p, err := f.client().Download(context.Background(), f.srv.URL+"/out/result.mp3", dir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if filepath.Dir(p) != dir || filepath.Ext(p) != ".mp3" {
		t.Errorf("path = %q", p)
	}
	data, _ := os.ReadFile(p)
	if string(data) != "ID3-fake-audio" {
		t.Errorf("content = %q", data)
	}
}

// --- Extender ---

func TestExtenderStagesAndCleansUp(t *testing.T) {
	f := newFakePiAPI(t, 0)
	dir := t.TempDir()

	var staged string
	f.onTask = func(req taskRequest) {
		staged = filepath.Join(dir, path.Base(req.Input.Audio))
		if _, err := os.Stat(staged); err != nil {
			t.Errorf("reference not staged while the task runs: %v", err)
		}
	}

	e := NewExtender(f.client(), dir, "https://mix.example/", "320k", nil)
	e.encode = func(ctx context.Context, b audio.Buffer, p, bitrate string) error {
		if bitrate != "320k" {
			t.Errorf("bitrate = %q", bitrate)
		}
		return os.WriteFile(p, []byte("ref"), 0o644)
	}
	e.decode = func(ctx context.Context, p string) (audio.Buffer, error) {
		data, err := os.ReadFile(p)
		if err != nil || string(data) != "ID3-fake-audio" {
			return nil, fmt.Errorf("unexpected download %q: %v", data, err)
		}
		return audio.Silence(3), nil
	}

	out, err := e.Extend(context.Background(), audio.Silence(1), 2)
	if err != nil {
		t.Fatalf("Extend: %v", err)
	}
	if out.Seconds() != 3 {
		t.Errorf("result = %vs, want 3", out.Seconds())
	}
	if !strings.HasPrefix(f.body.Input.Audio, "https://mix.example/files/") {
		t.Errorf("reference url = %q", f.body.Input.Audio)
	}
	if _, err := os.Stat(staged); !os.IsNotExist(err) {
		t.Errorf("staged reference left behind: %v", err)
	}
	if left, _ := os.ReadDir(dir); len(left) != 0 {
		t.Errorf("stage dir not cleaned: %d files", len(left))
	}
}

func TestExtenderStageFailure(t *testing.T) {
	e := NewExtender(NewClient("http://unused", "", 0, 0, nil), t.TempDir(), "http://x", "320k", nil)
	e.encode = func(context.Context, audio.Buffer, string, string) error { return errors.New("no ffmpeg") }
	if _, err := e.Extend(context.Background(), audio.Silence(1), 2); err == nil {
		t.Error("expected staging error")
	}
}
