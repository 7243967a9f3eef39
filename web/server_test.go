package web_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomasmach/banter/agent"
	"github.com/tomasmach/banter/history"
	"github.com/tomasmach/banter/logstore"
	"github.com/tomasmach/banter/tuning"
	"github.com/tomasmach/banter/web"
)

type testEnv struct {
	url    string
	tuning *tuning.Store
}

func newTestServer(t *testing.T, logs *logstore.Store) *testEnv {
	t.Helper()
	store := tuning.NewStore(tuning.Defaults(), map[string]tuning.Prompts{
		"Poi": {Personality: "Precise.", Periodic: "Add something."},
	})
	hist := history.NewStore()
	hist.Append("c1", "Alice", "hi")
	router := agent.NewRouter()
	router.Add(agent.New(agent.Identity{Name: "Poi", Model: "m"}, agent.Shared{}, agent.Deps{History: hist, Tuning: store}))

	srv := web.New(":0", web.Deps{Tuning: store, Router: router, Logs: logs})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{url: ts.URL, tuning: store}
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatus(t *testing.T) {
	env := newTestServer(t, nil)
	resp := do(t, http.MethodGet, env.url+"/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status got %d", resp.StatusCode)
	}
	var got struct {
		Settings struct {
			ReplyChance     float64 `json:"reply_chance"`
			CooldownSeconds float64 `json:"cooldown_seconds"`
		} `json:"settings"`
		Bots    []agent.Status            `json:"bots"`
		Prompts map[string]tuning.Prompts `json:"prompts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Settings.ReplyChance != 0.25 || got.Settings.CooldownSeconds != 60 {
		t.Errorf("settings = %+v", got.Settings)
	}
	if len(got.Bots) != 1 || got.Bots[0].Bot != "Poi" {
		t.Errorf("bots = %+v", got.Bots)
	}
	if got.Prompts["Poi"].Personality != "Precise." {
		t.Errorf("prompts = %+v", got.Prompts)
	}
	if len(got.Bots) == 1 && got.Bots[0].History["c1"] != 1 {
		t.Errorf("bot history sizes = %+v", got.Bots[0].History)
	}
}

func TestTune(t *testing.T) {
	env := newTestServer(t, nil)

	resp := do(t, http.MethodPost, env.url+"/api/tune", map[string]any{"setting": "cooldown", "value": 5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tune got %d", resp.StatusCode)
	}
	if got := env.tuning.Settings().Cooldown; got != 5*time.Second {
		t.Errorf("Cooldown = %v, want 5s", got)
	}

	tests := []struct {
		name string
		body any
	}{
		{"out of range", map[string]any{"setting": "reply_chance", "value": 1.5}},
		{"unknown setting", map[string]any{"setting": "volume", "value": 1}},
		{"missing value", map[string]any{"setting": "reply_chance"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, env.url+"/api/tune", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("got %d, want 400", resp.StatusCode)
			}
			if got := env.tuning.Settings().ReplyChance; got != 0.25 {
				t.Errorf("ReplyChance = %v after rejected tune", got)
			}
		})
	}
}

func TestControl(t *testing.T) {
	env := newTestServer(t, nil)

	resp := do(t, http.MethodPost, env.url+"/api/control", map[string]string{"action": "silence"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("control got %d", resp.StatusCode)
	}
	s := env.tuning.Settings()
	if s.ReplyChance != 0 || s.Cooldown != tuning.SilenceCooldown {
		t.Errorf("after silence: %+v", s)
	}

	resp = do(t, http.MethodPost, env.url+"/api/control", map[string]string{"action": "explode"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown action got %d, want 400", resp.StatusCode)
	}
}

func TestPrompts(t *testing.T) {
	env := newTestServer(t, nil)

	resp := do(t, http.MethodPut, env.url+"/api/prompts/Poi/intro", map[string]string{"content": "Hi all."})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put prompt got %d", resp.StatusCode)
	}
	if p, _ := env.tuning.Prompts("Poi"); p.Intro != "Hi all." {
		t.Errorf("Intro = %q", p.Intro)
	}

	resp = do(t, http.MethodPut, env.url+"/api/prompts/Zoi/intro", map[string]string{"content": "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown bot got %d, want 404", resp.StatusCode)
	}
	resp = do(t, http.MethodPut, env.url+"/api/prompts/Poi/mood", map[string]string{"content": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field got %d, want 400", resp.StatusCode)
	}

	resp = do(t, http.MethodPost, env.url+"/api/prompts/Poi/preset", map[string]string{"preset": "mentor"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preset got %d", resp.StatusCode)
	}
	if p, _ := env.tuning.Prompts("Poi"); p.Personality != tuning.Presets["mentor"].Personality {
		t.Errorf("Personality = %q", p.Personality)
	}
}

func TestLogs(t *testing.T) {
	env := newTestServer(t, nil)
	if resp := do(t, http.MethodGet, env.url+"/api/logs", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("logs without a store got %d, want 404", resp.StatusCode)
	}

	logs, err := logstore.Open(filepath.Join(t.TempDir(), "logs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { logs.Close() })
	logger := slog.New(logstore.NewHandler(slog.NewTextHandler(io.Discard, nil), logs))
	logger.With("bot", "Poi").Warn("deliver reply failed")
	logger.With("bot", "Moi").Info("replied")

	env = newTestServer(t, logs)
	resp := do(t, http.MethodGet, env.url+"/api/logs?bot=Poi&level=warn", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logs got %d", resp.StatusCode)
	}
	var got struct {
		Logs  []logstore.Row `json:"logs"`
		Total int            `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Total != 1 || got.Logs[0].Msg != "deliver reply failed" {
		t.Errorf("logs = %+v", got)
	}
}

func TestEventsStreamStoreChanges(t *testing.T) {
	tests := []struct {
		name   string
		event  string
		data   string
		change func(*tuning.Store) error
	}{
		{"tune", "event: settings", `"typing_speed":20`, func(s *tuning.Store) error {
			_, err := s.Tune("typing_speed", 20)
			return err
		}},
		{"prompt edit", "event: prompts", `"intro":"Hello all."`, func(s *tuning.Store) error {
			return s.SetPrompt("Poi", tuning.FieldIntro, "Hello all.")
		}},
		{"preset", "event: prompts", `"bot":"Poi"`, func(s *tuning.Store) error {
			_, err := s.ApplyPreset("Poi", "casual")
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestServer(t, nil)

			resp := do(t, http.MethodGet, env.url+"/api/events", nil)
			if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
				t.Fatalf("Content-Type = %q", ct)
			}

			lines := make(chan string, 8)
			go func() {
				sc := bufio.NewScanner(resp.Body)
				for sc.Scan() {
					lines <- sc.Text()
				}
				close(lines)
			}()

			// The subscription is registered after headers are flushed; repeat
			// the change until the event arrives.
			deadline := time.After(3 * time.Second)
			tick := time.NewTicker(50 * time.Millisecond)
			defer tick.Stop()
			sawEvent := false
			for {
				select {
				case line := <-lines:
					if line == tt.event {
						sawEvent = true
						continue
					}
					if sawEvent && strings.HasPrefix(line, "data: ") {
						if !strings.Contains(line, tt.data) {
							t.Errorf("%s data = %s, want it to contain %s", tt.event, line, tt.data)
						}
						return
					}
				case <-tick.C:
					if err := tt.change(env.tuning); err != nil {
						t.Fatal(err)
					}
				case <-deadline:
					t.Fatalf("no %q within 3s", tt.event)
				}
			}
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestServer(t, nil)
	resp := do(t, http.MethodGet, env.url+"/api/nothing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("got %d, want 404", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
}
