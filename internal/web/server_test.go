package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"skyferry/internal/arbiter"
	"skyferry/internal/behavior"
	"skyferry/internal/command"
)

type fakeController struct {
	modes     []behavior.Mode
	commands  []command.Axis
	kinds     []command.Kind
	reloads   int
	err       error
	reloadErr error
}

func (f *fakeController) RequestMode(m behavior.Mode) error {
	if f.err != nil {
		return f.err
	}
	f.modes = append(f.modes, m)
	return nil
}

func (f *fakeController) RequestCommand(cmd command.Axis, kind command.Kind) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, cmd)
	f.kinds = append(f.kinds, kind)
	return nil
}

func (f *fakeController) Reload() error {
	f.reloads++
	return f.reloadErr
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPIStatus(t *testing.T) {
	st := NewStatus("run-1")
	st.Publish(time.Now().UTC(), LoopStatus{
		Behavior: behavior.Status{Mode: behavior.Land, Propelling: true},
		Arbiter:  arbiter.State{AutopilotOn: true},
	})

	ts := httptest.NewServer(Handler(st, &fakeController{}, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if raw["service"] != "skyferry" || raw["run_id"] != "run-1" {
		t.Fatalf("service=%v run_id=%v", raw["service"], raw["run_id"])
	}
	if raw["ticks"].(float64) != 1 {
		t.Fatalf("ticks=%v want 1", raw["ticks"])
	}
	b, _ := raw["behavior"].(map[string]any)
	if b["mode"] != "LAND" || b["propelling"] != true {
		t.Fatalf("behavior=%v", b)
	}
	if _, ok := b["return_stage"]; ok {
		t.Fatalf("return_stage present outside RETURN: %v", b)
	}
}

func TestAPIStatus_MethodNotAllowed(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus("r"), &fakeController{}, nil))
	defer ts.Close()

	resp := post(t, ts.URL+"/api/status", "{}")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status code=%d want 405", resp.StatusCode)
	}
	if got := resp.Header.Get("Allow"); got != http.MethodGet {
		t.Fatalf("allow=%q", got)
	}
}

func TestAPIMode(t *testing.T) {
	ctl := &fakeController{}
	ts := httptest.NewServer(Handler(NewStatus("r"), ctl, nil))
	defer ts.Close()

	resp := post(t, ts.URL+"/api/mode", `{"mode":"land"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status code=%d want 202", resp.StatusCode)
	}
	if len(ctl.modes) != 1 || ctl.modes[0] != behavior.Land {
		t.Fatalf("modes=%v want [LAND]", ctl.modes)
	}

	cases := []struct {
		name string
		body string
	}{
		{"unknown mode", `{"mode":"cruise"}`},
		{"unknown field", `{"mode":"LAND","force":true}`},
		{"not json", `mode=LAND`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := post(t, ts.URL+"/api/mode", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status code=%d want 400", resp.StatusCode)
			}
		})
	}
	if len(ctl.modes) != 1 {
		t.Fatalf("modes=%v want only the valid request", ctl.modes)
	}
}

func TestAPIMode_Busy(t *testing.T) {
	ctl := &fakeController{err: ErrBusy}
	ts := httptest.NewServer(Handler(NewStatus("r"), ctl, nil))
	defer ts.Close()

	resp := post(t, ts.URL+"/api/mode", `{"mode":"HOVER"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status code=%d want 503", resp.StatusCode)
	}
}

func TestAPICommand(t *testing.T) {
	ctl := &fakeController{}
	ts := httptest.NewServer(Handler(NewStatus("r"), ctl, nil))
	defer ts.Close()

	resp := post(t, ts.URL+"/api/command", `{"x":1,"y":-2,"z":3,"yaw":0.5,"kind":"world_pos"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status code=%d want 202", resp.StatusCode)
	}
	want := command.Axis{X: 1, Y: -2, Z: 3, Yaw: 0.5}
	if len(ctl.commands) != 1 || ctl.commands[0] != want || ctl.kinds[0] != command.KindWorldPos {
		t.Fatalf("commands=%v kinds=%v", ctl.commands, ctl.kinds)
	}

	resp = post(t, ts.URL+"/api/command", `{"x":1,"kind":"orbit"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code=%d want 400", resp.StatusCode)
	}
}

func TestAPIReload(t *testing.T) {
	ctl := &fakeController{}
	ts := httptest.NewServer(Handler(NewStatus("r"), ctl, nil))
	defer ts.Close()

	if resp := post(t, ts.URL+"/api/config/reload", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d want 200", resp.StatusCode)
	}
	ctl.reloadErr = errors.New("mavlink.endpoint is required")
	resp := post(t, ts.URL+"/api/config/reload", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code=%d want 400", resp.StatusCode)
	}
	if ctl.reloads != 2 {
		t.Fatalf("reloads=%d want 2", ctl.reloads)
	}
}

func TestRootPage(t *testing.T) {
	ts := httptest.NewServer(Handler(NewStatus("abc"), &fakeController{}, nil))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("get root: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("status code=%d want 404", resp2.StatusCode)
	}
}

func TestStream_DeliversLatestAndUpdates(t *testing.T) {
	st := NewStatus("ws-run")
	st.Publish(time.Now().UTC(), LoopStatus{Behavior: behavior.Status{Mode: behavior.Follow}})

	ts := httptest.NewServer(Handler(st, &fakeController{}, nil))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first StatusSnapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if first.RunID != "ws-run" || first.Behavior.Mode != behavior.Follow {
		t.Fatalf("first=%+v", first)
	}

	st.Publish(time.Now().UTC(), LoopStatus{Behavior: behavior.Status{Mode: behavior.Hover}})
	var next StatusSnapshot
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read next: %v", err)
	}
	if next.Behavior.Mode != behavior.Hover || next.Ticks != 2 {
		t.Fatalf("next mode=%s ticks=%d", next.Behavior.Mode, next.Ticks)
	}

	st.Close()
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected stream to close")
	}
}
