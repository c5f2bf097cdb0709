package server_test

import (
	"go/types"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/magnetlab/golab/server"
)

func TestEncodeAndRespond(t *testing.T) {
	cases := []struct {
		hp   server.HumanPayload
		want string
	}{
		{server.HumanPayload{T: types.Float64, Float: 0.5}, `{"f64":0.5}`},
		{server.HumanPayload{T: types.Bool, Bool: true}, `{"bool":true}`},
		{server.HumanPayload{T: types.Int, Int: 3}, `{"int":3}`},
		{server.HumanPayload{T: types.String, String: "XY"}, `{"str":"XY"}`},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		c.hp.EncodeAndRespond(w, httptest.NewRequest("GET", "/", nil))
		if got := strings.TrimSpace(w.Body.String()); got != c.want {
			t.Errorf("expected %s, got %s", c.want, got)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected json content type, got %q", ct)
		}
	}
}

func TestEncodeAndRespondUnknownType(t *testing.T) {
	w := httptest.NewRecorder()
	hp := server.HumanPayload{T: types.Complex128}
	hp.EncodeAndRespond(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != 500 {
		t.Errorf("expected 500, got %d", w.Code)
	}
}
