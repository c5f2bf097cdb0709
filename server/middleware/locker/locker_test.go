package locker_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/magnetlab/golab/server/middleware/locker"
)

func ok(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

func TestLockedBlocksWrites(t *testing.T) {
	l := locker.New()
	h := l.Check(http.HandlerFunc(ok))
	l.Lock()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/magnet/field", strings.NewReader(`{"f64":1}`)))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423 for a write while locked, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/magnet/field", nil))
	if w.Code != http.StatusOK {
		t.Errorf("reads should pass while locked, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/magnet/lock", strings.NewReader(`{"bool":false}`)))
	if w.Code != http.StatusOK {
		t.Errorf("lock route must stay reachable, got %d", w.Code)
	}
}

func TestHTTPSet(t *testing.T) {
	l := locker.New()
	w := httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest("POST", "/lock", strings.NewReader(`{"bool":true}`)))
	if !l.Locked() {
		t.Error("expected locker to be locked")
	}
	w = httptest.NewRecorder()
	l.HTTPGet(w, httptest.NewRequest("GET", "/lock", nil))
	if body := strings.TrimSpace(w.Body.String()); body != `{"bool":true}` {
		t.Errorf("unexpected body %s", body)
	}
}
