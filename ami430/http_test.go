package ami430

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"

	"github.com/magnetlab/golab/generichttp"
	"github.com/magnetlab/golab/server"
)

func router(h generichttp.HTTPer) chi.Router {
	r := chi.NewRouter()
	h.RT().Bind(r)
	return r
}

func request(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, rdr))
	return w
}

func TestHTTPMagnetField(t *testing.T) {
	m, s := NewMock("http", DefaultAxisConfig(), quiet())
	r := router(NewHTTPMagnet(m, time.Second))

	if w := request(t, r, http.MethodPost, "/field", `{"f64":1.5}`); w.Code != http.StatusOK {
		t.Fatalf("POST /field: %d %s", w.Code, w.Body.String())
	}
	w := request(t, r, http.MethodGet, "/field", "")
	f := server.FloatT{}
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if !near(f.F64, 1.5) {
		t.Errorf("GET /field returned %g", f.F64)
	}

	if w := request(t, r, http.MethodPost, "/field", `{"f64":100}`); w.Code != http.StatusBadRequest {
		t.Errorf("out of range field: expected 400, got %d", w.Code)
	}
	if w := request(t, r, http.MethodPost, "/field", `{"f64":`); w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", w.Code)
	}

	s.Quench()
	if w := request(t, r, http.MethodPost, "/field", `{"f64":0}`); w.Code != http.StatusConflict {
		t.Errorf("ramp while quenched: expected 409, got %d", w.Code)
	}
	w = request(t, r, http.MethodGet, "/quench", "")
	b := server.BoolT{}
	if err := json.NewDecoder(w.Body).Decode(&b); err != nil || !b.Bool {
		t.Errorf("GET /quench = %+v, %v", b, err)
	}
	if w := request(t, r, http.MethodPost, "/reset-quench", ""); w.Code != http.StatusOK {
		t.Errorf("POST /reset-quench: %d", w.Code)
	}
	w = request(t, r, http.MethodGet, "/ramp-state", "")
	i := server.IntT{}
	if err := json.NewDecoder(w.Body).Decode(&i); err != nil {
		t.Fatal(err)
	}
	if RampState(i.Int) != Paused {
		t.Errorf("ramp state after a quench reset %s", RampState(i.Int))
	}
}

func TestHTTPMagnetRawAndStatus(t *testing.T) {
	m, _ := NewMock("http", DefaultAxisConfig(), quiet())
	r := router(NewHTTPMagnet(m, time.Second))

	w := request(t, r, http.MethodPost, "/raw", `{"str":"*IDN?"}`)
	str := server.StrT{}
	if err := json.NewDecoder(w.Body).Decode(&str); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(str.Str, "MODEL 430") {
		t.Errorf("unexpected identity %q", str.Str)
	}

	if w := request(t, r, http.MethodPost, "/ramp-rate", `{"f64":0.001}`); w.Code != http.StatusOK {
		t.Fatalf("POST /ramp-rate: %d %s", w.Code, w.Body.String())
	}
	w = request(t, r, http.MethodGet, "/status", "")
	st := AxisState{}
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Name != "http" || !near(st.RampRate, 0.001) || !st.PSwitch {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestHTTPTransportErrorIs500(t *testing.T) {
	m := NewMagnet("bench", false, DefaultAxisConfig(), WithTransport(brokenTransport{}), quiet())
	r := router(NewHTTPMagnet(m, time.Second))
	if w := request(t, r, http.MethodGet, "/field", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestHTTPVectorRoutes(t *testing.T) {
	v, b := newVector3D(t, ModeXYZ)
	r := router(NewHTTPVector(v, time.Second))

	if w := request(t, r, http.MethodPost, "/phi", `{"f64":90}`); w.Code != http.StatusOK {
		t.Fatalf("POST /phi: %d %s", w.Code, w.Body.String())
	}
	if w := request(t, r, http.MethodPost, "/field", `{"f64":0.5}`); w.Code != http.StatusOK {
		t.Fatalf("POST /field: %d %s", w.Code, w.Body.String())
	}
	if f := b.supplies[X].MagnetField(); !near(f, 0.5) {
		t.Errorf("X at %g", f)
	}
	if w := request(t, r, http.MethodPost, "/alpha", `{"f64":180}`); w.Code != http.StatusBadRequest {
		t.Errorf("alpha of 180: expected 400, got %d", w.Code)
	}
	if w := request(t, r, http.MethodGet, "/offset-field", ""); w.Code != http.StatusConflict {
		t.Errorf("offset field with offset mode off: expected 409, got %d", w.Code)
	}
	if w := request(t, r, http.MethodGet, "/axis/Z/ramp-state", ""); w.Code != http.StatusOK {
		t.Errorf("GET /axis/Z/ramp-state: %d", w.Code)
	}
	if w := request(t, r, http.MethodPost, "/axis/z/field", `{"f64":0.1}`); w.Code != http.StatusConflict {
		t.Errorf("axis ramp in XYZ mode: expected 409, got %d", w.Code)
	}

	w := request(t, r, http.MethodGet, "/parameters", "")
	var ps []Parameter
	if err := json.NewDecoder(w.Body).Decode(&ps); err != nil {
		t.Fatal(err)
	}
	names := paramNames(ps)
	if p, ok := names["phi"]; !ok || p.Bounds == nil || p.Bounds.Min != -180 {
		t.Errorf("phi parameter %+v", p)
	}

	if w := request(t, r, http.MethodPost, "/mode", `{"str":"z"}`); w.Code != http.StatusOK {
		t.Fatalf("POST /mode: %d %s", w.Code, w.Body.String())
	}
	if w := request(t, r, http.MethodPost, "/axis/z/field", `{"f64":0.1}`); w.Code != http.StatusOK {
		t.Errorf("axis ramp in Z mode: %d %s", w.Code, w.Body.String())
	}
	w = request(t, r, http.MethodGet, "/status", "")
	st := VectorState{}
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Mode != ModeZ || len(st.Axes) != 3 || !near(st.Axes[2].Field, 0.1) {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestHTTPVector2DHasNoPhi(t *testing.T) {
	v, _ := newVector2D(t, ModeXY)
	rt := NewHTTPVector(v, time.Second).RT()
	for _, e := range rt.Endpoints() {
		if strings.Contains(e, "phi") {
			t.Errorf("2D magnet serves %s", e)
		}
	}
	if _, ok := rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/total-alpha"}]; !ok {
		t.Error("2D magnet does not serve GET /total-alpha")
	}
}

func TestHTTPModeRefusedWhileAxesPersistent(t *testing.T) {
	v, _ := newVector2D(t, ModeRaw)
	r := router(NewHTTPVector(v, time.Second))
	for _, a := range []AxisName{X, Y} {
		if err := v.SetAxisField(a, 0.5); err != nil {
			t.Fatal(err)
		}
		if err := v.SetAxisPersistent(a, true); err != nil {
			t.Fatal(err)
		}
	}
	w := request(t, r, http.MethodPost, "/mode", `{"str":"xy"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("mode switch with two persistent axes: expected 409, got %d %s", w.Code, w.Body.String())
	}
	if m := v.Mode(); m != ModeRaw {
		t.Errorf("mode changed to %s", m)
	}
}
