package ami430

import (
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/magnetlab/golab/generichttp"
	"github.com/magnetlab/golab/generichttp/ascii"
	"github.com/magnetlab/golab/generichttp/stream"
	"github.com/magnetlab/golab/server"
)

// VectorMagnet is the interface common to Vector2D and Vector3D
type VectorMagnet interface {
	Name() string
	Axes() []Axis
	Mode() Mode
	SetMode(Mode) error
	Parameters() []Parameter
	Status() (VectorState, error)

	Field() (float64, error)
	SetField(float64) error
	Alpha() (float64, error)
	SetAlpha(float64) error
	OffsetEnabled() (bool, error)
	SetOffsetEnabled(bool) error
	OffsetField() (float64, error)
	SetOffsetField(float64) error
	OffsetAlpha() (float64, error)
	SetOffsetAlpha(float64) error
	TotalField() (float64, error)
	TotalAlpha() (float64, error)

	AxisField(AxisName) (float64, error)
	SetAxisField(AxisName, float64) error
	RampToAxis(AxisName, float64) error
	AxisSetPoint(AxisName) (float64, error)
	AxisRampRate(AxisName) (float64, error)
	SetAxisRampRate(AxisName, float64) error
	AxisRampState(AxisName) (RampState, error)
	AxisPSwitch(AxisName) (bool, error)
	SetAxisPSwitch(AxisName, bool) error
	AxisPersistent(AxisName) (bool, error)
	SetAxisPersistent(AxisName, bool) error
	AxisQuench(AxisName) (bool, error)
	AxisError(AxisName) (string, error)
	ResetQuench(AxisName) error
}

// polar is implemented by vector magnets with a polar angle
type polar interface {
	Phi() (float64, error)
	SetPhi(float64) error
	OffsetPhi() (float64, error)
	SetOffsetPhi(float64) error
	TotalPhi() (float64, error)
}

// DefaultStreamPeriod is how often /status/stream pushes a snapshot
const DefaultStreamPeriod = time.Second

// badRequest is a malformed argument that never reached the magnet
type badRequest struct {
	error
}

func (badRequest) StatusCode() int {
	return http.StatusBadRequest
}

func rampState(fcn func() (RampState, error)) http.HandlerFunc {
	return generichttp.GetInt(func() (int, error) {
		st, err := fcn()
		return int(st), err
	})
}

func status(fcn func() (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		server.ReplyJSON(w, s)
	}
}

// HTTPMagnet provides HTTP bindings over a single Magnet
type HTTPMagnet struct {
	Magnet *Magnet

	// RouteTable maps method-path pairs to handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPMagnet returns a new HTTP wrapper with the route table
// pre-configured.  The status stream pushes every period.
func NewHTTPMagnet(m *Magnet, period time.Duration) HTTPMagnet {
	w := HTTPMagnet{Magnet: m}
	snapshot := func() (interface{}, error) { return m.Status() }
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/field"}:           generichttp.GetFloat(m.Field),
		{Method: http.MethodPost, Path: "/field"}:          generichttp.SetFloat(m.SetField),
		{Method: http.MethodPost, Path: "/ramp-to"}:        generichttp.SetFloat(m.RampTo),
		{Method: http.MethodGet, Path: "/setpoint"}:        generichttp.GetFloat(m.SetPoint),
		{Method: http.MethodGet, Path: "/ramp-rate"}:       generichttp.GetFloat(m.RampRate),
		{Method: http.MethodPost, Path: "/ramp-rate"}:      generichttp.SetFloat(m.SetRampRate),
		{Method: http.MethodGet, Path: "/ramp-state"}:      rampState(m.RampState),
		{Method: http.MethodGet, Path: "/pswitch"}:         generichttp.GetBool(m.PSwitch),
		{Method: http.MethodPost, Path: "/pswitch"}:        generichttp.SetBool(m.SetPSwitch),
		{Method: http.MethodGet, Path: "/persistent"}:      generichttp.GetBool(m.Persistent),
		{Method: http.MethodPost, Path: "/persistent"}:     generichttp.SetBool(m.SetPersistent),
		{Method: http.MethodGet, Path: "/quench"}:          generichttp.GetBool(m.Quench),
		{Method: http.MethodPost, Path: "/reset-quench"}:   generichttp.Action(m.ResetQuench),
		{Method: http.MethodGet, Path: "/error"}:           generichttp.GetString(m.Error),
		{Method: http.MethodGet, Path: "/offset-enabled"}:  generichttp.GetBool(func() (bool, error) { return m.OffsetEnabled(), nil }),
		{Method: http.MethodPost, Path: "/offset-enabled"}: generichttp.SetBool(m.SetOffsetEnabled),
		{Method: http.MethodGet, Path: "/offset-field"}:    generichttp.GetFloat(m.OffsetField),
		{Method: http.MethodPost, Path: "/offset-field"}:   generichttp.SetFloat(m.SetOffsetField),
		{Method: http.MethodGet, Path: "/total-field"}:     generichttp.GetFloat(m.TotalField),
		{Method: http.MethodGet, Path: "/status"}:          status(snapshot),
		{Method: http.MethodGet, Path: "/status/stream"}:   stream.Handler(snapshot, period),
	}
	ascii.InjectRawCommLogged(rt, m, m.logger())
	w.RouteTable = rt
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPMagnet) RT() generichttp.RouteTable {
	return h.RouteTable
}

// HTTPVector provides HTTP bindings over a Vector2D or Vector3D.
// Per-axis routes take the axis from the URL, /axis/x/field etc.
type HTTPVector struct {
	Vector VectorMagnet

	// RouteTable maps method-path pairs to handlers
	RouteTable generichttp.RouteTable
}

// perAxis resolves {axis} and hands the request to the handler h builds for it
func perAxis(h func(AxisName) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := ParseAxisName(chi.URLParam(r, "axis"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h(a)(w, r)
	}
}

// NewHTTPVector returns a new HTTP wrapper with the route table
// pre-configured.  Routes for phi exist if v has a polar angle.
func NewHTTPVector(v VectorMagnet, period time.Duration) HTTPVector {
	w := HTTPVector{Vector: v}
	snapshot := func() (interface{}, error) { return v.Status() }
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/mode"}:            generichttp.GetString(func() (string, error) { return v.Mode().String(), nil }),
		{Method: http.MethodPost, Path: "/mode"}:           generichttp.SetString(w.setMode),
		{Method: http.MethodGet, Path: "/parameters"}:      w.HTTPParameters,
		{Method: http.MethodGet, Path: "/field"}:           generichttp.GetFloat(v.Field),
		{Method: http.MethodPost, Path: "/field"}:          generichttp.SetFloat(v.SetField),
		{Method: http.MethodGet, Path: "/alpha"}:           generichttp.GetFloat(v.Alpha),
		{Method: http.MethodPost, Path: "/alpha"}:          generichttp.SetFloat(v.SetAlpha),
		{Method: http.MethodGet, Path: "/offset-enabled"}:  generichttp.GetBool(v.OffsetEnabled),
		{Method: http.MethodPost, Path: "/offset-enabled"}: generichttp.SetBool(v.SetOffsetEnabled),
		{Method: http.MethodGet, Path: "/offset-field"}:    generichttp.GetFloat(v.OffsetField),
		{Method: http.MethodPost, Path: "/offset-field"}:   generichttp.SetFloat(v.SetOffsetField),
		{Method: http.MethodGet, Path: "/offset-alpha"}:    generichttp.GetFloat(v.OffsetAlpha),
		{Method: http.MethodPost, Path: "/offset-alpha"}:   generichttp.SetFloat(v.SetOffsetAlpha),
		{Method: http.MethodGet, Path: "/total-field"}:     generichttp.GetFloat(v.TotalField),
		{Method: http.MethodGet, Path: "/total-alpha"}:     generichttp.GetFloat(v.TotalAlpha),
		{Method: http.MethodGet, Path: "/status"}:          status(snapshot),
		{Method: http.MethodGet, Path: "/status/stream"}:   stream.Handler(snapshot, period),

		{Method: http.MethodGet, Path: "/axis/{axis}/field"}: perAxis(func(a AxisName) http.HandlerFunc {
			return generichttp.GetFloat(func() (float64, error) { return v.AxisField(a) })
		}),
		{Method: http.MethodPost, Path: "/axis/{axis}/field"}: perAxis(func(a AxisName) http.HandlerFunc {
			return generichttp.SetFloat(func(f float64) error { return v.SetAxisField(a, f) })
		}),
		{Method: http.MethodPost, Path: "/axis/{axis}/ramp-to"}: perAxis(func(a AxisName) http.HandlerFunc {
			return generichttp.SetFloat(func(f float64) error { return v.RampToAxis(a, f) })
		}),
		{Method: http.MethodGet, Path: "/axis/{axis}/setpoint"}: perAxis(func(a AxisName) http.HandlerFunc {
			return generichttp.GetFloat(func() (float64, error) { return v.AxisSetPoint(a) })
		}),
		{Method: http.MethodGet, Path: "/axis/{axis}/ramp-rate"}: perAxis(func(a AxisName) http.HandlerFunc {
			return generichttp.GetFloat(func() (float64, error) { return v.AxisRampRate(a) })
		}),
		{Method: http.MethodPost, Path: "/axis/{axis}/ramp-rate"}: perAxis(func(a AxisName) http.HandlerFunc {
			return generichttp.SetFloat(func(f float64) error { return v.SetAxisRampRate(a, f) })
		}),
		{Method: http.MethodGet, Path: "/axis/{axis}/ramp-state"}: perAxis(func(a AxisName) http.HandlerFunc {
			return rampState(func() (RampState, error) { return v.AxisRampState(a) })
		}),
		{Method: http.MethodGet, Path: "/axis/{axis}/pswitch"}: perAxis(func(a AxisName) http.HandlerFunc {
			return generichttp.GetBool(func() (bool, error) { return v.AxisPSwitch(a) })
		}),
		{Method: http.MethodPost, Path: "/axis/{axis}/pswitch"}: perAxis(func(a AxisName) http.HandlerFunc {
			return generichttp.SetBool(func(b bool) error { return v.SetAxisPSwitch(a, b) })
		}),
		{Method: http.MethodGet, Path: "/axis/{axis}/persistent"}: perAxis(func(a AxisName) http.HandlerFunc {
			return generichttp.GetBool(func() (bool, error) { return v.AxisPersistent(a) })
		}),
		{Method: http.MethodPost, Path: "/axis/{axis}/persistent"}: perAxis(func(a AxisName) http.HandlerFunc {
			return generichttp.SetBool(func(b bool) error { return v.SetAxisPersistent(a, b) })
		}),
		{Method: http.MethodGet, Path: "/axis/{axis}/quench"}: perAxis(func(a AxisName) http.HandlerFunc {
			return generichttp.GetBool(func() (bool, error) { return v.AxisQuench(a) })
		}),
		{Method: http.MethodPost, Path: "/axis/{axis}/reset-quench"}: perAxis(func(a AxisName) http.HandlerFunc {
			return generichttp.Action(func() error { return v.ResetQuench(a) })
		}),
		{Method: http.MethodGet, Path: "/axis/{axis}/error"}: perAxis(func(a AxisName) http.HandlerFunc {
			return generichttp.GetString(func() (string, error) { return v.AxisError(a) })
		}),
	}
	if p, ok := v.(polar); ok {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/phi"}] = generichttp.GetFloat(p.Phi)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/phi"}] = generichttp.SetFloat(p.SetPhi)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/offset-phi"}] = generichttp.GetFloat(p.OffsetPhi)
		rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/offset-phi"}] = generichttp.SetFloat(p.SetOffsetPhi)
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/total-phi"}] = generichttp.GetFloat(p.TotalPhi)
	}
	w.RouteTable = rt
	return w
}

func (h HTTPVector) setMode(s string) error {
	m, err := ParseMode(s)
	if err != nil {
		return badRequest{err}
	}
	return h.Vector.SetMode(m)
}

// HTTPParameters lists the parameters of the active mode as JSON
func (h HTTPVector) HTTPParameters(w http.ResponseWriter, r *http.Request) {
	server.ReplyJSON(w, h.Vector.Parameters())
}

// RT satisfies generichttp.HTTPer
func (h HTTPVector) RT() generichttp.RouteTable {
	return h.RouteTable
}
