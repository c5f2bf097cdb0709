package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-yaml/yaml"

	"github.com/magnetlab/golab/ami430"
	"github.com/magnetlab/golab/generichttp"
	"github.com/magnetlab/golab/server/middleware/locker"
	"github.com/magnetlab/golab/util"
)

// AxisSetup holds the address and ratings of one supply and its magnet.
// If CoilConstant is zero the ratings are ignored and the defaults for the
// axis are used.
type AxisSetup struct {
	// Addr holds the network or filesystem address of the supply,
	// e.g. 192.168.2.3 (port 7180 is implied) or /dev/ttyS4 for RS-232
	Addr string `yaml:"Addr"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `yaml:"Serial"`

	CoilConstant     float64 `yaml:"CoilConstant"`
	CurrentRating    float64 `yaml:"CurrentRating"`
	CurrentRampLimit float64 `yaml:"CurrentRampLimit"`
	SwitchPresent    bool    `yaml:"SwitchPresent"`
	SwitchCurrent    float64 `yaml:"SwitchCurrent"`
	SwitchHeatTime   float64 `yaml:"SwitchHeatTime"`
	SwitchCoolTime   float64 `yaml:"SwitchCoolTime"`
}

// AxisConfig returns the ratings of the axis, or def if none were given
func (a AxisSetup) AxisConfig(def ami430.AxisConfig) ami430.AxisConfig {
	if a.CoilConstant == 0 {
		return def
	}
	return ami430.AxisConfig{
		CoilConstant:     a.CoilConstant,
		CurrentRating:    a.CurrentRating,
		CurrentRampLimit: a.CurrentRampLimit,
		SwitchPresent:    a.SwitchPresent,
		SwitchCurrent:    a.SwitchCurrent,
		SwitchHeatTime:   a.SwitchHeatTime,
		SwitchCoolTime:   a.SwitchCoolTime,
	}
}

// TimingSetup overrides the delays used with a supply, in seconds.
// Zero keeps the default.
type TimingSetup struct {
	CommandDelay float64 `yaml:"CommandDelay"`
	RampStart    float64 `yaml:"RampStart"`
	PollInterval float64 `yaml:"PollInterval"`
	Settle       float64 `yaml:"Settle"`
	SwitchStart  float64 `yaml:"SwitchStart"`
}

// Timing applies the overrides to base
func (t TimingSetup) Timing(base ami430.Timing) ami430.Timing {
	set := func(dst *time.Duration, secs float64) {
		if secs != 0 {
			*dst = util.SecsToDuration(secs)
		}
	}
	set(&base.CommandDelay, t.CommandDelay)
	set(&base.RampStart, t.RampStart)
	set(&base.PollInterval, t.PollInterval)
	set(&base.Settle, t.Settle)
	set(&base.SwitchStart, t.SwitchStart)
	return base
}

// ObjSetup describes one node: a single magnet or a vector magnet
type ObjSetup struct {
	// Endpoint is the full path the routes from this node will be served on
	// ex. Endpoint="/cryostat/vector" will produce routes of
	// /cryostat/vector/field, etc.
	Endpoint string `yaml:"Endpoint"`

	// Type is "ami430", "ami430-2d" or "ami430-3d"
	Type string `yaml:"Type"`

	// Mode is the initial mode of a vector magnet, e.g. XY.  Defaults to RAW.
	Mode string `yaml:"Mode"`

	// Axis is the supply of a single magnet
	Axis AxisSetup `yaml:"Axis"`

	// Axes are the supplies of a vector magnet, keyed by X, Y and Z
	Axes map[string]AxisSetup `yaml:"Axes"`

	// Ratings are the vector field ratings, T.  The 2D magnet uses XY.
	// All zero selects the defaults.
	Ratings ami430.VectorRatings `yaml:"Ratings"`

	Timing TimingSetup `yaml:"Timing"`
}

// Config is a struct that holds the initialization parameters for the
// magnets.  It is to be populated by a yaml/unmarshal call.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Mock selects simulated supplies for every node
	Mock bool `yaml:"Mock"`

	// StreamPeriod is the spacing of /status/stream pushes, s
	StreamPeriod float64 `yaml:"StreamPeriod"`

	// QuenchPoll is the spacing of the quench watch, s.  Zero disables it.
	QuenchPoll float64 `yaml:"QuenchPoll"`

	// Nodes is the list of nodes to set up
	Nodes []ObjSetup `yaml:"Nodes"`
}

// LoadYaml converts a (path to a) yaml file into a Config struct
func LoadYaml(path string) (Config, error) {
	cfg := Config{}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&cfg)
	return cfg, err
}

// newAxis creates the magnet of one axis, simulated if mock
func newAxis(name string, setup AxisSetup, def ami430.AxisConfig, t TimingSetup, mock bool) *ami430.Magnet {
	cfg := setup.AxisConfig(def)
	if mock {
		m, _ := ami430.NewMock(name, cfg)
		return m
	}
	return ami430.NewMagnet(setup.Addr, setup.Serial, cfg,
		ami430.WithName(name),
		ami430.WithTiming(t.Timing(ami430.DefaultTiming())))
}

func buildVector(node ObjSetup, mock bool) (ami430.VectorMagnet, []ami430.Axis, error) {
	mode := ami430.ModeRaw
	if node.Mode != "" {
		m, err := ami430.ParseMode(node.Mode)
		if err != nil {
			return nil, nil, err
		}
		mode = m
	}
	defs := ami430.DefaultVectorConfigs()
	ratings := node.Ratings
	if ratings == (ami430.VectorRatings{}) {
		ratings = ami430.DefaultVectorRatings()
	}
	names := []ami430.AxisName{ami430.X, ami430.Y}
	if node.Type == "ami430-3d" {
		names = append(names, ami430.Z)
	}
	axes := make([]ami430.Axis, len(names))
	for i, n := range names {
		setup, ok := node.Axes[string(n)]
		if !ok && !mock {
			return nil, nil, fmt.Errorf("%s: no setup for axis %s", node.Endpoint, n)
		}
		axes[i] = newAxis(node.Endpoint+" "+string(n), setup, defs[n], node.Timing, mock)
	}
	if len(axes) == 2 {
		v, err := ami430.NewVector2D(node.Endpoint, axes[0], axes[1], ratings.XY, mode)
		return v, axes, err
	}
	v, err := ami430.NewVector3D(node.Endpoint, axes[0], axes[1], axes[2], ratings, mode)
	return v, axes, err
}

// BuildMux builds a chi router with a sub-router for every node.
// The mux serves a special route, /endpoints, which returns a map of node
// endpoints to the routes they serve as JSON.  Quench watches run until ctx
// is done.
func BuildMux(ctx context.Context, c Config) (chi.Router, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	period := ami430.DefaultStreamPeriod
	if c.StreamPeriod > 0 {
		period = util.SecsToDuration(c.StreamPeriod)
	}

	for _, node := range c.Nodes {
		var (
			httper generichttp.HTTPer
			axes   []ami430.Axis
		)
		typ := strings.ToLower(node.Type)
		switch typ {
		case "ami430":
			m := newAxis(node.Endpoint, node.Axis, ami430.DefaultAxisConfig(), node.Timing, c.Mock)
			axes = []ami430.Axis{m}
			httper = ami430.NewHTTPMagnet(m, period)
		case "ami430-2d", "ami430-3d":
			node.Type = typ
			v, ax, err := buildVector(node, c.Mock)
			if err != nil {
				return nil, err
			}
			axes = ax
			httper = ami430.NewHTTPVector(v, period)
		default:
			return nil, fmt.Errorf("type %s not understood", typ)
		}

		if c.QuenchPoll > 0 {
			go ami430.WatchQuench(ctx, util.SecsToDuration(c.QuenchPoll), func(r ami430.Reading) {
				log.Printf("QUENCH on %s at %g T, ramp state %s", r.Axis, r.State.Field, r.State.RampState)
			}, axes...)
		}

		// prepare the URL, "cryostat/vector" => "/cryostat/vector"
		hndlS := generichttp.SubMuxSanitize(node.Endpoint)

		// add a lock interface for this node
		lock := locker.New()
		locker.Inject(httper, lock)

		// add the endpoints to the graph
		supergraph[hndlS] = httper.RT().Endpoints()

		// bind to the mux
		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root, nil
}
