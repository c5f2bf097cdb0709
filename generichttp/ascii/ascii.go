// Package ascii contains some injectable HTTP interfaces to ASCII hardware
package ascii

import (
	"encoding/json"
	"errors"
	"go/types"
	"log"
	"net/http"
	"strings"

	"github.com/magnetlab/golab/generichttp"
	"github.com/magnetlab/golab/server"
)

// ErrEmptyCommand is returned for a raw request without a command
var ErrEmptyCommand = errors.New("empty command")

// RawCommunicator has a single Raw method
type RawCommunicator interface {
	Raw(string) (string, error)
}

// RawWrapper is a wrapper around a raw communicator.
// Raw commands skip every check the device type makes, so each one is logged.
type RawWrapper struct {
	Comm RawCommunicator

	// Log receives one line per command; nil uses the standard logger
	Log *log.Logger
}

func (rw *RawWrapper) logf(format string, args ...interface{}) {
	if rw.Log != nil {
		rw.Log.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// HTTPRaw provides access to the raw function over http.
// A command that is not a query replies with an empty string.
func (rw *RawWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd := strings.TrimSpace(str.Str)
	if cmd == "" {
		http.Error(w, ErrEmptyCommand.Error(), http.StatusBadRequest)
		return
	}
	rw.logf("raw command %q from %s", cmd, r.RemoteAddr)
	resp, err := rw.Comm.Raw(cmd)
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	hp := server.HumanPayload{T: types.String, String: resp}
	hp.EncodeAndRespond(w, r)
}

// InjectRawComm injects a /raw POST route into a route table
func InjectRawComm(table generichttp.RouteTable, raw RawCommunicator) {
	InjectRawCommLogged(table, raw, nil)
}

// InjectRawCommLogged is InjectRawComm with the commands logged to l
func InjectRawCommLogged(table generichttp.RouteTable, raw RawCommunicator, l *log.Logger) {
	wrap := RawWrapper{Comm: raw, Log: l}
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = wrap.HTTPRaw
}
