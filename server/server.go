// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
)

// BoolT is a struct with a single Bool field
type BoolT struct {
	Bool bool `json:"bool"`
}

// FloatT is a struct with a single F64 field
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single Int field
type IntT struct {
	Int int `json:"int"`
}

// StrT is a struct with a single Str field
type StrT struct {
	Str string `json:"str"`
}

// HumanPayload is a struct containing the basic types devices may work with
// only one of the fields is populated, as indicated by T
type HumanPayload struct {
	// Bool holds a binary value
	Bool bool

	// Float holds a floating point value
	Float float64

	// Int holds an integer value
	Int int

	// String holds a string value
	String string

	// T holds the type of data actually contained in the payload
	T types.BasicKind
}

// EncodeAndRespond writes the payload as JSON to w, wrapped in the struct
// matching T, e.g. {"f64": 1.5}
func (hp *HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	case types.Float64:
		v = FloatT{F64: hp.Float}
	case types.Int:
		v = IntT{Int: hp.Int}
	case types.String:
		v = StrT{Str: hp.String}
	default:
		http.Error(w, fmt.Sprintf("payload type %v not understood", hp.T), http.StatusInternalServerError)
		return
	}
	ReplyJSON(w, v)
}

// ReplyJSON encodes v as JSON and writes it to w with status 200
func ReplyJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		log.Println(fstr)
	}
}
