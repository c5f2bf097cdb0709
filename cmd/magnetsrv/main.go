package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "magnetsrv.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:         ":8000",
		StreamPeriod: 1,
		QuenchPoll:   5,
		Nodes:        []ObjSetup{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `magnetsrv controls AMI 430 magnet power supplies and exposes an HTTP interface to them.
Single magnets as well as 2D and 3D vector magnets are supported.

Usage:
	magnetsrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `magnetsrv is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Without a configuration, the server serves only /endpoints.

No two endpoints can have the same URL.

URLs may look like any variation between "cryostat/vector" or "/cryostat/vector/*",
the leading and trailing slashes, as well as the *, are added by the server if missing.

Node types, case insensitive:
- "ami430" a single magnet, configured by Axis
- "ami430-2d" an XY vector magnet, configured by Axes X and Y; Mode is one of
  RAW, X, Y, XY
- "ami430-3d" an XYZ vector magnet, configured by Axes X, Y and Z; Mode is one of
  RAW, X, Y, Z, XY, XZ, YZ, XYZ

An axis without CoilConstant uses the default ratings for that axis.  Timing
values are in seconds and override the defaults when non-zero.

Setting Mock: true simulates every supply; no hardware is contacted.

Example:

Addr: :8000
Nodes:
- Endpoint: /vector
  Type: ami430-2d
  Mode: XY
  Axes:
    X:
      Addr: 192.168.2.3
    Y:
      Addr: 192.168.2.2
  Ratings:
    XY: 1`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("magnetsrv version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	mux, err := BuildMux(context.Background(), c)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
