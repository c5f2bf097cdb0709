// Command amictl queries or ramps a single AMI 430 supply from the shell.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/theckman/yacspin"

	"github.com/magnetlab/golab/ami430"
)

const usage = `amictl talks to one AMI 430 supply.

Usage:
	amictl [flags] <command> [argument]

Commands:
	status              print every reading as JSON
	field               print the field, T
	field <T>           ramp to a field and wait for the ramp to finish
	ramp-to <T>         start a ramp and return immediately
	rate <T/s>          set the ramp rate
	persistent on|off   enter or leave persistent mode
	reset-quench        clear a quench, without any safety check
	watch               print the status every -period until interrupted
	raw <cmd>           send a command, print the response of a query

Flags:
`

func main() {
	var (
		addr   string
		serial bool
		mock   bool
		coil   float64
		rating float64
		period time.Duration
	)
	def := ami430.DefaultAxisConfig()
	flag.StringVar(&addr, "addr", "192.168.2.3", "network address (port 7180 implied) or serial device of the supply")
	flag.BoolVar(&serial, "serial", false, "addr is an RS-232 device")
	flag.BoolVar(&mock, "mock", false, "talk to a simulated supply")
	flag.Float64Var(&coil, "coil", def.CoilConstant, "coil constant, T/A")
	flag.Float64Var(&rating, "rating", def.CurrentRating, "current rating, A")
	flag.DurationVar(&period, "period", time.Second, "polling period of watch")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	log.SetFlags(0)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cfg := def
	cfg.CoilConstant, cfg.CurrentRating = coil, rating

	var m *ami430.Magnet
	if mock {
		m, _ = ami430.NewMock("mock", cfg)
	} else {
		m = ami430.NewMagnet(addr, serial, cfg)
	}
	os.Exit(run(m, args, period))
}

// run executes one command and closes the connection.  It returns the exit
// status.
func run(m *ami430.Magnet, args []string, period time.Duration) int {
	defer m.Close()
	if err := dispatch(m, args, period); err != nil {
		log.Println(err)
		return 1
	}
	return 0
}

func dispatch(m *ami430.Magnet, args []string, period time.Duration) error {
	cmd, arg := strings.ToLower(args[0]), ""
	if len(args) > 1 {
		arg = strings.Join(args[1:], " ")
	}
	switch cmd {
	case "status":
		s, err := m.Status()
		if err != nil {
			return err
		}
		return printJSON(s)
	case "field":
		if arg == "" {
			f, err := m.Field()
			if err != nil {
				return err
			}
			fmt.Println(f)
			return nil
		}
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return err
		}
		return spin(fmt.Sprintf(" ramping to %g T", f), func() error { return m.SetField(f) })
	case "ramp-to":
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return err
		}
		return m.RampTo(f)
	case "rate":
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return err
		}
		return m.SetRampRate(f)
	case "persistent":
		var on bool
		switch strings.ToLower(arg) {
		case "on", "true", "1":
			on = true
		case "off", "false", "0":
		default:
			return fmt.Errorf("persistent takes on or off, not %q", arg)
		}
		msg := " entering persistent mode"
		if !on {
			msg = " leaving persistent mode"
		}
		return spin(msg, func() error { return m.SetPersistent(on) })
	case "reset-quench":
		return m.ResetQuench()
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		for r := range ami430.Monitor(ctx, period, m) {
			if r.Err != nil {
				log.Println(r.Err)
				continue
			}
			s := r.State
			fmt.Printf("%s  %10.6f T  %-16s pswitch=%t persistent=%t quench=%t\n",
				r.Time.Format("15:04:05"), s.Field, s.RampState, s.PSwitch, s.Persistent, s.Quench)
		}
		return nil
	case "raw":
		resp, err := m.Raw(arg)
		if err != nil {
			return err
		}
		if resp != "" {
			fmt.Println(resp)
		}
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// spin runs a blocking operation with a spinner on the terminal
func spin(msg string, fcn func() error) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		// no terminal, run without the spinner
		return fcn()
	}
	if err := spinner.Start(); err != nil {
		return fcn()
	}
	if err := fcn(); err != nil {
		spinner.StopFailMessage(" " + err.Error())
		spinner.StopFail()
		return err
	}
	return spinner.Stop()
}
