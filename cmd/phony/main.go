//go:build linux

// Command phony turns a Linux board into a Bluetooth hands-free headset for
// a paired phone, driving a hand-crank telephone's handset, hook switch and
// bell.
//
//	sudo phony -name Phony -pin 1234 -visibility-timeout 120
//
// Settings come from /etc/phony/phony.toml (or -config) and are overridden
// by any flag given on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"phony/internal/app"
	"phony/internal/config"
	"phony/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "phony:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("phony", flag.ExitOnError)
	path := fs.String("config", "", "configuration file (default "+config.DefaultPath+")")

	var over config.Config
	fs.StringVar(&over.Interface, "interface", "", "Bluetooth adapter to use: address or hciN")
	fs.StringVar(&over.Name, "name", "", "name to advertise")
	fs.StringVar(&over.Pin, "pin", "", "PIN answered when Simple Pairing is unavailable")
	fs.IntVar(&over.VisibilityTimeout, "visibility-timeout", 0, "seconds to stay discoverable and pairable (0: no limit)")
	fs.IntVar(&over.AudioCardIndex, "audio-card-index", -1, "ALSA card index (-1: first card with a microphone)")
	fs.IntVar(&over.MicPlaybackVolume, "mic-playback-volume", 0, "in-call sidetone volume, percent")
	fs.IntVar(&over.MicCaptureVolume, "mic-capture-volume", 0, "in-call microphone gain, percent")
	fs.IntVar(&over.Volume, "volume", 0, "in-call speaker volume, percent")
	fs.StringVar(&over.LogLevel, "log-level", "", "trace, debug, info, warn or error")
	fs.IntVar(&over.AttachTimeout, "attach-timeout", 0, "seconds to wait for the phone's modem (0: no limit)")
	fs.StringVar(&over.RingerPort, "ringer-port", "", "serial port of the bell relay board")
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) { apply(&cfg, over, f.Name) })
	if err := cfg.Validate(); err != nil {
		return err
	}

	root, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return app.New(cfg, root).Run(ctx)
}

// apply copies the flag named name from over into cfg.
func apply(cfg *config.Config, over config.Config, name string) {
	switch name {
	case "interface":
		cfg.Interface = over.Interface
	case "name":
		cfg.Name = over.Name
	case "pin":
		cfg.Pin = over.Pin
	case "visibility-timeout":
		cfg.VisibilityTimeout = over.VisibilityTimeout
	case "audio-card-index":
		cfg.AudioCardIndex = over.AudioCardIndex
	case "mic-playback-volume":
		cfg.MicPlaybackVolume = over.MicPlaybackVolume
	case "mic-capture-volume":
		cfg.MicCaptureVolume = over.MicCaptureVolume
	case "volume":
		cfg.Volume = over.Volume
	case "log-level":
		cfg.LogLevel = over.LogLevel
	case "attach-timeout":
		cfg.AttachTimeout = over.AttachTimeout
	case "ringer-port":
		cfg.RingerPort = over.RingerPort
	}
}
