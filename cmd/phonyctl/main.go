// Command phonyctl drives a running phony daemon over the session bus.
//
//	phonyctl -mode=status
//	phonyctl -mode=dial -number 5551234
//	phonyctl -mode=volume -level 60
//	phonyctl -mode=crank          (one magneto pulse; eight start a call)
//
// Modes: status, voice-dial, dial, answer, hangup, mute, unmute, mic-volume,
// volume, reset, ring, stop-ring, short-ring, off-hook, on-hook, crank.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"phony/internal/control"
)

// modes without arguments, by D-Bus method
var simple = map[string]string{
	"voice-dial": "BeginVoiceDial",
	"answer":     "Answer",
	"hangup":     "HangUp",
	"mute":       "Mute",
	"unmute":     "Unmute",
	"reset":      "Reset",
	"ring":       "StartRinging",
	"stop-ring":  "StopRinging",
	"short-ring": "ShortRing",
	"off-hook":   "SimulateOffHook",
	"on-hook":    "SimulateOnHook",
	"crank":      "SimulateCrankTurned",
}

func main() {
	mode := flag.String("mode", "status", "what to do (see package doc)")
	number := flag.String("number", "", "number to dial (dial mode)")
	level := flag.Int("level", -1, "volume percent (mic-volume and volume modes)")
	name := flag.String("bus-name", control.DefaultName, "service name of the daemon")
	timeout := flag.Duration("timeout", 15*time.Second, "call timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, closeConn, err := control.Dial(*name)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer closeConn()

	m := strings.ToLower(*mode)
	switch m {
	case "status":
		runStatus(ctx, c)
	case "dial":
		if *number == "" {
			log.Fatal("-number is required in dial mode")
		}
		check(c.Invoke(ctx, "Dial", *number))
	case "mic-volume", "volume":
		if *level < 0 || *level > 100 {
			log.Fatalf("-level must be within 0..100 in %s mode", m)
		}
		method := "SetSpeakerVolume"
		if m == "mic-volume" {
			method = "SetMicrophoneVolume"
		}
		check(c.Invoke(ctx, method, int32(*level)))
	default:
		method, ok := simple[m]
		if !ok {
			log.Fatalf("unknown mode: %s", *mode)
		}
		check(c.Invoke(ctx, method))
	}
}

func runStatus(ctx context.Context, c *control.Client) {
	status, err := c.Status(ctx)
	check(err)
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-13s %s\n", k+":", status[k])
	}
}

func check(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
