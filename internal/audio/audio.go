// Package audio gates the handset microphone and speaker through the ALSA
// mixer.
package audio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Device is the mixer surface the headset session drives.
type Device interface {
	Start() error
	MuteMicrophone() error
	UnmuteMicrophone() error
	MuteSpeaker() error
	UnmuteSpeaker() error
	SetMicrophonePlaybackVolume(percent int) error
	SetMicrophoneCaptureVolume(percent int) error
	SetSpeakerVolume(percent int) error
	String() string
}

const (
	cardsToTry = 5
	cmdTimeout = 5 * time.Second

	micControl = "Mic"
)

// speaker controls in order of preference
var speakerControls = []string{"Speaker", "Headphone", "PCM", "Master"}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Amixer drives one sound card through the amixer tool.
type Amixer struct {
	card int
	run  Runner
	log  *logrus.Entry

	started        bool
	speaker        string
	playbackSwitch bool
	captureSwitch  bool
}

var _ Device = (*Amixer)(nil)

// NewAmixer returns a mixer for card; a negative card picks the first of
// cards 0-4 that has a Mic control.
func NewAmixer(card int, log *logrus.Entry) *Amixer {
	return &Amixer{card: card, run: execRunner, log: log}
}

// WithRunner swaps the command runner.
func (a *Amixer) WithRunner(r Runner) *Amixer {
	a.run = r
	return a
}

func (a *Amixer) String() string {
	if !a.started {
		return "amixer (not started)"
	}
	return fmt.Sprintf("amixer card %d, %s/%s", a.card, micControl, a.speaker)
}

func (a *Amixer) Start() error {
	if a.started {
		return nil
	}
	cards := []int{a.card}
	if a.card < 0 {
		cards = cards[:0]
		for i := 0; i < cardsToTry; i++ {
			cards = append(cards, i)
		}
	}
	var controls []string
	found := false
	for _, c := range cards {
		out, err := a.amixer(c, "scontrols")
		if err != nil {
			a.log.WithError(err).WithField("card", c).Debug("no mixer")
			continue
		}
		controls = parseControls(out)
		if slices.Contains(controls, micControl) {
			a.card, found = c, true
			break
		}
	}
	if !found {
		return errors.Errorf("audio: no microphone mixer found (card %d)", a.card)
	}
	for _, s := range speakerControls {
		if slices.Contains(controls, s) {
			a.speaker = s
			break
		}
	}

	out, err := a.amixer(a.card, "sget", micControl)
	if err != nil {
		return err
	}
	caps := parseCapabilities(out)
	a.playbackSwitch = slices.Contains(caps, "pswitch")
	a.captureSwitch = slices.Contains(caps, "cswitch") || slices.Contains(caps, "cswitch-joined")
	a.started = true
	a.log.WithFields(logrus.Fields{
		"card":            a.card,
		"speaker":         a.speaker,
		"playback-switch": a.playbackSwitch,
		"capture-switch":  a.captureSwitch,
	}).Info("mixer started")
	return nil
}

func (a *Amixer) MuteMicrophone() error { return a.microphone(false) }
func (a *Amixer) UnmuteMicrophone() error { return a.microphone(true) }

func (a *Amixer) microphone(on bool) error {
	if err := a.ready(); err != nil {
		return err
	}
	if a.playbackSwitch {
		if _, err := a.amixer(a.card, "sset", micControl, "playback", onOff(on, "unmute", "mute")); err != nil {
			return err
		}
	}
	if a.captureSwitch {
		if _, err := a.amixer(a.card, "sset", micControl, "capture", onOff(on, "cap", "nocap")); err != nil {
			return err
		}
	}
	a.log.WithField("live", on).Debug("microphone")
	return nil
}

func (a *Amixer) MuteSpeaker() error { return a.speakerSwitch(false) }
func (a *Amixer) UnmuteSpeaker() error { return a.speakerSwitch(true) }

func (a *Amixer) speakerSwitch(on bool) error {
	if err := a.ready(); err != nil {
		return err
	}
	if a.speaker == "" {
		return nil
	}
	_, err := a.amixer(a.card, "sset", a.speaker, onOff(on, "unmute", "mute"))
	return err
}

func (a *Amixer) SetMicrophonePlaybackVolume(percent int) error {
	return a.volume(micControl, "playback", percent)
}

func (a *Amixer) SetMicrophoneCaptureVolume(percent int) error {
	return a.volume(micControl, "capture", percent)
}

func (a *Amixer) SetSpeakerVolume(percent int) error {
	if a.speaker == "" && a.started {
		return errors.New("audio: no speaker control")
	}
	return a.volume(a.speaker, "", percent)
}

func (a *Amixer) volume(control, direction string, percent int) error {
	if percent < 0 || percent > 100 {
		return errors.Errorf("audio: volume %d out of range 0-100", percent)
	}
	if err := a.ready(); err != nil {
		return err
	}
	args := []string{"sset", control}
	if direction != "" {
		args = append(args, direction)
	}
	args = append(args, strconv.Itoa(percent)+"%")
	_, err := a.amixer(a.card, args...)
	return err
}

func (a *Amixer) ready() error {
	if !a.started {
		return errors.New("audio: mixer not started")
	}
	return nil
}

func (a *Amixer) amixer(card int, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	full := append([]string{"-c", strconv.Itoa(card)}, args...)
	out, err := a.run(ctx, "amixer", full...)
	if err != nil {
		return out, errors.Wrapf(err, "audio: amixer %s: %s", strings.Join(full, " "), bytes.TrimSpace(out))
	}
	return out, nil
}

func onOff(on bool, yes, no string) string {
	if on {
		return yes
	}
	return no
}

// parseControls reads lines like: Simple mixer control 'Mic',0
func parseControls(out []byte) []string {
	var names []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		start := strings.IndexByte(line, '\'')
		end := strings.LastIndexByte(line, '\'')
		if start >= 0 && end > start {
			names = append(names, line[start+1:end])
		}
	}
	return names
}

// parseCapabilities reads the "Capabilities:" line of sget output.
func parseCapabilities(out []byte) []string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if rest, ok := strings.CutPrefix(line, "Capabilities:"); ok {
			return strings.Fields(rest)
		}
	}
	return nil
}
