package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var volumeRe = regexp.MustCompile(`(\d+)\s*%`)

// Ducker lowers every other PulseAudio stream while the kiosk speaks, so
// lobby music or a looping promo video never talks over the assistant.
// Streams whose application.name matches selfName are left alone.
type Ducker struct {
	selfName string
	factor   float64 // surviving fraction of the original volume
	floor    int     // percent, never duck below this

	mu       sync.Mutex
	active   bool
	restored map[int]int // sink-input id -> original percent
}

func NewDucker(selfName string, factor float64, floor int) *Ducker {
	if factor <= 0 || factor >= 1 {
		factor = 0.3
	}
	if floor < 0 {
		floor = 0
	}
	return &Ducker{
		selfName: selfName,
		factor:   factor,
		floor:    floor,
		restored: make(map[int]int),
	}
}

// Engage scales down every foreign stream. Idempotent until Disengage.
func (d *Ducker) Engage(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	streams, err := listSinkInputs(ctx)
	if err != nil {
		return err
	}

	d.restored = make(map[int]int)
	for _, s := range streams {
		if s.AppName == d.selfName {
			continue
		}
		target := int(math.Round(float64(s.Volume) * d.factor))
		if target < d.floor {
			target = d.floor
		}
		if err := setSinkInputVolume(ctx, s.ID, target); err != nil {
			return err
		}
		d.restored[s.ID] = s.Volume
	}

	d.active = true
	return nil
}

// Disengage restores the volumes recorded by Engage. Streams that appeared
// mid-session keep whatever volume they have.
func (d *Ducker) Disengage(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	for id, vol := range d.restored {
		if err := setSinkInputVolume(ctx, id, vol); err != nil {
			return err
		}
	}

	d.restored = make(map[int]int)
	d.active = false
	return nil
}

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

func listSinkInputs(ctx context.Context) ([]sinkInput, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}

	blocks := strings.Split(string(out), "Sink Input #")
	if len(blocks) <= 1 {
		return nil, nil
	}

	var res []sinkInput
	for _, block := range blocks[1:] {
		nl := strings.IndexByte(block, '\n')
		if nl <= 0 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(block[:nl]))
		if err != nil {
			continue
		}

		s := sinkInput{ID: id}
		for _, line := range strings.Split(block[nl+1:], "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := volumeRe.FindStringSubmatch(line); len(m) >= 2 {
					s.Volume, _ = strconv.Atoi(m[1])
				}
			}
			if strings.HasPrefix(line, "application.name =") && s.AppName == "" {
				if open := strings.IndexByte(line, '"'); open >= 0 {
					rest := line[open+1:]
					if close := strings.IndexByte(rest, '"'); close >= 0 {
						s.AppName = rest[:close]
					}
				}
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}

	return res, nil
}

func setSinkInputVolume(ctx context.Context, id, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 150 {
		percent = 150
	}
	return exec.CommandContext(ctx, "pactl",
		"set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent)).Run()
}
