//go:build linux

package inject

import (
	"errors"
	"testing"

	"github.com/offlinefirst/inputreplay/internal/evdev"
	"github.com/offlinefirst/inputreplay/pkg/input"
)

func TestEncodeUinputFrames(t *testing.T) {
	cases := []struct {
		name string
		ev   input.Event
		want []evdev.RawEvent
	}{
		{
			name: "relative move",
			ev:   input.Event{Kind: input.KindPointerMove, Relative: true, X: 3, Y: -4},
			want: []evdev.RawEvent{
				{Type: evdev.EvRel, Code: evdev.RelX, Value: 3},
				{Type: evdev.EvRel, Code: evdev.RelY, Value: -4},
				{Type: evdev.EvSyn, Code: evdev.SynReport},
			},
		},
		{
			name: "left press",
			ev:   input.Event{Kind: input.KindPointerDown, Button: input.ButtonLeft},
			want: []evdev.RawEvent{
				{Type: evdev.EvKey, Code: evdev.BtnLeft, Value: evdev.ValuePress},
				{Type: evdev.EvSyn, Code: evdev.SynReport},
			},
		},
		{
			name: "key release",
			ev:   input.Event{Kind: input.KindKeyUp, Key: 30},
			want: []evdev.RawEvent{
				{Type: evdev.EvKey, Code: 30, Value: evdev.ValueRelease},
				{Type: evdev.EvSyn, Code: evdev.SynReport},
			},
		},
		{
			name: "scroll",
			ev:   input.Event{Kind: input.KindScroll, DY: -2},
			want: []evdev.RawEvent{
				{Type: evdev.EvRel, Code: evdev.RelWheel, Value: -2},
				{Type: evdev.EvSyn, Code: evdev.SynReport},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := encodeUinput(tc.ev)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d raw events, got %+v", len(tc.want), got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("raw %d: expected %+v, got %+v", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestEncodeUinputUnsupported(t *testing.T) {
	for _, ev := range []input.Event{
		{Kind: input.KindPointerMove, X: 10, Y: 10},
		{Kind: input.KindKeyDown, Key: 0x1ff},
		{Kind: input.KindPointerDown, Button: input.ButtonNone},
	} {
		_, err := encodeUinput(ev)
		if !errors.Is(err, ErrUnsupported) || IsFatal(err) {
			t.Fatalf("expected non-fatal unsupported for %s, got %v", ev, err)
		}
	}
}

func TestEncodeUinputEmptyMove(t *testing.T) {
	got, err := encodeUinput(input.Event{Kind: input.KindPointerMove, Relative: true})
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no frame for zero move, got %+v %v", got, err)
	}
}
