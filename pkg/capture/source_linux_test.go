package capture

import (
	"testing"

	"github.com/offlinefirst/inputreplay/internal/evdev"
	"github.com/offlinefirst/inputreplay/pkg/input"
)

func TestEvdevDecoderFoldsMotionFrames(t *testing.T) {
	var d evdevDecoder
	if out := d.feed(evdev.EvRel, evdev.RelX, 3); out != nil {
		t.Fatalf("motion must wait for SYN_REPORT")
	}
	d.feed(evdev.EvRel, evdev.RelY, -2)
	d.feed(evdev.EvRel, evdev.RelX, 1)
	d.feed(evdev.EvRel, evdev.RelWheel, -1)
	out := d.feed(evdev.EvSyn, evdev.SynReport, 0)
	if len(out) != 2 {
		t.Fatalf("expected move and scroll, got %+v", out)
	}
	if out[0].Kind != input.KindPointerMove || !out[0].Relative || out[0].X != 4 || out[0].Y != -2 {
		t.Fatalf("unexpected move %+v", out[0])
	}
	if out[1].Kind != input.KindScroll || out[1].DY != -1 {
		t.Fatalf("unexpected scroll %+v", out[1])
	}
	if again := d.feed(evdev.EvSyn, evdev.SynReport, 0); len(again) != 0 {
		t.Fatalf("empty frame should produce nothing, got %+v", again)
	}
}

func TestEvdevDecoderKeysAndButtons(t *testing.T) {
	var d evdevDecoder
	if out := d.feed(evdev.EvKey, 30, evdev.ValuePress); out != nil {
		t.Fatalf("key press must wait for SYN_REPORT, got %+v", out)
	}
	out := d.feed(evdev.EvSyn, evdev.SynReport, 0)
	if len(out) != 1 || out[0].Kind != input.KindKeyDown || out[0].Key != 30 {
		t.Fatalf("unexpected key press %+v", out)
	}
	d.feed(evdev.EvKey, 30, evdev.ValueRepeat)
	if out := d.feed(evdev.EvSyn, evdev.SynReport, 0); len(out) != 0 {
		t.Fatalf("autorepeat must be ignored, got %+v", out)
	}
	d.feed(evdev.EvKey, evdev.BtnRight, evdev.ValueRelease)
	out = d.feed(evdev.EvSyn, evdev.SynReport, 0)
	if len(out) != 1 || out[0].Kind != input.KindPointerUp || out[0].Button != input.ButtonRight {
		t.Fatalf("unexpected button release %+v", out)
	}
	d.feed(evdev.EvKey, 0x14a, evdev.ValuePress)
	if out := d.feed(evdev.EvSyn, evdev.SynReport, 0); len(out) != 0 {
		t.Fatalf("unmapped buttons must be ignored, got %+v", out)
	}
}

func TestEvdevDecoderMotionPrecedesButtonsInFrame(t *testing.T) {
	var d evdevDecoder
	d.feed(evdev.EvRel, evdev.RelX, 15)
	d.feed(evdev.EvKey, evdev.BtnLeft, evdev.ValuePress)
	d.feed(evdev.EvKey, 30, evdev.ValuePress)
	d.feed(evdev.EvRel, evdev.RelWheel, 1)
	out := d.feed(evdev.EvSyn, evdev.SynReport, 0)
	want := []input.Kind{input.KindPointerMove, input.KindPointerDown, input.KindKeyDown, input.KindScroll}
	if len(out) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), out)
	}
	for i, kind := range want {
		if out[i].Kind != kind {
			t.Fatalf("event %d: expected %s, got %s (%+v)", i, kind, out[i].Kind, out)
		}
	}
	if out[0].X != 15 || out[1].Button != input.ButtonLeft {
		t.Fatalf("unexpected frame %+v", out)
	}
	if again := d.feed(evdev.EvSyn, evdev.SynReport, 0); len(again) != 0 {
		t.Fatalf("flushed frame must not repeat, got %+v", again)
	}
}

func TestEvdevDecoderAbsolute(t *testing.T) {
	var d evdevDecoder
	d.feed(evdev.EvAbs, evdev.AbsX, 100)
	d.feed(evdev.EvAbs, evdev.AbsY, 200)
	out := d.feed(evdev.EvSyn, evdev.SynReport, 0)
	if len(out) != 1 || out[0].Relative || out[0].X != 100 || out[0].Y != 200 {
		t.Fatalf("unexpected absolute move %+v", out)
	}
}
