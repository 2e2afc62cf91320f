package render

import (
	"bytes"
	"image/png"
	"testing"
)

func TestRankCardEncodesPNG(t *testing.T) {
	data, err := RankCard(Card{Username: "noctis", Level: 4, Rank: 2, XP: 120, Needed: 280})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != cardWidth || b.Dy() != cardHeight {
		t.Fatalf("unexpected size %v", b)
	}
	// progress fill starts at the left edge of the bar
	r, g, b, _ := img.At(barX+1, barY+1).RGBA()
	if uint8(r>>8) != barFill.R || uint8(g>>8) != barFill.G || uint8(b>>8) != barFill.B {
		t.Fatalf("expected filled bar pixel")
	}
}

func TestProgressWidth(t *testing.T) {
	if progressWidth(0, 100) != 0 || progressWidth(50, 100) != barWidth/2 || progressWidth(500, 100) != barWidth {
		t.Fatalf("unexpected progress widths")
	}
}
