package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	cardWidth  = 480
	cardHeight = 140
	barX       = 20
	barY       = 96
	barWidth   = 440
	barHeight  = 20
)

var (
	background = color.RGBA{R: 0x23, G: 0x27, B: 0x2A, A: 0xFF}
	barTrack   = color.RGBA{R: 0x48, G: 0x4B, B: 0x51, A: 0xFF}
	barFill    = color.RGBA{R: 0x58, G: 0x65, B: 0xF2, A: 0xFF}
	textColor  = color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	mutedText  = color.RGBA{R: 0xB9, G: 0xBB, B: 0xBE, A: 0xFF}
)

type Card struct {
	Username string
	Level    int
	Rank     int
	XP       int
	Needed   int
}

// RankCard draws a level card and returns it PNG-encoded.
func RankCard(card Card) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, cardWidth, cardHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	drawText(img, 20, 32, card.Username, textColor)
	drawText(img, 20, 56, fmt.Sprintf("Level %d", card.Level), textColor)
	if card.Rank > 0 {
		drawText(img, 360, 32, fmt.Sprintf("Rank #%d", card.Rank), mutedText)
	}
	drawText(img, 20, 84, fmt.Sprintf("%d / %d XP", card.XP, card.Needed), mutedText)

	track := image.Rect(barX, barY, barX+barWidth, barY+barHeight)
	draw.Draw(img, track, &image.Uniform{C: barTrack}, image.Point{}, draw.Src)
	if filled := progressWidth(card.XP, card.Needed); filled > 0 {
		draw.Draw(img, image.Rect(barX, barY, barX+filled, barY+barHeight), &image.Uniform{C: barFill}, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode rank card: %w", err)
	}
	return buf.Bytes(), nil
}

func progressWidth(xp, needed int) int {
	if needed <= 0 || xp <= 0 {
		return 0
	}
	if xp >= needed {
		return barWidth
	}
	return barWidth * xp / needed
}

func drawText(img draw.Image, x, y int, text string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
