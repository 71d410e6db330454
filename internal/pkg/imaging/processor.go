package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"time"

	"github.com/disintegration/imaging"
)

// Variants holds a generated image and its preview
type Variants struct {
	Original    []byte
	Thumbnail   []byte
	Width       int
	Height      int
	ThumbWidth  int
	ThumbHeight int
}

// Config for thumbnail generation
type Config struct {
	ThumbWidth  int // default 256
	ThumbHeight int // default 256
	Quality     int // JPEG quality 1-100, default 85
}

func DefaultConfig() Config {
	return Config{
		ThumbWidth:  256,
		ThumbHeight: 256,
		Quality:     85,
	}
}

type Processor struct {
	config Config
}

func NewProcessor(config Config) *Processor {
	d := DefaultConfig()
	if config.ThumbWidth <= 0 {
		config.ThumbWidth = d.ThumbWidth
	}
	if config.ThumbHeight <= 0 {
		config.ThumbHeight = d.ThumbHeight
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = d.Quality
	}
	return &Processor{config: config}
}

// Process keeps the original bytes and renders a center-cropped JPEG thumbnail.
func (p *Processor) Process(data []byte) (*Variants, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	thumb := imaging.Fill(img, p.config.ThumbWidth, p.config.ThumbHeight, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: p.config.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return &Variants{
		Original:    data,
		Thumbnail:   buf.Bytes(),
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		ThumbWidth:  thumb.Bounds().Dx(),
		ThumbHeight: thumb.Bounds().Dy(),
	}, nil
}

// GeneratedPaths returns storage keys for a generated image and its thumbnail
func GeneratedPaths(accountID, name string) (original, thumb string) {
	original = fmt.Sprintf("generated/%s/%s.png", accountID, name)
	thumb = fmt.Sprintf("generated/%s/%s_thumb.jpg", accountID, name)
	return
}

// AvatarPath returns the storage key of a profile image uploaded at t
func AvatarPath(accountID string, t time.Time) string {
	return fmt.Sprintf("avatars/%s/%d.jpg", accountID, t.UnixMilli())
}
