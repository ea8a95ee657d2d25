package captcha

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mojocn/base64Captcha"

	"github.com/MrEthical07/tokengate/internal"
)

// Renderer turns a code into something a human can read but a script cannot
// trivially lift, typically an image data URI.
type Renderer interface {
	Render(code string) (string, error)
}

// ImageRenderer draws digit codes as distorted PNG images.
type ImageRenderer struct {
	Width    int
	Height   int
	MaxSkew  float64
	DotCount int
}

// DefaultImageRenderer returns the 120x40 renderer used by the demo server.
func DefaultImageRenderer() ImageRenderer {
	return ImageRenderer{Width: 120, Height: 40, MaxSkew: 0.7, DotCount: 80}
}

// Render returns a "data:image/png;base64,..." string. code must contain digits only.
func (r ImageRenderer) Render(code string) (string, error) {
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return "", errors.New("image renderer supports digit codes only")
		}
	}

	driver := base64Captcha.NewDriverDigit(r.Height, r.Width, len(code), r.MaxSkew, r.DotCount)
	item, err := driver.DrawCaptcha(code)
	if err != nil {
		return "", err
	}
	img := item.EncodeB64string()
	if !strings.HasPrefix(img, "data:image") {
		img = "data:image/png;base64," + img
	}
	return img, nil
}

// IssuerConfig tunes challenge generation.
type IssuerConfig struct {
	TTL      time.Duration
	Length   int
	Alphabet string
}

// Issued is a stored challenge. Value is only meant for out-of-band delivery
// channels (SMS, mail) and must not be echoed back to the requester.
type Issued struct {
	ID        string
	Value     string
	Image     string
	ExpiresAt time.Time
}

// Issuer creates codes and saves them in a [Store].
type Issuer struct {
	store    Store
	renderer Renderer
	cfg      IssuerConfig
	now      func() time.Time
}

// NewIssuer creates an [Issuer]. renderer may be nil, in which case Issued.Image
// stays empty. An image renderer needs cfg.Alphabet to be [internal.DigitAlphabet].
func NewIssuer(store Store, renderer Renderer, cfg IssuerConfig) *Issuer {
	if cfg.Alphabet == "" {
		cfg.Alphabet = internal.DigitAlphabet
	}
	if cfg.Length == 0 {
		cfg.Length = 4
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	return &Issuer{
		store:    store,
		renderer: renderer,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock replaces the time source used to stamp ExpiresAt.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	if now != nil {
		i.now = now
	}
	return i
}

// Issue generates, renders and stores a new code.
func (i *Issuer) Issue(ctx context.Context) (Issued, error) {
	value, err := internal.NewCode(i.cfg.Alphabet, i.cfg.Length)
	if err != nil {
		return Issued{}, err
	}

	issued := Issued{
		ID:        uuid.NewString(),
		Value:     value,
		ExpiresAt: i.now().Add(i.cfg.TTL),
	}

	if i.renderer != nil {
		image, err := i.renderer.Render(value)
		if err != nil {
			return Issued{}, fmt.Errorf("render captcha: %w", err)
		}
		issued.Image = image
	}

	if err := i.store.Save(ctx, Code{ID: issued.ID, Value: value, ExpiresAt: issued.ExpiresAt}); err != nil {
		return Issued{}, err
	}
	return issued, nil
}
