// Package avatar renders placeholder profile pictures: a square of random
// colour with the account's initial in white.
package avatar

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/rand"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Iemontine/microblog/apperr"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const DefaultSize = 100

// Generator writes avatars into Dir and reports them under URLPrefix.
type Generator struct {
	dir       string
	urlPrefix string
	size      int

	// mu guards rnd and face, neither of which is safe for concurrent use.
	mu   sync.Mutex
	rnd  *rand.Rand
	face font.Face
}

// NewGenerator returns a generator for size×size avatars.
func NewGenerator(dir, urlPrefix string, size int) (*Generator, error) {
	if size <= 0 {
		size = DefaultSize
	}

	f, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse avatar font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(size) * 0.7,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create avatar font face: %w", err)
	}

	return &Generator{
		dir:       dir,
		urlPrefix: urlPrefix,
		size:      size,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		face:      face,
	}, nil
}

// WithRand replaces the colour source.
func (g *Generator) WithRand(rnd *rand.Rand) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rnd = rnd
	return g
}

// FileName is the file an avatar for username is stored under.
func FileName(username string) string {
	return username + ".png"
}

// Initial is the glyph drawn for username.
func Initial(username string) string {
	r, _ := utf8.DecodeRuneInString(username)
	if r == utf8.RuneError {
		return "?"
	}
	return string(unicode.ToUpper(r))
}

// Render draws the avatar for username and returns it with its background.
// Each call picks a new background colour.
func (g *Generator) Render(username string) (*image.RGBA, color.RGBA) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.rnd.Intn(0x1000000)
	bg := color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, g.size, g.size))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Src: image.White, Face: g.face}
	glyph := Initial(username)
	bounds, advance := d.BoundString(glyph)
	side := fixed.I(g.size)
	height := bounds.Max.Y - bounds.Min.Y
	d.Dot = fixed.Point26_6{
		X: (side - advance) / 2,
		Y: (side-height)/2 - bounds.Min.Y,
	}
	d.DrawString(glyph)

	return img, bg
}

// Generate renders and writes the avatar for username, returning its public path.
func (g *Generator) Generate(username string) (string, error) {
	img, _ := g.Render(username)

	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return "", apperr.Wrap(apperr.StorageIO, err, "create avatar directory")
	}

	name := FileName(username)
	dst := filepath.Join(g.dir, name)
	out, err := os.Create(dst)
	if err != nil {
		return "", apperr.Wrap(apperr.StorageIO, err, "create avatar file")
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		os.Remove(dst)
		return "", apperr.Wrap(apperr.StorageIO, err, "encode avatar")
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", apperr.Wrap(apperr.StorageIO, err, "write avatar")
	}

	return path.Join(g.urlPrefix, name), nil
}

// Relocate moves the avatar at oldPublicPath to the file for newUsername.
// A missing source is generated afresh.
func (g *Generator) Relocate(oldPublicPath, newUsername string) (string, error) {
	src := g.storagePath(oldPublicPath)
	name := FileName(newUsername)
	dst := filepath.Join(g.dir, name)

	if _, err := os.Stat(src); os.IsNotExist(err) {
		return g.Generate(newUsername)
	}
	if err := os.Rename(src, dst); err != nil {
		return "", apperr.Wrap(apperr.StorageIO, err, "move avatar")
	}
	return path.Join(g.urlPrefix, name), nil
}

// Remove deletes the avatar at publicPath. A missing file is not an error.
func (g *Generator) Remove(publicPath string) error {
	err := os.Remove(g.storagePath(publicPath))
	if err != nil && !os.IsNotExist(err) {
		return apperr.Wrap(apperr.StorageIO, err, "remove avatar")
	}
	return nil
}

// storagePath maps a public path back into dir. Only the base name is kept
// so a crafted path cannot escape the directory.
func (g *Generator) storagePath(publicPath string) string {
	return filepath.Join(g.dir, path.Base(publicPath))
}
