package imagepkg

import (
	"fmt"
	"os"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"

	"github.com/youruser/chainoftrust/internal/log"
)

// FontDPI makes one point equal one pixel, so requested sizes are pixel sizes.
const FontDPI = 72

// CandidateError records why a font candidate was skipped.
type CandidateError struct {
	Path string
	Err  error
}

func (e CandidateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e CandidateError) Unwrap() error { return e.Err }

// FontResolution is the outcome of resolving a face at a requested size.
// When Fallback is set, Face is the fixed-size bitmap face and Size is not
// honored; Failures then holds one entry per candidate.
type FontResolution struct {
	Face     font.Face
	Path     string
	Size     float64
	Fallback bool
	Failures []CandidateError
}

// FontSource hands out a fresh face per call. Faces are not safe for
// concurrent use, so callers own and close what they get.
type FontSource interface {
	Resolve(size float64) FontResolution
}

// Candidates resolves directly from disk on every call.
type Candidates []string

func (c Candidates) Resolve(size float64) FontResolution {
	return ResolveFont(c, size)
}

// ResolveFont returns a face for the first candidate that exists and parses,
// or the 7x13 bitmap face when none does. It never fails.
func ResolveFont(candidates []string, size float64) FontResolution {
	return resolveWith(loadFontFile, candidates, size)
}

func resolveWith(load func(string) (*opentype.Font, error), candidates []string, size float64) FontResolution {
	res := FontResolution{Size: size}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			res.Failures = append(res.Failures, CandidateError{Path: path, Err: err})
			continue
		}
		f, err := load(path)
		if err != nil {
			res.Failures = append(res.Failures, CandidateError{Path: path, Err: err})
			continue
		}
		face, err := opentype.NewFace(f, &opentype.FaceOptions{
			Size:    size,
			DPI:     FontDPI,
			Hinting: font.HintingFull,
		})
		if err != nil {
			res.Failures = append(res.Failures, CandidateError{Path: path, Err: fmt.Errorf("create face at %.1fpx: %w", size, err)})
			continue
		}
		res.Face = face
		res.Path = path
		return res
	}

	res.Face = basicfont.Face7x13
	res.Fallback = true
	return res
}

// loadFontFile parses a TTF/OTF or the first face of a TTC/OTC collection.
func loadFontFile(path string) (*opentype.Font, error) {
	data, err := os.ReadFile(path) //nolint:gosec // candidate paths come from config
	if err != nil {
		return nil, fmt.Errorf("read font: %w", err)
	}
	coll, err := opentype.ParseCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	f, err := coll.Font(0)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return f, nil
}

const (
	defaultFontExpiration = 30 * time.Minute
	defaultFontCleanup    = time.Hour
)

// FontCache keeps parsed font files in memory and builds faces from them.
// Flush drops everything; the font directory watcher calls it on changes.
type FontCache struct {
	candidates []string
	fonts      *gocache.Cache
}

// NewFontCache creates a cache over the given candidate list.
func NewFontCache(candidates []string) *FontCache {
	return &FontCache{
		candidates: append([]string(nil), candidates...),
		fonts:      gocache.New(defaultFontExpiration, defaultFontCleanup),
	}
}

func (c *FontCache) Resolve(size float64) FontResolution {
	return resolveWith(c.load, c.candidates, size)
}

func (c *FontCache) load(path string) (*opentype.Font, error) {
	if v, ok := c.fonts.Get(path); ok {
		if f, ok := v.(*opentype.Font); ok {
			log.Debug(log.CatFont, "font cache hit", "path", path)
			return f, nil
		}
	}
	f, err := loadFontFile(path)
	if err != nil {
		return nil, err
	}
	c.fonts.SetDefault(path, f)
	return f, nil
}

// Len reports how many parsed fonts are cached.
func (c *FontCache) Len() int {
	return c.fonts.ItemCount()
}

// Flush empties the cache.
func (c *FontCache) Flush() {
	c.fonts.Flush()
	log.Info(log.CatFont, "font cache flushed")
}
