package imagepkg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math/rand/v2"

	"github.com/disintegration/imaging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/youruser/chainoftrust/internal/log"
)

const (
	DefaultName          = "Anon"
	DefaultOutput        = "custom_card.png"
	DefaultGrainStrength = 0.1
	DefaultGrainSigma    = 80
)

var (
	ErrTemplate = errors.New("card template unavailable")
	ErrPhoto    = errors.New("photo unreadable")
	ErrOutput   = errors.New("card not written")
)

// PhotoBox is the placeholder on the with-photo template the circular photo
// is centered in.
var PhotoBox = image.Rect(674, 262, 887, 476)

// layout pins the text coordinates and sizes of one template. The two
// instances below are bound to the two request variants and never mixed.
type layout struct {
	subjectPos  image.Point
	namePos     image.Point
	subjectSize float64
	nameSize    float64
}

var (
	photoLayout = layout{
		subjectPos:  image.Pt(326, 345),
		namePos:     image.Pt(245, 409),
		subjectSize: 41,
		nameSize:    39,
	}
	anonLayout = layout{
		subjectPos:  image.Pt(435, 415),
		namePos:     image.Pt(320, 495),
		subjectSize: 50,
		nameSize:    50,
	}
)

// RenderRequest is either WithPhoto or Anonymous, passed by value or by
// pointer.
type RenderRequest interface {
	output() string
	isRenderRequest()
}

// WithPhoto renders on the photo template with the photo cropped into a
// grained circle.
type WithPhoto struct {
	PhotoPath     string
	SubjectNumber string
	Name          string
	Output        string
	GrainStrength float64
	GrainSigma    int
}

// Anonymous renders on the photo-less template with larger text.
type Anonymous struct {
	SubjectNumber string
	Name          string
	Output        string
}

func (WithPhoto) isRenderRequest() {}
func (Anonymous) isRenderRequest() {}

func (r WithPhoto) output() string { return orDefault(r.Output, DefaultOutput) }
func (r Anonymous) output() string { return orDefault(r.Output, DefaultOutput) }

// NewWithPhoto builds a WithPhoto request with the default grain settings.
func NewWithPhoto(photoPath, subjectNumber, name, output string) WithPhoto {
	return WithPhoto{
		PhotoPath:     photoPath,
		SubjectNumber: subjectNumber,
		Name:          name,
		Output:        output,
		GrainStrength: DefaultGrainStrength,
		GrainSigma:    DefaultGrainSigma,
	}
}

// NewRequest picks the variant by whether a photo path is given.
func NewRequest(photoPath, subjectNumber, name, output string) RenderRequest {
	if photoPath == "" {
		return Anonymous{SubjectNumber: subjectNumber, Name: name, Output: output}
	}
	return NewWithPhoto(photoPath, subjectNumber, name, output)
}

// Renderer composes identification cards. It holds no per-call state and
// is safe for concurrent use on distinct outputs.
type Renderer struct {
	WithPhotoTemplate string
	AnonTemplate      string
	Fonts             FontSource

	// Seed fixes the grain noise when non-zero.
	Seed uint64
	// MaxPhotoPixels rejects larger photos before decoding. Zero means
	// DefaultMaxPhotoPixels.
	MaxPhotoPixels int
}

// NewRenderer creates a renderer over the two templates.
func NewRenderer(withPhotoTemplate, anonTemplate string, fonts FontSource) *Renderer {
	return &Renderer{
		WithPhotoTemplate: withPhotoTemplate,
		AnonTemplate:      anonTemplate,
		Fonts:             fonts,
	}
}

// Render writes the card for req as a PNG and returns its path.
func (r *Renderer) Render(ctx context.Context, req RenderRequest) (path string, err error) {
	ctx, span := otel.Tracer("github.com/youruser/chainoftrust/internal/image").Start(ctx, "card.render")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch p := req.(type) {
	case *WithPhoto:
		if p == nil {
			return "", errors.New("nil render request")
		}
		req = *p
	case *Anonymous:
		if p == nil {
			return "", errors.New("nil render request")
		}
		req = *p
	}

	var canvas *image.NRGBA
	var lay layout
	var subject, name string

	switch req := req.(type) {
	case WithPhoto:
		span.SetAttributes(attribute.String("card.variant", "photo"))
		canvas, err = r.composePhoto(req)
		lay, subject, name = photoLayout, req.SubjectNumber, req.Name
	case Anonymous:
		span.SetAttributes(attribute.String("card.variant", "anonymous"))
		canvas, err = loadTemplate(r.AnonTemplate)
		lay, subject, name = anonLayout, req.SubjectNumber, req.Name
	default:
		return "", fmt.Errorf("unsupported render request %T", req)
	}
	if err != nil {
		return "", err
	}

	img := r.stampText(canvas, lay, subject, orDefault(name, DefaultName))

	out := req.output()
	if err := savePNG(img, out); err != nil {
		return "", fmt.Errorf("save %s: %w", out, err)
	}
	log.Debug(log.CatCard, "card rendered", "path", out, "subject", subject)
	return out, nil
}

func (r *Renderer) composePhoto(req WithPhoto) (*image.NRGBA, error) {
	tpl, err := loadTemplate(r.WithPhotoTemplate)
	if err != nil {
		return nil, err
	}
	maxPixels := r.MaxPhotoPixels
	if maxPixels == 0 {
		maxPixels = DefaultMaxPhotoPixels
	}
	if err := CheckPhotoFile(req.PhotoPath, maxPixels); err != nil {
		return nil, err
	}
	photo, err := imaging.Open(req.PhotoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPhoto, req.PhotoPath, err)
	}

	diameter, offset := PhotoPlacement(PhotoBox)
	circle := circularPhoto(photo, diameter, req.GrainStrength, req.GrainSigma, r.rng())
	return imaging.Overlay(tpl, circle, offset, 1.0), nil
}

// stampText draws both fields onto canvas in place, keeping its
// non-premultiplied pixels exact wherever no glyph lands.
func (r *Renderer) stampText(canvas *image.NRGBA, lay layout, subject, name string) *image.NRGBA {
	subjectFont := r.resolve(lay.subjectSize)
	defer subjectFont.Face.Close()
	nameFont := r.resolve(lay.nameSize)
	defer nameFont.Face.Close()

	drawText(canvas,
		textField{text: "#" + subject, pos: lay.subjectPos, face: subjectFont.Face, fill: Ink, stroke: Ink},
		textField{text: name, pos: lay.namePos, face: nameFont.Face, fill: Ink, stroke: Outline},
	)
	return canvas
}

func (r *Renderer) resolve(size float64) FontResolution {
	var res FontResolution
	if r.Fonts == nil {
		res = ResolveFont(nil, size)
	} else {
		res = r.Fonts.Resolve(size)
	}
	if res.Fallback {
		log.Warn(log.CatFont, "no scalable font loaded, using bitmap fallback",
			"requested_size", size, "failures", len(res.Failures))
		for _, f := range res.Failures {
			log.Debug(log.CatFont, "font candidate skipped", "path", f.Path, "error", f.Err)
		}
	}
	return res
}

func (r *Renderer) rng() *rand.Rand {
	if r.Seed != 0 {
		return rand.New(rand.NewPCG(r.Seed, r.Seed))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func loadTemplate(path string) (*image.NRGBA, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTemplate, path, err)
	}
	return imaging.Clone(img), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
