// Package registration runs the sign-up workflow: record the subject, render
// the identification card, issue an access key, and mail the card.
package registration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	netmail "net/mail"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	imagepkg "github.com/youruser/chainoftrust/internal/image"
	"github.com/youruser/chainoftrust/internal/log"
	"github.com/youruser/chainoftrust/internal/mail"
	"github.com/youruser/chainoftrust/internal/users"
	"github.com/youruser/chainoftrust/internal/util"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("access key does not match")
	ErrCardMissing  = errors.New("card not found")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// CardRenderer renders a card and returns where it was written.
type CardRenderer interface {
	Render(ctx context.Context, req imagepkg.RenderRequest) (string, error)
}

// Input is one registration as submitted.
type Input struct {
	Username string
	Email    string
	Name     string
	// Photo is an uploaded photo; PhotoURL a remote one. Both are optional
	// and Photo wins when both are set.
	Photo    io.Reader
	PhotoURL string
}

// Result is returned to the registrant exactly once; only the key hash is
// stored.
type Result struct {
	UserID    int64  `json:"user_id"`
	SubjectNo string `json:"subject_no"`
	CardPath  string `json:"card_path"`
	UniqueKey string `json:"unique_key"`
}

type Options struct {
	CardsDir          string
	TmpDir            string
	AllowRemotePhotos bool
	MaxPhotoBytes     int64
	// MaxPhotoPixels bounds the decoded size of a staged photo.
	MaxPhotoPixels int
}

type Service struct {
	store  *users.Store
	cards  CardRenderer
	mailer mail.Provider
	opts   Options
	tracer trace.Tracer
	now    func() time.Time
}

func New(store *users.Store, cards CardRenderer, mailer mail.Provider, opts Options) *Service {
	if opts.MaxPhotoBytes <= 0 {
		opts.MaxPhotoBytes = 8 << 20
	}
	if opts.MaxPhotoPixels <= 0 {
		opts.MaxPhotoPixels = imagepkg.DefaultMaxPhotoPixels
	}
	return &Service{
		store:  store,
		cards:  cards,
		mailer: mailer,
		opts:   opts,
		tracer: otel.Tracer("github.com/youruser/chainoftrust/internal/registration"),
		now:    time.Now,
	}
}

// Register records the subject, renders the card and issues a key, all or
// nothing: on failure the row is rolled back and the card removed.
func (s *Service) Register(ctx context.Context, in Input) (res Result, err error) {
	ctx, span := s.tracer.Start(ctx, "registration.register")
	defer endSpan(span, &err)

	if err := normalize(&in); err != nil {
		return Result{}, err
	}
	if err := util.EnsureDir(s.opts.CardsDir); err != nil {
		return Result{}, fmt.Errorf("cards directory: %w", err)
	}

	photoPath, cleanup, err := s.stagePhoto(ctx, in)
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback() }()

	u, err := tx.Insert(ctx, users.NewUser{Username: in.Username, Name: in.Name, Email: in.Email})
	if err != nil {
		return Result{}, err
	}
	span.SetAttributes(attribute.Int64("user.id", u.ID))
	log.Info(log.CatReg, "user created", "id", u.ID)

	subjectNo := fmt.Sprintf("%03d", u.ID)
	cardPath := filepath.Join(s.opts.CardsDir, fmt.Sprintf("%s_%d.png", u.Username, u.ID))

	if _, err := s.cards.Render(ctx, imagepkg.NewRequest(photoPath, subjectNo, u.Name, cardPath)); err != nil {
		return Result{}, fmt.Errorf("render card: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(cardPath)
		}
	}()

	key, err := users.GenerateKey()
	if err != nil {
		return Result{}, err
	}
	if err := tx.Finalize(ctx, u.ID, subjectNo, cardPath, users.HashKey(key)); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}
	committed = true
	log.Info(log.CatReg, "registration committed", "id", u.ID, "subject", subjectNo)

	return Result{UserID: u.ID, SubjectNo: subjectNo, CardPath: cardPath, UniqueKey: key}, nil
}

// SendCard mails the card and key to a registered subject. The key must be
// the one issued by Register.
func (s *Service) SendCard(ctx context.Context, userID int64, rawKey string) (id string, err error) {
	ctx, span := s.tracer.Start(ctx, "registration.send_card",
		trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer endSpan(span, &err)

	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.CardPath == "" {
		return "", ErrCardMissing
	}
	if _, err := os.Stat(u.CardPath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCardMissing, err)
	}
	if !users.VerifyKey(rawKey, u.KeyHash) {
		return "", ErrForbidden
	}

	msg, err := mail.Welcome(u.Email, u.SubjectNo, u.Username, rawKey, u.CardPath)
	if err != nil {
		return "", err
	}
	id, err = s.mailer.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("send card mail: %w", err)
	}
	if err := s.store.MarkEmailed(ctx, u.ID, s.now()); err != nil {
		log.ErrorErr(log.CatReg, "failed to record mail", err, "id", u.ID)
	}
	log.Info(log.CatReg, "card mailed", "id", u.ID, "provider", s.mailer.Name(), "message_id", id)
	return id, nil
}

// Badge returns the QR access badge of a registered subject.
func (s *Service) Badge(ctx context.Context, userID int64, size int) ([]byte, error) {
	u, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.SubjectNo == "" {
		return nil, ErrCardMissing
	}
	return imagepkg.AccessBadgePNG(u.SubjectNo, size)
}

// Preview renders a throwaway card to w without recording anything.
func (s *Service) Preview(ctx context.Context, subjectNo, name string, photo io.Reader, w io.Writer) (err error) {
	ctx, span := s.tracer.Start(ctx, "registration.preview")
	defer endSpan(span, &err)

	dir, err := os.MkdirTemp(s.opts.TmpDir, "preview-")
	if err != nil {
		return fmt.Errorf("preview directory: %w", err)
	}
	defer os.RemoveAll(dir)

	photoPath, cleanup, err := s.stagePhoto(ctx, Input{Photo: photo})
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := s.cards.Render(ctx, imagepkg.NewRequest(photoPath, subjectNo, name, filepath.Join(dir, "preview.png")))
	if err != nil {
		return fmt.Errorf("render preview: %w", err)
	}
	f, err := os.Open(out)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

// stagePhoto puts the submitted photo on disk for the renderer. The returned
// path is empty when no photo was submitted.
func (s *Service) stagePhoto(ctx context.Context, in Input) (string, func(), error) {
	noop := func() {}
	var src io.Reader
	switch {
	case in.Photo != nil:
		src = in.Photo
	case in.PhotoURL != "":
		if !s.opts.AllowRemotePhotos {
			return "", noop, fmt.Errorf("%w: remote photos are disabled", ErrInvalidInput)
		}
		body, err := imagepkg.DownloadPhoto(ctx, in.PhotoURL, s.opts.MaxPhotoBytes, s.opts.MaxPhotoPixels)
		if err != nil {
			return "", noop, err
		}
		src = bytes.NewReader(body)
	default:
		return "", noop, nil
	}

	f, err := os.CreateTemp(s.opts.TmpDir, "pfp-*")
	if err != nil {
		return "", noop, fmt.Errorf("stage photo: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	n, err := io.Copy(f, io.LimitReader(src, s.opts.MaxPhotoBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("stage photo: %w", err)
	}
	if n > s.opts.MaxPhotoBytes {
		cleanup()
		return "", noop, fmt.Errorf("%w: photo larger than %d bytes", ErrInvalidInput, s.opts.MaxPhotoBytes)
	}
	if n == 0 {
		// an empty upload field counts as no photo
		cleanup()
		return "", noop, nil
	}
	if err := imagepkg.CheckPhotoFile(f.Name(), s.opts.MaxPhotoPixels); err != nil {
		cleanup()
		return "", noop, err
	}
	return f.Name(), cleanup, nil
}

func normalize(in *Input) error {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Name = strings.TrimSpace(in.Name)

	if in.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if !usernamePattern.MatchString(in.Username) {
		return fmt.Errorf("%w: username may only contain letters, digits, '.', '_' and '-'", ErrInvalidInput)
	}
	addr, err := netmail.ParseAddress(in.Email)
	if err != nil {
		return fmt.Errorf("%w: email: %v", ErrInvalidInput, err)
	}
	in.Email = addr.Address
	if in.Name == "" {
		in.Name = imagepkg.DefaultName
	}
	return nil
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}
