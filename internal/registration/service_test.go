package registration

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	imagepkg "github.com/youruser/chainoftrust/internal/image"
	"github.com/youruser/chainoftrust/internal/mail"
	"github.com/youruser/chainoftrust/internal/users"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []*mail.Message
	err  error
}

func (f *fakeMailer) Name() string { return "fake" }

func (f *fakeMailer) Send(_ context.Context, msg *mail.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "msg-1", nil
}

type harness struct {
	svc      *Service
	store    *users.Store
	mailer   *fakeMailer
	renderer *imagepkg.Renderer
	cardsDir string
	tmpDir   string
	dir      string
}

func newHarness(t *testing.T) harness {
	t.Helper()
	dir := t.TempDir()
	gray := color.NRGBA{R: 40, G: 40, B: 60, A: 255}
	withPhoto := filepath.Join(dir, "with_photo.png")
	anon := filepath.Join(dir, "anon.png")
	require.NoError(t, imaging.Save(imaging.New(1000, 600, gray), withPhoto))
	require.NoError(t, imaging.Save(imaging.New(900, 640, gray), anon))

	store, err := users.Open(filepath.Join(dir, "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tmpDir := filepath.Join(dir, "tmp")
	require.NoError(t, os.Mkdir(tmpDir, 0o700))

	h := harness{
		store:    store,
		mailer:   &fakeMailer{},
		renderer: imagepkg.NewRenderer(withPhoto, anon, imagepkg.Candidates(nil)),
		cardsDir: filepath.Join(dir, "cards"),
		tmpDir:   tmpDir,
		dir:      dir,
	}
	h.svc = New(store, h.renderer, h.mailer, Options{
		CardsDir:      h.cardsDir,
		TmpDir:        tmpDir,
		MaxPhotoBytes: 1 << 20,
	})
	return h
}

func photoPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(120, 90, color.NRGBA{R: 200, A: 255}), imaging.PNG))
	return buf.Bytes()
}

// headerOnlyPNG declares a w x h image without carrying its pixels.
func headerOnlyPNG(w, h uint32) []byte {
	var ihdr bytes.Buffer
	ihdr.WriteString("IHDR")
	_ = binary.Write(&ihdr, binary.BigEndian, w)
	_ = binary.Write(&ihdr, binary.BigEndian, h)
	ihdr.Write([]byte{8, 6, 0, 0, 0})

	var b bytes.Buffer
	b.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&b, binary.BigEndian, uint32(13))
	b.Write(ihdr.Bytes())
	_ = binary.Write(&b, binary.BigEndian, crc32.ChecksumIEEE(ihdr.Bytes()))
	return b.Bytes()
}

func countUsers(t *testing.T, s *users.Store) int {
	t.Helper()
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestRegister_Anonymous(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Register(context.Background(), Input{Username: "ada", Email: "Ada <ada@example.com>"})
	require.NoError(t, err)

	require.Equal(t, "001", res.SubjectNo)
	require.Equal(t, filepath.Join(h.cardsDir, "ada_1.png"), res.CardPath)
	require.FileExists(t, res.CardPath)
	require.Len(t, res.UniqueKey, 22)

	u, err := h.store.Get(context.Background(), res.UserID)
	require.NoError(t, err)
	require.Equal(t, "Anon", u.Name)
	require.Equal(t, "ada@example.com", u.Email)
	require.Equal(t, "001", u.SubjectNo)
	require.True(t, users.VerifyKey(res.UniqueKey, u.KeyHash))
	require.NotEqual(t, res.UniqueKey, u.KeyHash, "only the hash is stored")
}

func TestRegister_WithPhotoCleansStagedFile(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Register(context.Background(), Input{
		Username: "grace",
		Email:    "grace@example.com",
		Name:     "Grace",
		Photo:    bytes.NewReader(photoPNG(t)),
	})
	require.NoError(t, err)
	require.FileExists(t, res.CardPath)

	card, err := imaging.Open(res.CardPath)
	require.NoError(t, err)
	require.Equal(t, 1000, card.Bounds().Dx(), "photo template was used")

	entries, err := os.ReadDir(h.tmpDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRegister_EmptyUploadCountsAsNoPhoto(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Register(context.Background(), Input{Username: "ada", Email: "ada@example.com", Photo: strings.NewReader("")})
	require.NoError(t, err)

	card, err := imaging.Open(res.CardPath)
	require.NoError(t, err)
	require.Equal(t, 900, card.Bounds().Dx(), "anonymous template was used")
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)

	for _, in := range []Input{
		{Username: "", Email: "a@example.com"},
		{Username: "../etc", Email: "a@example.com"},
		{Username: "ok", Email: "not-an-email"},
	} {
		_, err := h.svc.Register(context.Background(), in)
		require.ErrorIs(t, err, ErrInvalidInput, "input %+v", in)
	}
	require.Zero(t, countUsers(t, h.store))
}

func TestRegister_DuplicateLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Register(context.Background(), Input{Username: "ada", Email: "ada@example.com"})
	require.NoError(t, err)

	_, err = h.svc.Register(context.Background(), Input{Username: "ada", Email: "other@example.com"})
	require.ErrorIs(t, err, users.ErrConflict)

	require.Equal(t, 1, countUsers(t, h.store))
	entries, err := os.ReadDir(h.cardsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRegister_RenderFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.renderer.AnonTemplate = filepath.Join(h.dir, "missing.png")

	_, err := h.svc.Register(context.Background(), Input{Username: "ada", Email: "ada@example.com"})
	require.ErrorIs(t, err, imagepkg.ErrTemplate)
	require.Zero(t, countUsers(t, h.store))
}

func TestRegister_UndecodablePhoto(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Register(context.Background(), Input{Username: "ada", Email: "ada@example.com", Photo: strings.NewReader("nope")})
	require.ErrorIs(t, err, imagepkg.ErrPhoto)
	require.Zero(t, countUsers(t, h.store))
}

func TestRegister_PhotoTooLarge(t *testing.T) {
	h := newHarness(t)
	h.svc.opts.MaxPhotoBytes = 16

	_, err := h.svc.Register(context.Background(), Input{Username: "ada", Email: "ada@example.com", Photo: bytes.NewReader(photoPNG(t))})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegister_PhotoDimensionsOverCap(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Register(context.Background(), Input{Username: "ada", Email: "ada@example.com", Photo: bytes.NewReader(headerOnlyPNG(70_000, 70_000))})
	require.ErrorIs(t, err, imagepkg.ErrPhoto)
	require.Contains(t, err.Error(), "exceeds")
	require.Zero(t, countUsers(t, h.store))

	entries, err := os.ReadDir(h.tmpDir)
	require.NoError(t, err)
	require.Empty(t, entries, "staged photo removed")

	h.svc.opts.MaxPhotoPixels = 100
	_, err = h.svc.Register(context.Background(), Input{Username: "ada", Email: "ada@example.com", Photo: bytes.NewReader(photoPNG(t))})
	require.ErrorIs(t, err, imagepkg.ErrPhoto, "120x90 photo is over a 100 pixel cap")
}

func TestRegister_RemotePhotoDisabled(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Register(context.Background(), Input{Username: "ada", Email: "ada@example.com", PhotoURL: "http://example.com/me.png"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSendCard(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Register(context.Background(), Input{Username: "ada", Email: "ada@example.com"})
	require.NoError(t, err)

	id, err := h.svc.SendCard(context.Background(), res.UserID, res.UniqueKey)
	require.NoError(t, err)
	require.Equal(t, "msg-1", id)

	require.Len(t, h.mailer.sent, 1)
	msg := h.mailer.sent[0]
	require.Equal(t, "ada@example.com", msg.To)
	require.Contains(t, msg.Subject, "#001")
	require.Contains(t, msg.HTML, res.UniqueKey)
	require.Equal(t, res.CardPath, msg.Attachments[0].Path)

	u, err := h.store.Get(context.Background(), res.UserID)
	require.NoError(t, err)
	require.NotNil(t, u.EmailedAt)
}

func TestSendCard_Failures(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Register(context.Background(), Input{Username: "ada", Email: "ada@example.com"})
	require.NoError(t, err)

	_, err = h.svc.SendCard(context.Background(), res.UserID, "wrong-key")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = h.svc.SendCard(context.Background(), 999, res.UniqueKey)
	require.ErrorIs(t, err, users.ErrNotFound)

	h.mailer.err = errors.New("relay down")
	_, err = h.svc.SendCard(context.Background(), res.UserID, res.UniqueKey)
	require.ErrorContains(t, err, "relay down")

	require.NoError(t, os.Remove(res.CardPath))
	_, err = h.svc.SendCard(context.Background(), res.UserID, res.UniqueKey)
	require.ErrorIs(t, err, ErrCardMissing)
	require.Empty(t, h.mailer.sent)
}

func TestBadge(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.Register(context.Background(), Input{Username: "ada", Email: "ada@example.com"})
	require.NoError(t, err)

	b, err := h.svc.Badge(context.Background(), res.UserID, 128)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	require.Equal(t, 128, img.Bounds().Dx())

	_, err = h.svc.Badge(context.Background(), 404, 128)
	require.ErrorIs(t, err, users.ErrNotFound)
}

func TestPreview(t *testing.T) {
	h := newHarness(t)
	var out bytes.Buffer

	require.NoError(t, h.svc.Preview(context.Background(), "000", "Preview", bytes.NewReader(photoPNG(t)), &out))

	img, err := png.Decode(&out)
	require.NoError(t, err)
	require.Equal(t, 1000, img.Bounds().Dx())
	require.Zero(t, countUsers(t, h.store))

	entries, err := os.ReadDir(h.tmpDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
