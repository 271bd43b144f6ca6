package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	imagepkg "github.com/youruser/chainoftrust/internal/image"
	"github.com/youruser/chainoftrust/internal/log"
	"github.com/youruser/chainoftrust/internal/registration"
	"github.com/youruser/chainoftrust/internal/users"
)

// health reports database reachability and the user count. An unreachable
// database answers 503 so load balancers take the instance out of rotation.
func (s *Server) health(c *gin.Context) {
	body := gin.H{
		"environment": strings.ToUpper(s.cfg.Environment),
		"database":    "SQLite",
	}
	if err := s.store.Ping(c.Request.Context()); err != nil {
		log.ErrorErr(log.CatHTTP, "health check failed", err)
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	n, err := s.store.Count(c.Request.Context())
	if err != nil {
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "healthy"
	body["user_count"] = n
	c.JSON(http.StatusOK, body)
}

func (s *Server) createUser(c *gin.Context) {
	if err := s.parseForm(c); err != nil {
		writeError(c, err)
		return
	}
	in := registration.Input{
		Username: c.PostForm("username"),
		Email:    c.PostForm("email"),
		Name:     c.PostForm("name"),
		PhotoURL: c.PostForm("pfp_url"),
	}
	photo, err := formPhoto(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if photo != nil {
		defer photo.Close()
		in.Photo = photo
	}

	res, err := s.svc.Register(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"user_id":    res.UserID,
		"subject_no": res.SubjectNo,
		"card_path":  res.CardPath,
		"unique_key": res.UniqueKey,
	})
}

func (s *Server) sendEmail(c *gin.Context) {
	id, err := strconv.ParseInt(c.PostForm("user_id"), 10, 64)
	if err != nil {
		writeError(c, fmt.Errorf("%w: user_id must be an integer", registration.ErrInvalidInput))
		return
	}
	key := c.PostForm("unique_key")
	if key == "" {
		writeError(c, fmt.Errorf("%w: unique_key is required", registration.ErrInvalidInput))
		return
	}

	msgID, err := s.svc.SendCard(c.Request.Context(), id, key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Email sent successfully",
		"message_id": msgID,
	})
}

func (s *Server) badge(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, fmt.Errorf("%w: id must be an integer", registration.ErrInvalidInput))
		return
	}
	size := imagepkg.DefaultBadgeSize
	if v := c.Query("size"); v != "" {
		if size, err = strconv.Atoi(v); err != nil {
			writeError(c, fmt.Errorf("%w: size must be an integer", registration.ErrInvalidInput))
			return
		}
	}

	b, err := s.svc.Badge(c.Request.Context(), id, size)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", b)
}

// renderPreview renders a card without registering anyone.
func (s *Server) renderPreview(c *gin.Context) {
	if err := s.parseForm(c); err != nil {
		writeError(c, err)
		return
	}
	subject := c.DefaultPostForm("subject_number", "000")
	photo, err := formPhoto(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var src io.Reader
	if photo != nil {
		defer photo.Close()
		src = photo
	}

	var buf bytes.Buffer
	if err := s.svc.Preview(c.Request.Context(), subject, c.PostForm("name"), src, &buf); err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// spaFallback serves the single page app for unknown GET routes. Missing
// static files and cards stay 404.
func (s *Server) spaFallback(c *gin.Context) {
	p := c.Request.URL.Path
	if (c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead) ||
		strings.HasPrefix(p, "/static/") || strings.HasPrefix(p, "/cards/") || strings.HasPrefix(p, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	index := filepath.Join(s.cfg.Storage.StaticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	c.File(index)
}

// parseForm caps the body at the configured upload size. Non-multipart
// bodies are accepted as plain forms.
func (s *Server) parseForm(c *gin.Context) error {
	if limit := s.cfg.Server.MaxUploadBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	if _, err := c.MultipartForm(); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return err
	}
	return nil
}

// formPhoto opens the uploaded pfp_file, or returns nil when none was sent.
func formPhoto(c *gin.Context) (multipart.File, error) {
	fh, err := c.FormFile("pfp_file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}
	if fh.Size == 0 {
		return nil, nil
	}
	return fh.Open()
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal server error"
	}
	c.JSON(status, gin.H{"error": msg})
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, registration.ErrInvalidInput), errors.Is(err, imagepkg.ErrPhoto):
		return http.StatusBadRequest
	case errors.Is(err, registration.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, users.ErrNotFound), errors.Is(err, registration.ErrCardMissing):
		return http.StatusNotFound
	case errors.Is(err, users.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
