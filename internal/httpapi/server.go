// Package httpapi exposes an optional read-only/admin HTTP surface over a
// running coordinator, mounted by cmd/djlink-finder when configured.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arung-agamani/djlink/internal/cdjerr"
	"github.com/arung-agamani/djlink/internal/coordinator"
	"github.com/arung-agamani/djlink/internal/mirror"
	"github.com/arung-agamani/djlink/internal/proto"
)

// Server is the gin-based HTTP front end for a Coordinator.
type Server struct {
	coordinator *coordinator.Coordinator
	auth        *Auth
	mirror      *mirror.Mirror
	engine      *gin.Engine
	httpServer  *http.Server
}

// NewServer builds the router. addr is the listen address (e.g. ":8080").
// m may be nil, meaning archive builds are never mirrored to blob storage.
func NewServer(c *coordinator.Coordinator, auth *Auth, m *mirror.Mirror, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(SecurityHeadersMiddleware())

	s := &Server{coordinator: c, auth: auth, mirror: m, engine: engine}

	engine.GET("/health", s.health)
	engine.POST("/api/auth/login", s.login)

	engine.GET("/api/decks", s.getDecks)
	engine.GET("/api/slots", s.getSlots)
	engine.GET("/api/metadata/:device", s.getMetadata)

	admin := engine.Group("/api/archives")
	admin.Use(AuthRequired(auth))
	admin.POST("", s.attachArchive)
	admin.DELETE("/:device/:slot", s.detachArchive)
	admin.POST("/build", s.buildArchive)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http api starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) login(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid request body"})
		return
	}

	token, err := s.auth.Authenticate(body.Username, body.Password, c.Request.RemoteAddr)
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			c.JSON(http.StatusTooManyRequests, gin.H{"status": "error", "error": "too many login attempts, please try again later"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "token": token})
}

func (s *Server) getDecks(c *gin.Context) {
	snapshot := s.coordinator.LoadedTracks()
	decks := make([]gin.H, 0, len(snapshot))
	for ref, metadata := range snapshot {
		decks = append(decks, gin.H{
			"device":   ref.Device,
			"hot_cue":  ref.HotCue,
			"metadata": metadataJSON(metadata),
		})
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "decks": decks})
}

func (s *Server) getSlots(c *gin.Context) {
	snapshot := s.coordinator.MountedSlots()
	slots := make([]gin.H, 0, len(snapshot))
	for ref := range snapshot {
		slots = append(slots, gin.H{"device": ref.Device, "slot": ref.Slot.String()})
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "slots": slots})
}

func (s *Server) getMetadata(c *gin.Context) {
	device, err := parseDevice(c.Param("device"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid device id"})
		return
	}
	metadata := s.coordinator.LatestMetadataFor(device)
	if metadata == nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": "no track loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "metadata": metadataJSON(metadata)})
}

func (s *Server) attachArchive(c *gin.Context) {
	var body struct {
		Device uint8  `json:"device"`
		Slot   string `json:"slot"`
		Path   string `json:"path"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid request body"})
		return
	}
	slotKind, err := parseSlotKind(body.Slot)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}

	ref := proto.SlotRef{Device: proto.DeviceID(body.Device), Slot: slotKind}
	if err := s.coordinator.AttachArchive(ref, body.Path); err != nil {
		writeCdjError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) detachArchive(c *gin.Context) {
	device, err := parseDevice(c.Param("device"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid device id"})
		return
	}
	slotKind, err := parseSlotKind(c.Param("slot"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}

	ref := proto.SlotRef{Device: device, Slot: slotKind}
	if err := s.coordinator.DetachArchive(ref); err != nil {
		writeCdjError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// buildArchive streams build progress back as newline-delimited JSON.
func (s *Server) buildArchive(c *gin.Context) {
	var body struct {
		Device     uint8  `json:"device"`
		Slot       string `json:"slot"`
		PlaylistID uint32 `json:"playlist_id"`
		Dest       string `json:"dest"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid request body"})
		return
	}
	slotKind, err := parseSlotKind(body.Slot)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
		return
	}
	ref := proto.SlotRef{Device: proto.DeviceID(body.Device), Slot: slotKind}

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	flusher, canFlush := c.Writer.(http.Flusher)
	enc := json.NewEncoder(c.Writer)

	progress := func(metadata *proto.TrackMetadata, completed, total int) bool {
		title := ""
		if metadata != nil {
			title = metadata.Title
		}
		_ = enc.Encode(gin.H{"completed": completed, "total": total, "title": title})
		if canFlush {
			flusher.Flush()
		}
		return c.Request.Context().Err() == nil
	}

	err = s.coordinator.CreateArchive(c.Request.Context(), ref, body.PlaylistID, body.Dest, progress)
	if err != nil {
		if !errors.Is(err, cdjerr.Cancelled) {
			slog.Error("archive build failed", "error", err)
		}
		return
	}

	if s.mirror != nil {
		// Best-effort: a mirror failure never fails the build that already
		// succeeded and was reported to the caller above.
		blobName := mirror.BlobNameForArchive(body.Dest)
		if uploadErr := s.mirror.UploadArchive(context.Background(), body.Dest, blobName); uploadErr != nil {
			slog.Warn("failed to mirror archive to blob storage", "dest", body.Dest, "error", uploadErr)
		}
	}
}

func writeCdjError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cdjerr.NotRunning):
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
	case errors.Is(err, cdjerr.BadArgument):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
	}
}

func parseDevice(s string) (proto.DeviceID, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 255 {
		return 0, fmt.Errorf("invalid device id %q", s)
	}
	return proto.DeviceID(n), nil
}

func parseSlotKind(s string) (proto.SlotKind, error) {
	switch s {
	case "usb":
		return proto.SlotUSB, nil
	case "sd":
		return proto.SlotSD, nil
	default:
		return 0, fmt.Errorf("unknown slot kind %q (must be usb or sd)", s)
	}
}

func metadataJSON(m *proto.TrackMetadata) gin.H {
	if m == nil {
		return nil
	}
	return gin.H{
		"title":            m.Title,
		"artist":           m.Artist,
		"duration_seconds": m.DurationSeconds,
		"has_artwork":      m.HasArtwork,
		"artwork_id":       m.ArtworkID,
	}
}
