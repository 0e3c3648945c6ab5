package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/becomeliminal/nim-runtime/admin"
	"github.com/becomeliminal/nim-runtime/core"
	"github.com/becomeliminal/nim-runtime/memory"
)

const statusSuccess = "success"

// DELETE /memory/point/:collection_id/:memory_id/
func (s *Server) deletePoint(c echo.Context) error {
	deleted, err := s.cfg.Admin.DeletePoint(c.Request().Context(), c.Param("collection_id"), c.Param("memory_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  statusSuccess,
		"deleted": strconv.FormatBool(deleted),
	})
}

type recallQuery struct {
	Text   string    `json:"text"`
	Vector []float32 `json:"vector"`
}

type recallVectors struct {
	Embedder    string                      `json:"embedder"`
	Collections map[string][]map[string]any `json:"collections"`
}

// GET /memory/recall/?text=&k=&threshold=&user_id=
func (s *Server) recall(c echo.Context) error {
	q := admin.RecallQuery{
		Text:      c.QueryParam("text"),
		K:         admin.DefaultRecallK,
		Threshold: core.DefaultRecallThreshold,
		UserID:    c.QueryParam("user_id"),
	}
	if raw := c.QueryParam("k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil {
			return &core.ValidationError{Field: "k", Message: "k must be an integer", Err: err}
		}
		q.K = k
	}
	if raw := c.QueryParam("threshold"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return &core.ValidationError{Field: "threshold", Message: "threshold must be a number", Err: err}
		}
		q.Threshold = threshold
	}

	res, err := s.cfg.Admin.Recall(c.Request().Context(), q)
	if err != nil {
		return err
	}

	collections := make(map[string][]map[string]any, len(res.Collections))
	for name, points := range res.Collections {
		entries := make([]map[string]any, 0, len(points))
		for _, p := range points {
			entries = append(entries, pointEntry(p))
		}
		collections[name] = entries
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": statusSuccess,
		"query":  recallQuery{Text: res.Text, Vector: res.Vector},
		"vectors": recallVectors{
			Embedder:    res.Embedder,
			Collections: collections,
		},
	})
}

// pointEntry flattens a point's metadata beside its id, score and vector.
func pointEntry(p core.MemoryPoint) map[string]any {
	entry := make(map[string]any, len(p.Metadata)+3)
	for k, v := range memory.PublicMetadata(p.Metadata) {
		entry[k] = v
	}
	entry["id"] = p.ID
	entry["score"] = p.Score
	entry["vector"] = p.Vector
	return entry
}

// GET /memory/collections/
func (s *Server) listCollections(c echo.Context) error {
	infos, err := s.cfg.Admin.ListCollections(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":      statusSuccess,
		"results":     len(infos),
		"collections": infos,
	})
}

// DELETE /memory/collections/:collection_id
func (s *Server) wipeCollection(c echo.Context) error {
	deleted, err := s.cfg.Admin.WipeCollection(c.Request().Context(), c.Param("collection_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  statusSuccess,
		"deleted": deleted,
	})
}

// DELETE /memory/wipe-collections/
func (s *Server) wipeAll(c echo.Context) error {
	deleted, err := s.cfg.Admin.WipeAll(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  statusSuccess,
		"deleted": deleted,
	})
}

// DELETE /memory/working-memory/conversation-history/?user_id=
func (s *Server) clearHistory(c echo.Context) error {
	if err := s.cfg.Admin.ClearHistory(c.Request().Context(), c.QueryParam("user_id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  statusSuccess,
		"deleted": "true",
	})
}
