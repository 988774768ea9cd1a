package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// registerArtifacts exposes the evaluation output directory (reports and
// screenshots) read-only under /artifacts. Paths are confined to the
// directory root.
func (s *Server) registerArtifacts() {
	if s == nil || s.router == nil || strings.TrimSpace(s.outputDir) == "" {
		return
	}

	root := s.outputDir
	handler := func(c *gin.Context) {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}

		rel := strings.TrimPrefix(c.Param("filepath"), "/")
		cleaned := filepath.Clean(rel)
		full := filepath.Join(root, cleaned)
		fullAbs, err := filepath.Abs(full)
		if err != nil {
			c.Status(http.StatusNotFound)
			return
		}
		rootPrefix := rootAbs + string(os.PathSeparator)
		if fullAbs != rootAbs && !strings.HasPrefix(fullAbs, rootPrefix) {
			c.Status(http.StatusForbidden)
			return
		}
		if info, err := os.Stat(fullAbs); err == nil && !info.IsDir() {
			c.File(fullAbs)
			return
		}
		c.Status(http.StatusNotFound)
	}

	s.router.GET("/artifacts/*filepath", handler)
	s.router.HEAD("/artifacts/*filepath", handler)
}
