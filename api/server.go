package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/runvet/runvet/internal/config"
	"github.com/runvet/runvet/internal/store"
)

type Server struct {
	router    *gin.Engine
	store     store.Store
	config    *config.Config
	outputDir string
}

func NewServer(cfg *config.Config, st store.Store) (*Server, error) {
	r := gin.New()
	s := &Server{
		router: r,
		store:  st,
		config: cfg,
	}
	if cfg != nil {
		s.outputDir = strings.TrimSpace(cfg.Evaluation.OutputDir)
	}
	s.registerMiddleware()
	if err := s.registerRoutes(); err != nil {
		return nil, err
	}
	s.registerArtifacts()
	return s, nil
}

func (s *Server) Run(addr string) error {
	if s == nil || s.router == nil {
		return errors.New("api: nil server")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = ":8080"
	}
	return s.router.Run(addr)
}
