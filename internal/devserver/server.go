package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/loqalabs/loqa-sign/internal/config"
)

const (
	maxUploadBytes    = 512 << 20
	recognizeTimeout  = 2 * time.Minute
	uploadFieldName   = "video"
	uploadSuccessText = "Video uploaded successfully"
)

// Server is a development stand-in for the inference server's upload API.
type Server struct {
	uploadDir  string
	recognizer Recognizer
	logger     *slog.Logger
}

func NewServer(cfg config.DevServerConfig, recognizer Recognizer, logger *slog.Logger) (*Server, error) {
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Server{
		uploadDir:  cfg.UploadDir,
		recognizer: recognizer,
		logger:     logger.With(slog.String("component", "devserver")),
	}, nil
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/videos/{filename}", s.handleVideo).Methods(http.MethodGet)
	return r
}

type uploadResponse struct {
	Message   string   `json:"message"`
	VideoPath string   `json:"video_path"`
	Result    []string `json:"result"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "No video file provided")
		return
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "Malformed multipart body")
			return
		}
		if part.FormName() != uploadFieldName {
			_ = part.Close()
			continue
		}
		filename := filepath.Base(part.FileName())
		if part.FileName() == "" || filename == "." || filename == string(filepath.Separator) {
			writeError(w, http.StatusBadRequest, "Empty filename")
			return
		}
		s.saveAndRecognize(r.Context(), w, part, filename)
		return
	}
	writeError(w, http.StatusBadRequest, "No video file provided")
}

func (s *Server) saveAndRecognize(ctx context.Context, w http.ResponseWriter, src io.Reader, filename string) {
	stored := uuid.NewString() + "_" + filename
	path := filepath.Join(s.uploadDir, stored)

	dst, err := os.Create(path)
	if err != nil {
		s.logger.Error("failed to create upload", slog.String("path", path), slogError(err))
		writeError(w, http.StatusInternalServerError, "Could not store video")
		return
	}
	size, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		s.logger.Warn("failed to store upload", slogError(err))
		writeError(w, http.StatusBadRequest, "Could not read video")
		return
	}
	s.logger.Info("video stored", slog.String("video_path", stored), slog.Int64("bytes", size))

	ctx, cancel := context.WithTimeout(ctx, recognizeTimeout)
	defer cancel()
	tokens, err := s.recognizer.Recognize(ctx, path)
	if err != nil {
		s.logger.Error("recognition failed", slog.String("video_path", stored), slogError(err))
		writeError(w, http.StatusInternalServerError, "Recognition failed")
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{Message: uploadSuccessText, VideoPath: stored, Result: tokens})
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	http.ServeFile(w, r, filepath.Join(s.uploadDir, name))
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not list videos")
		return
	}
	videos := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			videos = append(videos, e.Name())
		}
	}
	sort.Strings(videos)
	writeJSON(w, http.StatusOK, map[string][]string{"videos": videos})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
