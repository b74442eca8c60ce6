package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rubiojr/minaplatser/pkg/binder"
	"github.com/rubiojr/minaplatser/pkg/geo"
	"github.com/rubiojr/minaplatser/pkg/logger"
	"github.com/rubiojr/minaplatser/pkg/mapview"
	"github.com/rubiojr/minaplatser/pkg/notice"
	"github.com/rubiojr/minaplatser/pkg/places"
	"github.com/rubiojr/minaplatser/pkg/tilelayer"
	"github.com/rubiojr/minaplatser/pkg/tiles"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("api: encode response: %v", err)
	}
}

// statusFor maps component errors to HTTP statuses.
func statusFor(err error) int {
	var cfgErr *tiles.ConfigurationError
	switch {
	case errors.Is(err, places.ErrDuplicateCoordinate),
		errors.Is(err, binder.ErrStaleSession),
		errors.Is(err, binder.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, places.ErrNotFound),
		errors.Is(err, tilelayer.ErrUnknownProvider),
		errors.Is(err, binder.ErrUnknownGroup),
		errors.Is(err, mapview.ErrNoFeature):
		return http.StatusNotFound
	case errors.Is(err, geo.ErrPositionUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &cfgErr), errors.Is(err, places.ErrInvalidRadius):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("api: %v", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// ---------------- Tile providers ----------------

func (s *Server) handleGetProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Tiles.Providers())
}

func (s *Server) handleGetProvider(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Tiles.Status())
}

func (s *Server) handlePutProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Tiles.SwitchTo(r.Context(), req.Name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Tiles.Status())
}

// ---------------- Map ----------------

// State is everything the window polls for.
type State struct {
	Scene    mapview.Scene    `json:"scene"`
	Tiles    tilelayer.Status `json:"tiles"`
	Notice   *notice.Notice   `json:"notice,omitempty"`
	Session  *binder.Session  `json:"session,omitempty"`
	Watching bool             `json:"watching"`
}

func (s *Server) handleGetScene(w http.ResponseWriter, _ *http.Request) {
	st := State{
		Scene:    s.Map.Scene(),
		Tiles:    s.Tiles.Status(),
		Watching: s.Binder.Watching(),
	}
	if n := s.Notices.Current(); n.Message != "" {
		st.Notice = &n
	}
	if sess, ok := s.Binder.Current(); ok {
		st.Session = &sess
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handlePutView(w http.ResponseWriter, r *http.Request) {
	var v mapview.View
	if !decodeBody(w, r, &v) {
		return
	}
	writeJSON(w, http.StatusOK, s.Map.UserView(v))
}

func (s *Server) handleClickFeature(w http.ResponseWriter, r *http.Request) {
	if err := s.Map.Click(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	sess, ok := s.Binder.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// ---------------- Places ----------------

func (s *Server) handleGetPlaces(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Places.All())
}

func (s *Server) handleCreatePlace(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Binder.StartCreate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleExportPlaces(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/gpx+xml")
	w.Header().Set("Content-Disposition", `attachment; filename="mina-platser.gpx"`)
	if err := s.Places.ExportGPX(w); err != nil {
		logger.Error("api: export gpx: %v", err)
	}
}

func (s *Server) handleImportPlaces(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 16<<20)
	res, err := s.Places.ImportGPX(r.Context(), r.Body, time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if res.Added > 0 {
		s.Binder.RenderAll()
	}
	writeJSON(w, http.StatusOK, res)
}

// ---------------- Editing sessions ----------------

func (s *Server) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	sess, ok := s.Binder.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSubmitSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.Binder.Submit(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Name))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Binder.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------- Position ----------------

func (s *Server) handleGetWatch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"on": s.Binder.Watching()})
}

func (s *Server) handlePutWatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On bool `json:"on"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.Binder.Watch(req.On)
	writeJSON(w, http.StatusOK, map[string]bool{"on": s.Binder.Watching()})
}

func (s *Server) handleGetLocation(w http.ResponseWriter, _ *http.Request) {
	if s.Location == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	fix, ok := s.Location.Last()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, fix)
}

// ---------------- Notices ----------------

func (s *Server) handleGetNotice(w http.ResponseWriter, _ *http.Request) {
	n := s.Notices.Current()
	if n.Message == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNotice(w http.ResponseWriter, _ *http.Request) {
	s.Notices.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// ---------------- Search ----------------

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit := 8
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 50 {
			limit = n
		}
	}
	if s.Search == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	logger.Debug("/api/search q=%q limit=%d", q, limit)
	res, err := s.Search.Search(r.Context(), q, limit)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ---------------- Tiles & version ----------------

func (s *Server) handleTileStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Proxy.Stats())
}

func (s *Server) handleGetVersion(w http.ResponseWriter, _ *http.Request) {
	info := map[string]any{
		"go_version": runtime.Version(),
		"go_os":      runtime.GOOS,
		"go_arch":    runtime.GOARCH,
	}
	if s.Version != "" {
		info["app_version"] = s.Version
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info["go_module"] = bi.Path
		if _, set := info["app_version"]; !set && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info["app_version"] = bi.Main.Version
		}
		settings := make(map[string]string)
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				settings["commit"] = setting.Value
				if len(setting.Value) > 7 {
					settings["commit_short"] = setting.Value[:7]
				}
			case "vcs.time":
				settings["build_time"] = setting.Value
			case "vcs.modified":
				settings["dirty"] = setting.Value
			}
		}
		if len(settings) > 0 {
			info["build_info"] = settings
		}
	}
	writeJSON(w, http.StatusOK, info)
}
