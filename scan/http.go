package scan

import (
	"encoding/json"
	"errors"
	"go/types"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/pumpprobe/generichttp"
	"github.com/nasa-jpl/pumpprobe/improc"
	"github.com/nasa-jpl/pumpprobe/journal"
	"github.com/nasa-jpl/pumpprobe/server"
	"github.com/nasa-jpl/pumpprobe/sweep"
)

// History lists past runs.  *journal.DB satisfies it.
type History interface {
	Runs(limit int) ([]journal.Run, error)
}

// XYRReader reads the outputs of a lock-in.  lockin.LockIn satisfies it.
type XYRReader interface {
	GetXYR() ([3]float64, error)
}

// HTTPWrapper binds a Session to HTTP routes
type HTTPWrapper struct {
	Session *Session

	// Defaults is the configuration a request starts from.  A JSON body
	// on /scan/start or /capture/test replaces the fields it names.
	Defaults Config

	// History and LockIn may be nil; their routes then return 404
	History History
	LockIn  XYRReader
}

// Bind adds the routes to r:
//
//	POST /scan/start     start a scan, 202 {"str": runID}
//	POST /scan/stop      stop the running scan
//	GET  /scan/status    Status
//	GET  /scan/history   past runs, newest first, ?limit=n
//	GET  /lockin/xyr     {"x":..,"y":..,"r":..}
//	POST /capture/test   capture one frame, save it as <name>.png and return it
func (h HTTPWrapper) Bind(r chi.Router) {
	r.Post("/scan/start", h.start)
	r.Post("/scan/stop", h.stop)
	r.Get("/scan/status", func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, http.StatusOK, h.Session.Status())
	})
	r.Get("/scan/history", h.history)
	r.Get("/lockin/xyr", h.xyr)
	r.Post("/capture/test", h.testCapture)
}

func (h HTTPWrapper) config(r *http.Request) (Config, error) {
	cfg := h.Defaults
	err := json.NewDecoder(r.Body).Decode(&cfg)
	if err == io.EOF {
		err = nil
	}
	return cfg, err
}

func (h HTTPWrapper) start(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	cfg, err := h.config(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.Session.StartScan(cfg)
	var ce *sweep.ConfigurationError
	switch {
	case errors.As(err, &ce):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, http.StatusAccepted, server.StrT{Str: id})
}

func (h HTTPWrapper) stop(w http.ResponseWriter, r *http.Request) {
	if !h.Session.Stop() {
		http.Error(w, "no scan is running", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h HTTPWrapper) history(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		http.Error(w, "no journal configured", http.StatusNotFound)
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			http.Error(w, "limit: "+err.Error(), http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := h.History.Runs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	generichttp.RespondJSON(w, http.StatusOK, runs)
}

func (h HTTPWrapper) xyr(w http.ResponseWriter, r *http.Request) {
	if h.LockIn == nil {
		http.Error(w, "no lock-in configured", http.StatusNotFound)
		return
	}
	v, err := h.LockIn.GetXYR()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	generichttp.RespondJSON(w, http.StatusOK, map[string]float64{"x": v[0], "y": v[1], "r": v[2]})
}

// testCapture configures the camera, takes one frame, and writes its
// render to <folder>/<name>.png
func (h HTTPWrapper) testCapture(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	cfg, err := h.config(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cam := h.Session.Orchestrator().Camera
	if err := cam.Configure(cfg.Camera); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	frame, err := cam.Capture()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	img, err := improc.Render(frame, cfg.Output.Render)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := os.MkdirAll(cfg.Output.Folder, 0777); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fn := cfg.Output.Name + ".png"
	fid, err := os.Create(filepath.Join(cfg.Output.Folder, fn))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	err = improc.EncodeVisual(fid, img, "png")
	if cerr := fid.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("reply") == "path" {
		hp := server.HumanPayload{T: types.String, String: filepath.Join(cfg.Output.Folder, fn)}
		hp.EncodeAndRespond(w, r)
		return
	}
	server.ReplyWithFile(w, r, fn, cfg.Output.Folder)
}
