package position

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/pumpprobe/generichttp"
)

// HTTP binds routes for the controller on r:
//
//	GET  /axes                   every AxisSession
//	GET  /axis/{axis}/pos        {"f64": position}
//	POST /axis/{axis}/pos        {"f64": target}, returns once settled
//	GET  /axis/{axis}/state      {"str": "connected"}
//	GET  /axis/{axis}/connected  {"bool": true}
func HTTP(c *Controller, r chi.Router) {
	// axis resolves the axis of the route, or 404s
	axis := func(w http.ResponseWriter, r *http.Request) (AxisSession, bool) {
		name := chi.URLParam(r, "axis")
		s, ok := c.Session(name)
		if !ok {
			http.Error(w, "unknown axis "+name, http.StatusNotFound)
		}
		return s, ok
	}
	r.Get("/axes", func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, http.StatusOK, c.Sessions())
	})
	r.Get("/axis/{axis}/pos", func(w http.ResponseWriter, r *http.Request) {
		s, ok := axis(w, r)
		if !ok {
			return
		}
		generichttp.GetFloat(func() (float64, error) { return c.GetPos(s.Name) })(w, r)
	})
	r.Post("/axis/{axis}/pos", func(w http.ResponseWriter, r *http.Request) {
		s, ok := axis(w, r)
		if !ok {
			return
		}
		generichttp.SetFloat(func(f float64) error {
			err := c.MoveTo(r.Context(), s.Name, f)
			if errors.Is(err, r.Context().Err()) && r.Context().Err() != nil {
				return nil // client went away
			}
			return err
		})(w, r)
	})
	r.Get("/axis/{axis}/state", func(w http.ResponseWriter, r *http.Request) {
		s, ok := axis(w, r)
		if !ok {
			return
		}
		generichttp.GetString(func() (string, error) { return s.State.String(), nil })(w, r)
	})
	r.Get("/axis/{axis}/connected", func(w http.ResponseWriter, r *http.Request) {
		s, ok := axis(w, r)
		if !ok {
			return
		}
		generichttp.GetBool(func() (bool, error) { return s.State == Connected, nil })(w, r)
	})
}
