package sandbox

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/kuitang/carsphere-qa/internal/s3client"
)

// apiCar is one /api/cars entry.
type apiCar struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Make   string `json:"make"`
	Model  string `json:"model"`
	Year   int    `json:"year"`
	Owner  string `json:"owner"`
	Photos int    `json:"photos"`
}

// handleAPICars handles GET /api/cars.
func (s *Server) handleAPICars(w http.ResponseWriter, r *http.Request) {
	listings, err := s.listingsWithPhotos(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]apiCar, 0, len(listings))
	for _, l := range listings {
		out = append(out, apiCar{
			ID:     l.Car.ID,
			Title:  l.Car.Title(),
			Make:   l.Car.Make,
			Model:  l.Car.Model,
			Year:   l.Car.Year,
			Owner:  l.Car.OwnerUsername,
			Photos: l.Photos,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleImage handles GET /images/{key...} from the photo store. The ETag is
// the photo's sha3-256 digest.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	photo, err := s.photos.Get(r.Context(), r.PathValue("key"))
	if errors.Is(err, s3client.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	etag := `"` + photo.Digest + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", photo.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(photo.Body)))
	_, _ = w.Write(photo.Body)
}

type profileData struct {
	PageData
	Profile string
}

// handleProfile handles GET /in/{profile}, standing in for the LinkedIn
// profile the footer links to.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile := r.PathValue("profile")
	s.render(w, r, http.StatusOK, "linkedin.html", profileData{PageData: s.pageData(w, r, profile), Profile: profile})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
