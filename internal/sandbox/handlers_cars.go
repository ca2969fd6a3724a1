package sandbox

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/carsphere-qa/internal/auth"
	"github.com/kuitang/carsphere-qa/internal/db"
	"github.com/kuitang/carsphere-qa/internal/errs"
	"github.com/kuitang/carsphere-qa/internal/obs"
	"github.com/kuitang/carsphere-qa/internal/s3client"
)

const (
	msgCarDeleted      = "Car deleted successfully!"
	msgReviewAdded     = "Review added successfully!"
	msgReviewEmpty     = "Review cannot be empty."
	msgPhotoUploaded   = "Photo uploaded successfully!"
	msgPhotoDuplicate  = "This photo is already in the gallery."
	msgPhotoMissing    = "Please choose a photo to upload."
	msgUnsupportedType = "Unsupported image format."
	msgCarIncomplete   = "Make, model and year are required."

	// maxUploadBytes bounds one image upload.
	maxUploadBytes = 10 << 20
	// oldestYear is the last entry of the year dropdown.
	oldestYear = 1990
)

func carAddedMessage(carMake, carModel string) string {
	return fmt.Sprintf("Car %s %s added successfully!", carMake, carModel)
}

type dashboardData struct {
	PageData
	Cars []db.Car
}

// handleDashboard handles GET /: the catalog.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	cars, err := s.store.ListCars(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "dashboard.html", dashboardData{PageData: s.pageData(w, r, "Car Catalog"), Cars: cars})
}

type carForm struct {
	Make         string
	Model        string
	Director     string
	MainSettings string
	Description  string
}

type addCarData struct {
	PageData
	Form  carForm
	Years []int
}

func yearOptions(now time.Time) []int {
	years := make([]int, 0, now.Year()-oldestYear+1)
	for y := now.Year(); y >= oldestYear; y-- {
		years = append(years, y)
	}
	return years
}

func (s *Server) handleAddCarPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "add_car.html", addCarData{
		PageData: s.pageData(w, r, "Add New Car"),
		Years:    yearOptions(time.Now()),
	})
}

// handleAddCar handles POST /add_car (multipart, admin only).
func (s *Server) handleAddCar(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.renderer.RenderError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	form := carForm{
		Make:         strings.TrimSpace(r.FormValue("make")),
		Model:        strings.TrimSpace(r.FormValue("model")),
		Director:     strings.TrimSpace(r.FormValue("director")),
		MainSettings: strings.TrimSpace(r.FormValue("main_settings")),
		Description:  strings.TrimSpace(r.FormValue("description")),
	}
	data := addCarData{PageData: s.pageData(w, r, "Add New Car"), Form: form, Years: yearOptions(time.Now())}
	reject := func(message string) {
		data.Flash = &auth.Flash{Kind: auth.FlashDanger, Lines: []string{message}}
		s.render(w, r, http.StatusOK, "add_car.html", data)
	}

	year, err := strconv.Atoi(r.FormValue("year"))
	if form.Make == "" || form.Model == "" || err != nil || year < oldestYear {
		reject(msgCarIncomplete)
		return
	}

	var imageKey string
	if file, _, err := r.FormFile("image_file"); err == nil {
		content, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if len(content) > 0 {
			cover, err := s3client.NewCover(content)
			if err != nil {
				reject(msgUnsupportedType)
				return
			}
			if err := s.photos.Put(r.Context(), cover); err != nil {
				s.fail(w, r, errs.Wrap(errs.Unavailable, "Failed to store image", err))
				return
			}
			imageKey = cover.Key
		}
	}

	user := auth.UserFrom(r.Context())
	id, err := s.store.CreateCar(r.Context(), db.NewCar{
		OwnerID:      user.ID,
		Make:         form.Make,
		Model:        form.Model,
		Year:         year,
		Director:     form.Director,
		MainSettings: form.MainSettings,
		Description:  form.Description,
		ImageKey:     imageKey,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	obs.From(r.Context()).With("pkg", "sandbox").Info("car_added", "car_id", id, "make", form.Make, "model", form.Model)
	redirectWithFlash(w, r, "/", auth.Flash{Kind: auth.FlashSuccess, Lines: []string{carAddedMessage(form.Make, form.Model)}})
}

// handleDeleteCar handles POST /delete_car/{id}. ?next=/admin returns to the
// admin page instead of the catalog.
func (s *Server) handleDeleteCar(w http.ResponseWriter, r *http.Request) {
	id, err := carID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	keys, err := s.store.DeleteCar(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	log := obs.From(r.Context()).With("pkg", "sandbox")
	// Uploads whose row was rolled back can leave objects under the prefix.
	if orphans, err := s.photos.List(r.Context(), s3client.GalleryPrefix(id)); err != nil {
		log.Warn("photo_list_failed", "car_id", id, "error", err)
	} else {
		keys = append(keys, orphans...)
	}
	if err := s.photos.Delete(r.Context(), keys...); err != nil {
		log.Warn("photo_purge_failed", "car_id", id, "error", err)
	}
	log.Info("car_deleted", "car_id", id, "objects", len(keys))

	target := "/"
	if r.URL.Query().Get("next") == "/admin" {
		target = "/admin"
	}
	redirectWithFlash(w, r, target, auth.Flash{Kind: auth.FlashSuccess, Lines: []string{msgCarDeleted}})
}

type carData struct {
	PageData
	Car     *db.Car
	Photos  []db.Photo
	Reviews []db.Review
}

// handleCar handles GET /car/{id}: details, gallery and reviews.
func (s *Server) handleCar(w http.ResponseWriter, r *http.Request) {
	id, err := carID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	car, err := s.store.Car(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	photos, err := s.store.Photos(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	reviews, err := s.store.Reviews(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "car.html", carData{
		PageData: s.pageData(w, r, car.Title()),
		Car:      car,
		Photos:   photos,
		Reviews:  reviews,
	})
}

// handleReview handles POST /car/{id}/review.
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	id, err := carID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.store.Car(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.renderer.RenderError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	back := fmt.Sprintf("/car/%d", id)

	body := sanitizeReview(r.FormValue("review"))
	if body == "" {
		redirectWithFlash(w, r, back, auth.Flash{Kind: auth.FlashDanger, Lines: []string{msgReviewEmpty}})
		return
	}
	user := auth.UserFrom(r.Context())
	if _, err := s.store.AddReview(r.Context(), id, user.Username, body, false); err != nil {
		s.fail(w, r, err)
		return
	}
	redirectWithFlash(w, r, back, auth.Flash{Kind: auth.FlashSuccess, Lines: []string{msgReviewAdded}})
}

// handleUploadPhoto handles POST /car/{id}/photos. A listing keeps one copy
// of each distinct image.
func (s *Server) handleUploadPhoto(w http.ResponseWriter, r *http.Request) {
	id, err := carID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.store.Car(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	back := fmt.Sprintf("/car/%d", id)
	danger := func(message string) {
		redirectWithFlash(w, r, back, auth.Flash{Kind: auth.FlashDanger, Lines: []string{message}})
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		danger(msgPhotoMissing)
		return
	}
	file, _, err := r.FormFile("photo_file")
	if err != nil {
		danger(msgPhotoMissing)
		return
	}
	content, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(content) == 0 {
		danger(msgPhotoMissing)
		return
	}

	upload, err := s3client.NewGalleryPhoto(id, content)
	log := obs.From(r.Context()).With("pkg", "sandbox")
	if err != nil {
		log.Info("photo_rejected", "car_id", id, "content_type", upload.ContentType)
		danger(msgUnsupportedType)
		return
	}

	photo, err := s.store.AddPhoto(r.Context(), id, upload.Key, upload.ContentType, content)
	if errors.Is(err, db.ErrDuplicatePhoto) {
		log.Info("photo_duplicate", "car_id", id)
		danger(msgPhotoDuplicate)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.photos.Put(r.Context(), upload); err != nil {
		if derr := s.store.DeletePhoto(r.Context(), photo.ID); derr != nil {
			log.Error("photo_rollback_failed", "photo_id", photo.ID, "error", derr)
		}
		s.fail(w, r, errs.Wrap(errs.Unavailable, "Failed to store photo", err))
		return
	}
	log.Info("photo_uploaded", "car_id", id, "key", upload.Key, "hash", photo.ContentHash)
	redirectWithFlash(w, r, back, auth.Flash{Kind: auth.FlashSuccess, Lines: []string{msgPhotoUploaded}})
}

// handleAIReview handles GET /ai-review/{id} and answers {"review": "..."}.
// Reviewer failures answer with a fallback text so the form still fills.
func (s *Server) handleAIReview(w http.ResponseWriter, r *http.Request) {
	id, err := carID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	car, err := s.store.Car(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	text, err := s.reviewer.Review(r.Context(), car)
	if err != nil {
		obs.From(r.Context()).With("pkg", "sandbox").Warn("ai_review_failed", "car_id", id, "error", err)
		text = reviewFallback
	}
	writeJSON(w, http.StatusOK, map[string]string{"review": text})
}

type adminListing struct {
	Car    db.Car
	Photos int
}

type adminData struct {
	PageData
	Listings []adminListing
	Users    []db.User
}

// handleAdmin handles GET /admin: every listing with its owner and a delete control.
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	listings, err := s.listingsWithPhotos(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "admin.html", adminData{
		PageData: s.pageData(w, r, "Manage Listings"),
		Listings: listings,
		Users:    users,
	})
}

func (s *Server) listingsWithPhotos(r *http.Request) ([]adminListing, error) {
	cars, err := s.store.ListCars(r.Context())
	if err != nil {
		return nil, err
	}
	out := make([]adminListing, 0, len(cars))
	for _, c := range cars {
		photos, err := s.store.Photos(r.Context(), c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, adminListing{Car: c, Photos: len(photos)})
	}
	return out, nil
}
