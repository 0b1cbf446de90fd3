package directory

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/vitalishealth/bookingai/pkg/logging"
)

// Handler serves the public directory search/detail endpoints and the
// tenant-facing profile editor, grounded on
// original_source/app/api/routes/public_directory.py and
// internal/clinic.Handler's chi style.
type Handler struct {
	repo   *Repository
	logger *logging.Logger
}

// NewHandler builds a directory Handler.
func NewHandler(repo *Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

type searchResponseDoctor struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Specialty         string   `json:"specialty"`
	SpecialtyDisplay  string   `json:"specialty_display"`
	PhotoURL          string   `json:"photo_url,omitempty"`
	Rating            float64  `json:"rating"`
	ReviewsCount      int      `json:"reviews_count"`
	Services          []string `json:"services"`
	ConsultationPrice float64  `json:"consultation_price"`
	Currency          string   `json:"currency"`
	DistanceKM        *float64 `json:"distance_km,omitempty"`
}

type searchResponse struct {
	Success    bool                   `json:"success"`
	Data       []searchResponseDoctor `json:"data"`
	Pagination paginationResponse     `json:"pagination"`
}

type paginationResponse struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Search handles GET /directory/search?lat=&lng=&radius_km=&specialty=&page=&limit=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := SearchParams{
		Specialty: Specialty(q.Get("specialty")),
		RadiusKM:  parseFloatDefault(q.Get("radius_km"), 50),
	}
	if latStr, lngStr := q.Get("lat"), q.Get("lng"); latStr != "" && lngStr != "" {
		if lat, err := strconv.ParseFloat(latStr, 64); err == nil {
			if lng, err := strconv.ParseFloat(lngStr, 64); err == nil {
				params.Lat, params.Lng = &lat, &lng
			}
		}
	}

	page := intDefault(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	limit := intDefault(q.Get("limit"), 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	params.Limit = limit
	params.Offset = (page - 1) * limit

	results, total, err := h.repo.Search(r.Context(), params)
	if err != nil {
		h.logger.Error("directory: search failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	resp := searchResponse{
		Success: true,
		Data:    make([]searchResponseDoctor, 0, len(results)),
		Pagination: paginationResponse{
			Page: page, Limit: limit, Total: total, TotalPages: (total + limit - 1) / limit,
		},
	}
	for _, res := range results {
		doctor := searchResponseDoctor{
			ID:                res.Profile.ID,
			Name:              res.Profile.DoctorName,
			Specialty:         string(res.Profile.Specialty),
			SpecialtyDisplay:  res.Profile.Specialty.DisplayName(),
			PhotoURL:          res.Profile.PhotoURL,
			Rating:            res.Profile.Rating,
			ReviewsCount:      res.Profile.ReviewsCount,
			Services:          res.Profile.Services,
			ConsultationPrice: res.Profile.ConsultationPrice,
			Currency:          res.Profile.Currency,
		}
		if params.Lat != nil {
			d := res.DistanceKM
			doctor.DistanceKM = &d
		}
		resp.Data = append(resp.Data, doctor)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetProfile handles GET /directory/{slug} — the public doctor detail page
// that ends in the same CRM calendar the conversational flow books into.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	profile, err := h.repo.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error("directory: get profile failed", "slug", slug, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if !profile.Enabled {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpsertProfile handles PUT /admin/directory/{accountID} for tenant
// self-service profile management, mirroring
// DirectoryService.create_or_update_profile.
func (h *Handler) UpsertProfile(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		http.Error(w, `{"error":"account_id required"}`, http.StatusBadRequest)
		return
	}

	var body Profile
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	body.AccountID = accountID

	existing, err := h.repo.GetByAccountID(r.Context(), accountID)
	if err != nil && !errors.Is(err, ErrProfileNotFound) {
		h.logger.Error("directory: lookup existing profile failed", "account_id", accountID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if existing != nil {
		body.ID = existing.ID
		body.CreatedAt = existing.CreatedAt
	}

	if err := h.repo.Upsert(r.Context(), &body); err != nil {
		h.logger.Error("directory: upsert profile failed", "account_id", accountID, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseFloatDefault(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func intDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
