package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrProfileNotFound is returned when no profile matches the lookup key.
var ErrProfileNotFound = errors.New("directory: profile not found")

// Repository persists directory profiles to PostgreSQL, following the same
// hand-written-query shape as internal/tenancy.Repository.
type Repository struct {
	db *sql.DB
}

// NewRepository builds a Repository backed by db.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		panic("directory: db required")
	}
	return &Repository{db: db}
}

const profileColumns = `
	id, account_id, slug, enabled, doctor_name, specialty, photo_url, license_number,
	years_experience, education, certifications, languages, about, services,
	consultation_price, currency, insurance_accepted, phone, email, website,
	location_lat, location_lng, location_address, location_city, location_state,
	location_zip_code, location_country, rating, reviews_count, created_at, updated_at`

// GetBySlug loads the profile published at a public directory slug, whether
// or not it is enabled.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*Profile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM directory_profiles WHERE slug = $1`, slug)
	return scanProfile(row)
}

// GetByAccountID loads the profile owned by a tenant account, if any.
func (r *Repository) GetByAccountID(ctx context.Context, accountID string) (*Profile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM directory_profiles WHERE account_id = $1`, accountID)
	return scanProfile(row)
}

// Upsert creates or updates the profile for an account, matching
// DirectoryService.create_or_update_profile's get-then-branch semantics but
// expressed as a single INSERT ... ON CONFLICT.
func (r *Repository) Upsert(ctx context.Context, p *Profile) error {
	now := time.Now().UTC()
	p.UpdatedAt = now
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}

	education, err := json.Marshal(p.Education)
	if err != nil {
		return fmt.Errorf("directory: marshal education: %w", err)
	}
	certifications, err := json.Marshal(p.Certifications)
	if err != nil {
		return fmt.Errorf("directory: marshal certifications: %w", err)
	}
	languages, err := json.Marshal(p.Languages)
	if err != nil {
		return fmt.Errorf("directory: marshal languages: %w", err)
	}
	services, err := json.Marshal(p.Services)
	if err != nil {
		return fmt.Errorf("directory: marshal services: %w", err)
	}
	insurance, err := json.Marshal(p.InsuranceAccepted)
	if err != nil {
		return fmt.Errorf("directory: marshal insurance: %w", err)
	}

	var lat, lng sql.NullFloat64
	var address, city, state, zip, country sql.NullString
	if p.Location != nil {
		lat = sql.NullFloat64{Float64: p.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: p.Location.Lng, Valid: true}
		address = sql.NullString{String: p.Location.Address, Valid: true}
		city = sql.NullString{String: p.Location.City, Valid: true}
		state = sql.NullString{String: p.Location.State, Valid: true}
		zip = sql.NullString{String: p.Location.ZipCode, Valid: true}
		country = sql.NullString{String: p.Location.Country, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO directory_profiles (
			id, account_id, slug, enabled, doctor_name, specialty, photo_url, license_number,
			years_experience, education, certifications, languages, about, services,
			consultation_price, currency, insurance_accepted, phone, email, website,
			location_lat, location_lng, location_address, location_city, location_state,
			location_zip_code, location_country, rating, reviews_count, created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31
		)
		ON CONFLICT (account_id) DO UPDATE SET
			slug = EXCLUDED.slug, enabled = EXCLUDED.enabled, doctor_name = EXCLUDED.doctor_name,
			specialty = EXCLUDED.specialty, photo_url = EXCLUDED.photo_url, license_number = EXCLUDED.license_number,
			years_experience = EXCLUDED.years_experience, education = EXCLUDED.education,
			certifications = EXCLUDED.certifications, languages = EXCLUDED.languages, about = EXCLUDED.about,
			services = EXCLUDED.services, consultation_price = EXCLUDED.consultation_price,
			currency = EXCLUDED.currency, insurance_accepted = EXCLUDED.insurance_accepted,
			phone = EXCLUDED.phone, email = EXCLUDED.email, website = EXCLUDED.website,
			location_lat = EXCLUDED.location_lat, location_lng = EXCLUDED.location_lng,
			location_address = EXCLUDED.location_address, location_city = EXCLUDED.location_city,
			location_state = EXCLUDED.location_state, location_zip_code = EXCLUDED.location_zip_code,
			location_country = EXCLUDED.location_country, updated_at = EXCLUDED.updated_at`,
		p.ID, p.AccountID, p.Slug, p.Enabled, p.DoctorName, p.Specialty, p.PhotoURL, p.LicenseNumber,
		p.YearsExperience, education, certifications, languages, p.About, services,
		p.ConsultationPrice, p.Currency, insurance, p.Phone, p.Email, p.Website,
		lat, lng, address, city, state, zip, country, p.Rating, p.ReviewsCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("directory: upsert profile: %w", err)
	}
	return nil
}

// Search finds enabled profiles matching the given filters. When Lat/Lng are
// set it restricts to RadiusKM and orders by distance, computed with the
// haversine formula directly in SQL — the spec's only geo dependency is
// this single query, so a PostGIS extension would be overkill here.
func (r *Repository) Search(ctx context.Context, params SearchParams) ([]SearchResult, int, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	if params.Lat != nil && params.Lng != nil {
		return r.searchByLocation(ctx, *params.Lat, *params.Lng, params.RadiusKM, params.Specialty, limit, params.Offset)
	}
	return r.searchUnranked(ctx, params.Specialty, limit, params.Offset)
}

func (r *Repository) searchByLocation(ctx context.Context, lat, lng, radiusKM float64, specialty Specialty, limit, offset int) ([]SearchResult, int, error) {
	if radiusKM <= 0 {
		radiusKM = 50
	}

	query := `
		SELECT * FROM (
			SELECT ` + profileColumns + `,
				(` + earthRadiusKMLiteral + ` * acos(least(1, greatest(-1,
					cos(radians($1)) * cos(radians(location_lat)) * cos(radians(location_lng) - radians($2))
					+ sin(radians($1)) * sin(radians(location_lat))
				)))) AS distance_km
			FROM directory_profiles
			WHERE enabled = true AND location_lat IS NOT NULL AND location_lng IS NOT NULL`
	args := []any{lat, lng}
	if specialty != "" {
		query += fmt.Sprintf(" AND specialty = $%d", len(args)+1)
		args = append(args, specialty)
	}
	query += `
		) ranked`
	query += fmt.Sprintf(" WHERE distance_km <= $%d", len(args)+1)
	args = append(args, radiusKM)
	query += " ORDER BY distance_km ASC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("directory: search by location: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		profile, distance, err := scanProfileWithDistance(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, SearchResult{Profile: *profile, DistanceKM: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	total, err := r.countEnabled(ctx, specialty)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (r *Repository) searchUnranked(ctx context.Context, specialty Specialty, limit, offset int) ([]SearchResult, int, error) {
	query := `SELECT ` + profileColumns + ` FROM directory_profiles WHERE enabled = true`
	args := []any{}
	if specialty != "" {
		query += " AND specialty = $1"
		args = append(args, specialty)
	}
	query += fmt.Sprintf(" ORDER BY rating DESC, reviews_count DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("directory: search unranked: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, SearchResult{Profile: *profile})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	total, err := r.countEnabled(ctx, specialty)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

func (r *Repository) countEnabled(ctx context.Context, specialty Specialty) (int, error) {
	query := `SELECT count(*) FROM directory_profiles WHERE enabled = true`
	args := []any{}
	if specialty != "" {
		query += " AND specialty = $1"
		args = append(args, specialty)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("directory: count enabled: %w", err)
	}
	return total, nil
}

const earthRadiusKMLiteral = "6371"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	p, _, err := scanProfileRow(row, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanProfileWithDistance(row rowScanner) (*Profile, float64, error) {
	return scanProfileRow(row, true)
}

func scanProfileRow(row rowScanner, withDistance bool) (*Profile, float64, error) {
	var p Profile
	var specialty string
	var education, certifications, languages, services, insurance []byte
	var lat, lng sql.NullFloat64
	var address, city, state, zip, country sql.NullString
	var distance float64

	dest := []any{
		&p.ID, &p.AccountID, &p.Slug, &p.Enabled, &p.DoctorName, &specialty, &p.PhotoURL, &p.LicenseNumber,
		&p.YearsExperience, &education, &certifications, &languages, &p.About, &services,
		&p.ConsultationPrice, &p.Currency, &insurance, &p.Phone, &p.Email, &p.Website,
		&lat, &lng, &address, &city, &state, &zip, &country, &p.Rating, &p.ReviewsCount, &p.CreatedAt, &p.UpdatedAt,
	}
	if withDistance {
		dest = append(dest, &distance)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}

	p.Specialty = Specialty(specialty)
	_ = json.Unmarshal(education, &p.Education)
	_ = json.Unmarshal(certifications, &p.Certifications)
	_ = json.Unmarshal(languages, &p.Languages)
	_ = json.Unmarshal(services, &p.Services)
	_ = json.Unmarshal(insurance, &p.InsuranceAccepted)

	if lat.Valid && lng.Valid {
		p.Location = &Location{
			Lat: lat.Float64, Lng: lng.Float64,
			Address: address.String, City: city.String, State: state.String,
			ZipCode: zip.String, Country: country.String,
		}
	}
	return &p, distance, nil
}
