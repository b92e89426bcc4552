// Package doctors is the HTTP client for the external doctor directory.
// Search is idempotent, so it retries transient failures with exponential
// backoff; booking-style calls would not.
package doctors

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"resty.dev/v3"
)

// Doctor is one directory entry, flattened for presentation.
type Doctor struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	SpecialtyPrimary     string   `json:"specialty_primary"`
	SpecialtiesSecondary []string `json:"specialties_secondary,omitempty"`
	YearsExperience      int      `json:"years_experience"`
	ConsultationFee      float64  `json:"consultation_fee"`
	Languages            []string `json:"languages,omitempty"`
	Rating               float64  `json:"rating"`
	City                 string   `json:"city"`
}

// SearchParams filter a directory search.
type SearchParams struct {
	Specialties []string
	City        string
	MinRating   float64
	Limit       int
}

type searchResponse struct {
	Doctors []Doctor `json:"doctors"`
	Total   int      `json:"total"`
}

// Finder is the search capability the doctor-matching workflow depends on.
type Finder interface {
	Search(ctx context.Context, params SearchParams) ([]Doctor, error)
}

// Service talks to the doctor directory API.
type Service struct {
	client     *resty.Client
	baseURL    string
	maxRetries uint64
}

// NewService creates a directory client for the given base URL.
func NewService(baseURL string) *Service {
	client := resty.New().
		SetTimeout(10 * time.Second)
	return &Service{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: 3,
	}
}

// Search queries the directory with the given filters, retrying transient
// failures with exponential backoff.
func (s *Service) Search(ctx context.Context, params SearchParams) ([]Doctor, error) {
	query := map[string]string{}
	if len(params.Specialties) > 0 {
		query["specialties"] = strings.Join(params.Specialties, ",")
	}
	if params.City != "" {
		query["city"] = params.City
	}
	if params.MinRating > 0 {
		query["min_rating"] = strconv.FormatFloat(params.MinRating, 'f', 1, 64)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	query["limit"] = strconv.Itoa(limit)

	var result searchResponse
	operation := func() error {
		res, err := s.client.R().
			SetContext(ctx).
			SetQueryParams(query).
			SetResult(&result).
			Get(s.baseURL + "/doctors")
		if err != nil {
			return err
		}
		if !res.IsSuccess() {
			return fmt.Errorf("doctor search returned status %d", res.StatusCode())
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	if err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("doctor search failed, retrying")
	}); err != nil {
		return nil, fmt.Errorf("doctor search failed: %w", err)
	}

	log.Info().Int("count", len(result.Doctors)).Str("city", params.City).Msg("doctor search completed")
	return result.Doctors, nil
}

// Close releases the underlying HTTP client.
func (s *Service) Close() error {
	return s.client.Close()
}
