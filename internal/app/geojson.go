package app

import (
	"time"

	"github.com/jfinnert/bite-map/internal/domain"
)

// Wire shapes for the query API. The list endpoint speaks GeoJSON: one
// point Feature per place, pagination metadata alongside the features.

type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"` // [lng, lat]
}

type FeatureProperties struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Address     *string `json:"address"`
	Slug        string  `json:"slug"`
	City        *string `json:"city"`
	State       *string `json:"state"`
	Country     *string `json:"country"`
	ReviewCount int64   `json:"review_count"`
}

type Feature struct {
	Type       string            `json:"type"`
	Geometry   Geometry          `json:"geometry"`
	Properties FeatureProperties `json:"properties"`
}

type Metadata struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Page   int `json:"page"`
	Pages  int `json:"pages"`
}

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
	Metadata Metadata  `json:"metadata"`
}

func FeatureCollectionFrom(page domain.PlacesPage) FeatureCollection {
	fc := FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]Feature, 0, len(page.Items)),
		Metadata: Metadata{
			Total:  page.Total,
			Limit:  page.Limit,
			Offset: page.Offset,
			Page:   page.Page,
			Pages:  page.Pages,
		},
	}
	for _, hit := range page.Items {
		fc.Features = append(fc.Features, Feature{
			Type:     "Feature",
			Geometry: Geometry{Type: "Point", Coordinates: [2]float64{hit.Lng, hit.Lat}},
			Properties: FeatureProperties{
				ID:          hit.ID,
				Name:        hit.Name,
				Address:     hit.Address,
				Slug:        hit.Slug,
				City:        hit.City,
				State:       hit.State,
				Country:     hit.Country,
				ReviewCount: hit.ReviewCount,
			},
		})
	}
	return fc
}

// Detail path: place fields plus the ordered review list, each review
// wrapping its source record.

type SourceResponse struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Platform  string    `json:"platform"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type ReviewResponse struct {
	ID           int64          `json:"id"`
	Title        *string        `json:"title"`
	ThumbnailURL *string        `json:"thumbnail_url"`
	Source       SourceResponse `json:"source"`
}

type PlaceDetailResponse struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Slug        string           `json:"slug"`
	Address     *string          `json:"address"`
	City        *string          `json:"city"`
	State       *string          `json:"state"`
	Country     *string          `json:"country"`
	PostalCode  *string          `json:"postal_code"`
	Lat         float64          `json:"lat"`
	Lng         float64          `json:"lng"`
	ReviewCount int64            `json:"review_count"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   *time.Time       `json:"updated_at"`
	Reviews     []ReviewResponse `json:"reviews"`
}

func DetailResponseFrom(d domain.PlaceDetail) PlaceDetailResponse {
	resp := PlaceDetailResponse{
		ID:          d.ID,
		Name:        d.Name,
		Slug:        d.Slug,
		Address:     d.Address,
		City:        d.City,
		State:       d.State,
		Country:     d.Country,
		PostalCode:  d.PostalCode,
		Lat:         d.Lat,
		Lng:         d.Lng,
		ReviewCount: d.ReviewCount,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		Reviews:     make([]ReviewResponse, 0, len(d.Sources)),
	}
	for _, s := range d.Sources {
		resp.Reviews = append(resp.Reviews, ReviewResponse{
			ID:           s.ID,
			Title:        s.Title,
			ThumbnailURL: s.ThumbnailURL,
			Source: SourceResponse{
				ID:        s.ID,
				URL:       s.URL,
				Platform:  string(s.Platform),
				Status:    string(s.Status),
				CreatedAt: s.CreatedAt,
			},
		})
	}
	return resp
}
