package listing

import (
	"fmt"
	"strconv"

	"github.com/zillopoly/zillopoly/internal/domain"
)

// Wire types for the listing search API (zillow56-style). Only the fields
// the game consumes are decoded; everything else is ignored.

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	ZPID       flexString `json:"zpid"`
	StreetAddr string     `json:"streetAddress"`
	City       string     `json:"city"`
	State      string     `json:"state"`
	Price      float64    `json:"price"`
	ImgSrc     string     `json:"imgSrc"`
	Bedrooms   float64    `json:"bedrooms"`
	Bathrooms  float64    `json:"bathrooms"`
	LivingArea float64    `json:"livingArea"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
}

// flexString tolerates zpid arriving as either a number or a string.
type flexString string

func (n *flexString) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' {
		s = s[1 : len(s)-1]
	}
	*n = flexString(s)
	return nil
}

func (r searchResult) toDomain() domain.Listing {
	return domain.Listing{
		ZPID:       string(r.ZPID),
		Address:    r.StreetAddr,
		City:       r.City,
		State:      r.State,
		Price:      uint64(r.Price),
		ImageURL:   r.ImgSrc,
		Bedrooms:   r.Bedrooms,
		Bathrooms:  r.Bathrooms,
		LivingArea: uint64(r.LivingArea),
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
	}
}

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("listing upstream status %d: %s", e.StatusCode, truncate(e.Body, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (" + strconv.Itoa(len(s)) + " bytes)"
}
