// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strings"
	"time"
)

type Indicator string

const (
	NDVI  Indicator = "NDVI"
	EVI   Indicator = "EVI"
	GNDVI Indicator = "GNDVI"
	NDWI  Indicator = "NDWI"
	CVI   Indicator = "CVI"
	CVIn  Indicator = "CVIn"
	LAI   Indicator = "LAI"
)

var allIndicators = []Indicator{NDVI, EVI, GNDVI, NDWI, CVI, CVIn, LAI}

func Indicators() []Indicator {
	out := make([]Indicator, len(allIndicators))
	copy(out, allIndicators)
	return out
}

// ParseIndicator accepts the canonical spelling or any case variant of it
func ParseIndicator(s string) (Indicator, error) {
	s = strings.TrimSpace(s)
	for _, ind := range allIndicators {
		if string(ind) == s {
			return ind, nil
		}
	}
	for _, ind := range allIndicators {
		if strings.EqualFold(string(ind), s) {
			return ind, nil
		}
	}
	return "", fmt.Errorf("unknown indicator %q", s)
}

func ParseIndicators(values []string) ([]Indicator, error) {
	out := make([]Indicator, 0, len(values))
	for _, v := range values {
		ind, err := ParseIndicator(v)
		if err != nil {
			return nil, err
		}
		out = append(out, ind)
	}
	return out, nil
}

// Parameters mirrors the "parameters" member of the input document
type Parameters struct {
	Polygon   string `json:"polygon" validate:"required"`
	StartDate string `json:"startDate" validate:"required,isodate"`
	EndDate   string `json:"endDate" validate:"required,isodate"`
}

// Input is the full request document read by the CLI and built by the API
type Input struct {
	Parameters Parameters `json:"parameters" validate:"required"`
	Indicators []string   `json:"indicators" validate:"dive,required,indicator"`
}

type Metrics struct {
	ExecutionTime            string `json:"execution_time,omitempty"`
	DataGenerationNetworkUse string `json:"data_generation_network_use,omitempty"`
	DataUploadNetworkUse     string `json:"data_upload_network_use,omitempty"`
}

type Output struct {
	StorageLinks     string   `json:"storage_links"`
	Metrics          *Metrics `json:"metrics,omitempty"`
	FailedIndicators []string `json:"failed_indicators,omitempty"`
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate accepts ISO dates with or without a time part; naive values are UTC
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD or RFC3339)", s)
}
