package main

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Simplici0/quickprint/internal/api"
	"github.com/Simplici0/quickprint/internal/cart"
	"github.com/Simplici0/quickprint/internal/pricing"
)

type jobConfigRequest struct {
	Copies      json.Number `json:"copies"`
	IsColor     bool        `json:"is_color"`
	IsDuplex    bool        `json:"is_duplex"`
	Orientation string      `json:"orientation"`
}

type pricingRequest struct {
	BWSingle    json.Number `json:"bw_single_price"`
	BWDuplex    json.Number `json:"bw_duplex_price"`
	ColorSingle json.Number `json:"color_single_price"`
	ColorDuplex json.Number `json:"color_duplex_price"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// parseJobConfig validates types only. Copies below one are clamped later, not rejected.
func parseJobConfig(req jobConfigRequest) (cart.JobConfig, error) {
	cfg := cart.JobConfig{IsColor: req.IsColor, IsDuplex: req.IsDuplex}

	var err error
	if cfg.Copies, err = parseCopies(req.Copies.String()); err != nil {
		return cfg, err
	}
	if cfg.Orientation, err = cart.ParseOrientation(req.Orientation); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parsePricing(req pricingRequest) (pricing.Table, error) {
	var rates [4]float64
	fields := []struct {
		raw  json.Number
		name string
	}{
		{req.BWSingle, "bw_single_price"},
		{req.BWDuplex, "bw_duplex_price"},
		{req.ColorSingle, "color_single_price"},
		{req.ColorDuplex, "color_duplex_price"},
	}

	for i, f := range fields {
		value, err := parseNonNegativeFloat(f.raw.String(), f.name)
		if err != nil {
			return pricing.Table{}, err
		}
		rates[i] = value
	}
	return pricing.FromFloats(rates[0], rates[1], rates[2], rates[3]), nil
}

func parseCopies(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 1, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("copies must be a whole number")
	}
	return value, nil
}

func parseNonNegativeFloat(raw, field string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%s must be numeric", field)
	}
	if value < 0 {
		return 0, fmt.Errorf("%s must be greater than or equal to 0", field)
	}
	return value, nil
}

func parsePositiveInt(raw, field string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a whole number", field)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", field)
	}
	return value, nil
}

func parseOrderStatus(req statusRequest) (api.OrderStatus, error) {
	if strings.TrimSpace(req.Status) == "" {
		return "", fmt.Errorf("status is required")
	}
	return api.ParseOrderStatus(req.Status)
}

func parseItemStatus(req statusRequest) (api.ItemStatus, error) {
	if strings.TrimSpace(req.Status) == "" {
		return "", fmt.Errorf("status is required")
	}
	return api.ParseItemStatus(req.Status)
}
