package models

// Location is a point used across trips, requests, and matching.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// BoundingBox is an axis-aligned lat/lng rectangle used by MatchStore's SQL
// pre-filter predicate (spec §4.2). Populated on every driver_trips write
// from origin/destination padded by searchRadiusKm; rider_requests writes
// store no bounding box.
type BoundingBox struct {
	MinLat float64 `json:"min_lat" db:"bbox_min_lat"`
	MaxLat float64 `json:"max_lat" db:"bbox_max_lat"`
	MinLng float64 `json:"min_lng" db:"bbox_min_lng"`
	MaxLng float64 `json:"max_lng" db:"bbox_max_lng"`
}

// Vehicle describes the driver's vehicle on a Trip offer.
type Vehicle struct {
	Make         string `json:"make,omitempty"`
	Model        string `json:"model,omitempty"`
	Plate        string `json:"plate,omitempty"`
	Color        string `json:"color,omitempty"`
	Accessible   bool   `json:"accessible,omitempty"`
}

// RiderPreferences gates Phase B's preference checks (spec §4.3.5).
type RiderPreferences struct {
	WheelchairAccess bool   `json:"wheelchair_access,omitempty"`
	SameOrgPreferred string `json:"same_org_preferred,omitempty"` // "", "soft", "strict"
}
