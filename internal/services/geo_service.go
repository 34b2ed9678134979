package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/store"
	apperrors "github.com/beaconhq/beacon/pkg/errors"
	"github.com/beaconhq/beacon/pkg/geo"
)

const (
	defaultRadiusKm = 5.0
	defaultMaxKm    = 50.0
)

// GeoService answers proximity queries over alerts and responders. Queries
// run a bounding-box SQL prefilter, then an exact haversine pass in memory.
type GeoService struct {
	db     *gorm.DB
	alerts *store.AlertStore

	defaultRadiusKm float64
	maxRadiusKm     float64
}

// GeoOption customises geo query behaviour.
type GeoOption func(*GeoService)

// WithRadiusBounds sets the default and maximum query radius in kilometres.
func WithRadiusBounds(defaultKm, maxKm float64) GeoOption {
	return func(s *GeoService) {
		if defaultKm > 0 {
			s.defaultRadiusKm = defaultKm
		}
		if maxKm > 0 {
			s.maxRadiusKm = maxKm
		}
	}
}

// NewGeoService constructs a GeoService.
func NewGeoService(db *gorm.DB, alerts *store.AlertStore, opts ...GeoOption) (*GeoService, error) {
	if db == nil {
		return nil, errors.New("geo service: db is required")
	}
	if alerts == nil {
		return nil, errors.New("geo service: alert store is required")
	}

	s := &GeoService{
		db:              db,
		alerts:          alerts,
		defaultRadiusKm: defaultRadiusKm,
		maxRadiusKm:     defaultMaxKm,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AlertWithDistance pairs an alert with its distance from the query centre.
type AlertWithDistance struct {
	models.Alert
	DistanceKm float64 `json:"distance_km"`
}

// ResponderWithDistance pairs a responder with its distance from the query centre.
type ResponderWithDistance struct {
	models.Responder
	DistanceKm float64 `json:"distance_km"`
}

// NearbyAlertsQuery narrows a proximity search over alerts.
type NearbyAlertsQuery struct {
	Centre         geo.Point
	RadiusKm       float64
	Statuses       []models.AlertStatus
	Categories     []models.AlertCategory
	Urgency        models.AlertUrgency
	IncludePrivate bool
}

// NearbyAlerts returns alerts within the radius, closest first.
func (s *GeoService) NearbyAlerts(ctx context.Context, q NearbyAlertsQuery) ([]AlertWithDistance, error) {
	ctx = ensureContext(ctx)

	if !q.Centre.Valid() {
		return nil, apperrors.NewBadRequest("Invalid coordinates")
	}
	radius := s.clampRadius(q.RadiusKm)

	filters := store.ListFilters{
		Statuses:   q.Statuses,
		Categories: q.Categories,
		Urgency:    q.Urgency,
	}
	if !q.IncludePrivate {
		filters.Visibility = models.VisibilityPublic
	}

	candidates, err := s.alerts.ListInBox(ctx, geo.BoxAround(q.Centre, radius), filters)
	if err != nil {
		return nil, err
	}

	results := make([]AlertWithDistance, 0, len(candidates))
	for _, alert := range candidates {
		distance := geo.HaversineKm(q.Centre, geo.Point{Lat: alert.Lat, Lng: alert.Lng})
		if distance > radius {
			continue
		}
		results = append(results, AlertWithDistance{Alert: alert, DistanceKm: distance})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].DistanceKm < results[j].DistanceKm
	})
	return results, nil
}

// NearbyResponders returns on-duty responders within the radius, closest
// first. Ties break on the earliest location sample.
func (s *GeoService) NearbyResponders(ctx context.Context, centre geo.Point, radiusKm float64) ([]ResponderWithDistance, error) {
	ctx = ensureContext(ctx)

	if !centre.Valid() {
		return nil, apperrors.NewBadRequest("Invalid coordinates")
	}
	radius := s.clampRadius(radiusKm)
	box := geo.BoxAround(centre, radius)

	var responders []models.Responder
	err := s.db.WithContext(ctx).
		Where("on_duty = ?", true).
		Where("lat BETWEEN ? AND ?", box.MinLat, box.MaxLat).
		Where("lng BETWEEN ? AND ?", box.MinLng, box.MaxLng).
		Find(&responders).Error
	if err != nil {
		return nil, fmt.Errorf("geo service: list responders: %w", err)
	}

	results := make([]ResponderWithDistance, 0, len(responders))
	for _, responder := range responders {
		if responder.LastLocationUpdateAt == nil {
			continue
		}
		distance := geo.HaversineKm(centre, geo.Point{Lat: responder.Lat, Lng: responder.Lng})
		if distance > radius {
			continue
		}
		results = append(results, ResponderWithDistance{Responder: responder, DistanceKm: distance})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].DistanceKm != results[j].DistanceKm {
			return results[i].DistanceKm < results[j].DistanceKm
		}
		return results[i].LastLocationUpdateAt.Before(*results[j].LastLocationUpdateAt)
	})
	return results, nil
}

// Eligible reports whether a responder may claim the alert: on duty, with a
// known location inside their own service radius of the alert.
func (s *GeoService) Eligible(responder *models.Responder, alert *models.Alert) bool {
	if responder == nil || alert == nil {
		return false
	}
	if !responder.OnDuty || !responder.Role.Valid() {
		return false
	}
	if responder.LastLocationUpdateAt == nil {
		return false
	}

	limit := responder.ServiceRadiusKm
	if limit <= 0 {
		limit = s.defaultRadiusKm
	}
	if limit > s.maxRadiusKm {
		limit = s.maxRadiusKm
	}

	distance := geo.HaversineKm(
		geo.Point{Lat: responder.Lat, Lng: responder.Lng},
		geo.Point{Lat: alert.Lat, Lng: alert.Lng},
	)
	return distance <= limit
}

// CandidateResponders lists responders eligible to handle the alert, closest
// first. Notification fan-out targets this set.
func (s *GeoService) CandidateResponders(ctx context.Context, alert *models.Alert) ([]models.Responder, error) {
	if alert == nil {
		return nil, errors.New("geo service: alert is required")
	}

	nearby, err := s.NearbyResponders(ctx, geo.Point{Lat: alert.Lat, Lng: alert.Lng}, s.maxRadiusKm)
	if err != nil {
		return nil, err
	}

	var candidates []models.Responder
	for i := range nearby {
		responder := nearby[i].Responder
		if s.Eligible(&responder, alert) {
			candidates = append(candidates, responder)
		}
	}
	return candidates, nil
}

func (s *GeoService) clampRadius(radiusKm float64) float64 {
	if radiusKm <= 0 {
		return s.defaultRadiusKm
	}
	if radiusKm > s.maxRadiusKm {
		return s.maxRadiusKm
	}
	return radiusKm
}
