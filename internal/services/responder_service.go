package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/cache"
	"github.com/beaconhq/beacon/internal/models"
	apperrors "github.com/beaconhq/beacon/pkg/errors"
	"github.com/beaconhq/beacon/pkg/geo"
)

const defaultSampleInterval = 10 * time.Second

// ResponderService maintains the dispatch-facing responder state: duty
// status and the last sampled location. Location writes are rate-bounded
// per responder; updates inside the sampling window are acknowledged but
// dropped.
type ResponderService struct {
	db             *gorm.DB
	cache          cache.Store
	sampleInterval time.Duration
	timeNow        func() time.Time
}

// ResponderOption customises responder service behaviour.
type ResponderOption func(*ResponderService)

// WithLocationSampling bounds the accepted location update rate using the
// supplied cache. A nil store disables sampling.
func WithLocationSampling(store cache.Store, interval time.Duration) ResponderOption {
	return func(s *ResponderService) {
		s.cache = store
		if interval > 0 {
			s.sampleInterval = interval
		}
	}
}

// WithResponderClock overrides the time source, used in tests.
func WithResponderClock(now func() time.Time) ResponderOption {
	return func(s *ResponderService) {
		if now != nil {
			s.timeNow = now
		}
	}
}

// NewResponderService constructs a ResponderService.
func NewResponderService(db *gorm.DB, opts ...ResponderOption) (*ResponderService, error) {
	if db == nil {
		return nil, errors.New("responder service: db is required")
	}

	s := &ResponderService{
		db:             db,
		sampleInterval: defaultSampleInterval,
		timeNow:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Get loads a responder by id.
func (s *ResponderService) Get(ctx context.Context, responderID string) (*models.Responder, error) {
	ctx = ensureContext(ctx)

	responderID = strings.TrimSpace(responderID)
	if responderID == "" {
		return nil, apperrors.NewBadRequest("Responder id is required")
	}

	var responder models.Responder
	if err := s.db.WithContext(ctx).First(&responder, "id = ?", responderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &responder, nil
}

// DutyInput describes a duty toggle request.
type DutyInput struct {
	ResponderID         string
	Role                models.ResponderRole
	OnDuty              bool
	ServiceRadiusKm     float64
	PreferredCategories []string
}

// SetDuty creates or updates the responder row and flips duty state.
// Going on duty stamps OnDutySince; going off duty clears it.
func (s *ResponderService) SetDuty(ctx context.Context, in DutyInput) (*models.Responder, error) {
	ctx = ensureContext(ctx)

	in.ResponderID = strings.TrimSpace(in.ResponderID)
	if in.ResponderID == "" {
		return nil, apperrors.NewBadRequest("Responder id is required")
	}
	if !in.Role.Valid() {
		return nil, apperrors.NewBadRequest("Unknown responder role")
	}

	now := s.timeNow().UTC()

	var responder models.Responder
	err := s.db.WithContext(ctx).First(&responder, "id = ?", in.ResponderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		responder = models.Responder{}
		responder.ID = in.ResponderID
	} else if err != nil {
		return nil, err
	}

	wasOnDuty := responder.OnDuty
	responder.Role = in.Role
	responder.OnDuty = in.OnDuty
	if in.ServiceRadiusKm > 0 {
		responder.ServiceRadiusKm = in.ServiceRadiusKm
	}
	if refs := normaliseRefs(in.PreferredCategories); refs != nil {
		encoded, err := json.Marshal(refs)
		if err != nil {
			return nil, fmt.Errorf("responder service: marshal categories: %w", err)
		}
		responder.PreferredCategories = datatypes.JSON(encoded)
	}

	switch {
	case in.OnDuty && !wasOnDuty:
		responder.OnDutySince = &now
	case !in.OnDuty:
		responder.OnDutySince = nil
	}

	if err := s.db.WithContext(ctx).Save(&responder).Error; err != nil {
		return nil, fmt.Errorf("responder service: save responder: %w", err)
	}
	return &responder, nil
}

// UpdateLocation records a location sample for a responder. The boolean
// result reports whether the sample was applied; updates arriving inside the
// sampling window are acknowledged but dropped.
func (s *ResponderService) UpdateLocation(ctx context.Context, responderID string, point geo.Point) (*models.Responder, bool, error) {
	ctx = ensureContext(ctx)

	if !point.Valid() {
		return nil, false, apperrors.NewBadRequest("Invalid coordinates")
	}

	responder, err := s.Get(ctx, responderID)
	if err != nil {
		return nil, false, err
	}

	if s.cache != nil && s.sampleInterval > 0 {
		count, _, err := s.cache.IncrementWithTTL(ctx, "loc:"+responder.ID, s.sampleInterval)
		if err == nil && count > 1 {
			return responder, false, nil
		}
		// A cache failure falls through to an unthrottled write.
	}

	now := s.timeNow().UTC()
	updates := map[string]any{
		"lat":                     point.Lat,
		"lng":                     point.Lng,
		"last_location_update_at": now,
	}
	err = s.db.WithContext(ctx).
		Model(&models.Responder{}).
		Where("id = ?", responder.ID).
		Updates(updates).Error
	if err != nil {
		return nil, false, fmt.Errorf("responder service: update location: %w", err)
	}

	responder.Lat = point.Lat
	responder.Lng = point.Lng
	responder.LastLocationUpdateAt = &now
	return responder, true, nil
}
