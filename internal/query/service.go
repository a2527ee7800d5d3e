// Package query serves persisted telemetry records: paginated listings,
// filtering and the CRUD management path, plus thin HTTP handlers.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/drblury/xrayflow/internal/broadcast"
	"github.com/drblury/xrayflow/internal/runtime/errors"
	"github.com/drblury/xrayflow/internal/runtime/ids"
	"github.com/drblury/xrayflow/internal/runtime/logging"
	"github.com/drblury/xrayflow/internal/store"
	"github.com/drblury/xrayflow/internal/xray"
)

// Criteria narrows a filtered listing. Time bounds are inclusive.
type Criteria struct {
	DeviceID  string
	StartTime *int64
	EndTime   *int64
}

// CreateInput is a record submitted through the management path.
// SampleCount and PayloadSize are derived from Samples when omitted.
type CreateInput struct {
	DeviceID    string        `json:"deviceId"`
	Time        *int64        `json:"time"`
	Samples     []xray.Sample `json:"data"`
	SampleCount *int          `json:"dataLength,omitempty"`
	PayloadSize *int          `json:"dataVolume,omitempty"`
}

// UpdateInput is a partial update. Omitted fields are left unchanged.
type UpdateInput struct {
	DeviceID    *string       `json:"deviceId,omitempty"`
	Time        *int64        `json:"time,omitempty"`
	Samples     []xray.Sample `json:"data,omitempty"`
	SampleCount *int          `json:"dataLength,omitempty"`
	PayloadSize *int          `json:"dataVolume,omitempty"`
}

// Options configures a Service.
type Options struct {
	Store   store.Store
	Emitter broadcast.Emitter
	Logger  logging.ServiceLogger
}

// Service reads and manages records. It shares the store with ingestion.
type Service struct {
	store   store.Store
	emitter broadcast.Emitter
	log     logging.ServiceLogger
}

// NewService validates opts and builds a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.ErrStoreRequired
	}
	if opts.Emitter == nil {
		return nil, errors.ErrEmitterRequired
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}
	return &Service{store: opts.Store, emitter: opts.Emitter, log: opts.Logger}, nil
}

// List returns one page of all records.
func (s *Service) List(ctx context.Context, p Page) (Result, error) {
	return s.page(ctx, store.Filter{}, p)
}

// ListByDevice returns one page of the records of deviceID.
func (s *Service) ListByDevice(ctx context.Context, deviceID string, p Page) (Result, error) {
	return s.page(ctx, store.Filter{DeviceID: deviceID}, p)
}

// Filter returns one page of the records matching c.
func (s *Service) Filter(ctx context.Context, c Criteria, p Page) (Result, error) {
	return s.page(ctx, c.filter(), p)
}

// FilterAll returns every record matching c.
func (s *Service) FilterAll(ctx context.Context, c Criteria) ([]xray.Record, error) {
	items, _, err := s.store.Find(ctx, c.filter())
	if err != nil {
		s.log.Error("Error filtering records", err, logging.LogFields{"device_id": c.DeviceID})
		return nil, err
	}
	if items == nil {
		items = []xray.Record{}
	}
	return items, nil
}

func (s *Service) page(ctx context.Context, f store.Filter, p Page) (Result, error) {
	f.Skip, f.Limit = p.Skip(), p.Limit
	items, total, err := s.store.Find(ctx, f)
	if err != nil {
		s.log.Error("Error listing records", err, logging.LogFields{
			"device_id": f.DeviceID,
			"page":      p.Page,
			"limit":     p.Limit,
		})
		return Result{}, err
	}
	return Paginate(items, total, p), nil
}

// FindOne returns the record with id.
func (s *Service) FindOne(ctx context.Context, id string) (xray.Record, error) {
	if !ids.Valid(id) {
		return xray.Record{}, &errors.NotFoundError{ID: id}
	}
	return s.store.FindOne(ctx, id)
}

// Create stores in and announces it as signalCreated.
func (s *Service) Create(ctx context.Context, in CreateInput) (xray.Record, error) {
	draft, err := in.draft()
	if err != nil {
		return xray.Record{}, err
	}
	rec, err := s.store.Create(ctx, draft)
	if err != nil {
		s.log.Error("Error creating record", err, logging.LogFields{"device_id": draft.DeviceID})
		return xray.Record{}, err
	}
	s.emitter.EmitEvent(broadcast.Event{Kind: broadcast.KindSignalCreated, DeviceID: rec.DeviceID, Data: rec})
	return rec, nil
}

// Update applies in to the record with id and announces it as signalUpdated.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (xray.Record, error) {
	if !ids.Valid(id) {
		return xray.Record{}, &errors.NotFoundError{ID: id}
	}
	patch, err := in.patch()
	if err != nil {
		return xray.Record{}, err
	}
	rec, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return xray.Record{}, err
	}
	s.emitter.EmitEvent(broadcast.Event{Kind: broadcast.KindSignalUpdated, DeviceID: rec.DeviceID, Data: rec})
	return rec, nil
}

// Remove deletes the record with id.
func (s *Service) Remove(ctx context.Context, id string) error {
	if !ids.Valid(id) {
		return &errors.NotFoundError{ID: id}
	}
	deleted, err := s.store.Remove(ctx, id)
	if err != nil {
		s.log.Error("Error removing record", err, logging.LogFields{"record_id": id})
		return err
	}
	if !deleted {
		return &errors.NotFoundError{ID: id}
	}
	return nil
}

func (c Criteria) filter() store.Filter {
	return store.Filter{DeviceID: c.DeviceID, StartTime: c.StartTime, EndTime: c.EndTime}
}

func (in CreateInput) draft() (xray.Draft, error) {
	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		return xray.Draft{}, fmt.Errorf("%w: deviceId is required", errors.ErrInvalidRequest)
	}
	if in.Time == nil {
		return xray.Draft{}, fmt.Errorf("%w: time is required", errors.ErrInvalidRequest)
	}
	if in.Samples == nil {
		return xray.Draft{}, fmt.Errorf("%w: data is required", errors.ErrInvalidRequest)
	}

	draft := xray.Draft{DeviceID: deviceID, Time: *in.Time, Samples: in.Samples, SampleCount: len(in.Samples)}
	if in.SampleCount != nil {
		draft.SampleCount = *in.SampleCount
	}
	if in.PayloadSize != nil {
		draft.PayloadSize = *in.PayloadSize
	} else {
		size, err := xray.PayloadSize(in.Samples)
		if err != nil {
			return xray.Draft{}, fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
		}
		draft.PayloadSize = size
	}
	return draft, nil
}

func (in UpdateInput) patch() (store.Patch, error) {
	patch := store.Patch{
		DeviceID:    in.DeviceID,
		Time:        in.Time,
		Samples:     in.Samples,
		SampleCount: in.SampleCount,
		PayloadSize: in.PayloadSize,
	}
	if in.DeviceID != nil && strings.TrimSpace(*in.DeviceID) == "" {
		return store.Patch{}, fmt.Errorf("%w: deviceId must not be empty", errors.ErrInvalidRequest)
	}
	if in.Samples != nil {
		if patch.SampleCount == nil {
			n := len(in.Samples)
			patch.SampleCount = &n
		}
		if patch.PayloadSize == nil {
			size, err := xray.PayloadSize(in.Samples)
			if err != nil {
				return store.Patch{}, fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
			}
			patch.PayloadSize = &size
		}
	}
	return patch, nil
}
