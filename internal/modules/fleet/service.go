// README: Fleet service; availability toggles, vehicle CRUD, match lookups.
package fleet

import (
	"context"

	"go.uber.org/zap"

	"haulmatch/internal/types"
)

var (
	ErrUserNotFound    = &types.Error{Code: "NOT_FOUND", Message: "user not found"}
	ErrVehicleNotFound = &types.Error{Code: "NOT_FOUND", Message: "vehicle not found"}
	ErrForbidden       = &types.Error{Code: "FORBIDDEN", Message: "resource belongs to another transporter"}
	ErrBadRequest      = &types.Error{Code: "VALIDATION_ERROR", Message: "invalid request"}
)

type Service struct {
	store Store
	index *MatchIndex
	clock types.Clock
	log   *zap.SugaredLogger
}

func NewService(store Store, index *MatchIndex, clock types.Clock, log *zap.SugaredLogger) *Service {
	return &Service{store: store, index: index, clock: clock, log: log}
}

type UpsertUserCommand struct {
	ID            types.ID
	Phone         string
	Role          Role
	Name          string
	TransporterID *types.ID
	IsAvailable   bool
}

type UpsertVehicleCommand struct {
	ID             types.ID // empty creates a new vehicle
	TransporterID  types.ID
	VehicleNumber  string
	VehicleType    string
	VehicleSubtype string
	CapacityKg     int64
	IsActive       bool
}

func (s *Service) UpsertUser(ctx context.Context, cmd UpsertUserCommand) (*User, error) {
	if cmd.ID == "" || cmd.Phone == "" || cmd.Role == "" {
		return nil, ErrBadRequest.WithMessagef("id, phone, and role are required")
	}
	now := s.clock.Now()
	u := &User{
		ID:            cmd.ID,
		Phone:         cmd.Phone,
		Role:          cmd.Role,
		Name:          cmd.Name,
		TransporterID: cmd.TransporterID,
		IsAvailable:   cmd.IsAvailable,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if existing, err := s.store.GetUser(ctx, cmd.ID); err == nil {
		u.CreatedAt = existing.CreatedAt
		u.DeviceToken = existing.DeviceToken
	}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	if u.Role == RoleTransporter {
		s.invalidateTransporter(ctx, u.ID)
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id types.ID) (*User, error) {
	return s.store.GetUser(ctx, id)
}

// SetAvailability flips whether a transporter receives broadcasts. The
// match index entries the transporter appears under are invalidated so the
// toggle is visible on the next lookup.
func (s *Service) SetAvailability(ctx context.Context, userID types.ID, available bool) (*User, error) {
	ok, err := s.store.SetUserAvailability(ctx, userID, available)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}
	s.invalidateTransporter(ctx, userID)
	return s.store.GetUser(ctx, userID)
}

func (s *Service) SetDeviceToken(ctx context.Context, userID types.ID, token string) error {
	return s.store.SetDeviceToken(ctx, userID, token)
}

func (s *Service) DeviceTokens(ctx context.Context, ids []types.ID) (map[types.ID]string, error) {
	return s.store.DeviceTokens(ctx, ids)
}

func (s *Service) UpsertVehicle(ctx context.Context, cmd UpsertVehicleCommand) (*Vehicle, error) {
	if cmd.TransporterID == "" || cmd.VehicleNumber == "" || cmd.VehicleType == "" || cmd.VehicleSubtype == "" {
		return nil, ErrBadRequest.WithMessagef("transporterId, vehicleNumber, vehicleType, and vehicleSubtype are required")
	}

	now := s.clock.Now()
	newKey := types.VehicleKey(cmd.VehicleType, cmd.VehicleSubtype)
	stale := []string{newKey}

	v := &Vehicle{
		ID:             cmd.ID,
		TransporterID:  cmd.TransporterID,
		VehicleNumber:  cmd.VehicleNumber,
		VehicleType:    cmd.VehicleType,
		VehicleSubtype: cmd.VehicleSubtype,
		VehicleKey:     newKey,
		CapacityKg:     cmd.CapacityKg,
		Status:         VehicleAvailable,
		IsActive:       cmd.IsActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if cmd.ID == "" {
		v.ID = types.NewID()
	} else {
		existing, err := s.store.GetVehicle(ctx, cmd.ID)
		if err != nil {
			return nil, err
		}
		if existing.TransporterID != cmd.TransporterID {
			return nil, ErrForbidden
		}
		if existing.VehicleKey != newKey {
			stale = append(stale, existing.VehicleKey)
		}
	}
	if err := s.store.UpsertVehicle(ctx, v); err != nil {
		return nil, err
	}
	s.index.Invalidate(stale...)
	return s.store.GetVehicle(ctx, v.ID)
}

func (s *Service) SetVehicleActive(ctx context.Context, vehicleID, transporterID types.ID, active bool) (*Vehicle, error) {
	v, err := s.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if v.TransporterID != transporterID {
		return nil, ErrForbidden
	}
	if _, err := s.store.SetVehicleActive(ctx, vehicleID, active); err != nil {
		return nil, err
	}
	s.index.Invalidate(v.VehicleKey)
	return s.store.GetVehicle(ctx, vehicleID)
}

func (s *Service) Vehicles(ctx context.Context, transporterID types.ID) ([]*Vehicle, error) {
	return s.store.ListVehiclesByTransporter(ctx, transporterID)
}

func (s *Service) GetVehicle(ctx context.Context, id types.ID) (*Vehicle, error) {
	return s.store.GetVehicle(ctx, id)
}

// BindVehicle puts the vehicle in transit for a trip. The CAS only
// succeeds while the vehicle is available and unbound, so two confirms
// racing for the same truck resolve to one winner.
func (s *Service) BindVehicle(ctx context.Context, vehicleID, tripID, driverID types.ID) (bool, error) {
	ok, err := s.store.MarkVehicleInTransit(ctx, vehicleID, tripID, driverID)
	if err != nil || !ok {
		return ok, err
	}
	if v, err := s.store.GetVehicle(ctx, vehicleID); err == nil {
		s.index.Invalidate(v.VehicleKey)
	}
	return true, nil
}

// UnbindVehicle returns the vehicle to the available pool when its trip
// ends. Releasing an already released vehicle is a no-op.
func (s *Service) UnbindVehicle(ctx context.Context, vehicleID, tripID types.ID) (bool, error) {
	ok, err := s.store.ReleaseVehicle(ctx, vehicleID, tripID)
	if err != nil || !ok {
		return ok, err
	}
	if v, err := s.store.GetVehicle(ctx, vehicleID); err == nil {
		s.index.Invalidate(v.VehicleKey)
	}
	return true, nil
}

// Recipients resolves the transporters to notify for one demand line.
func (s *Service) Recipients(ctx context.Context, vehicleType, vehicleSubtype string) ([]types.ID, error) {
	return s.index.Lookup(ctx, vehicleType, vehicleSubtype)
}

// AvailableCount is the number of trucks the transporter could commit to
// the key right now; it caps the personalized availability delta.
func (s *Service) AvailableCount(ctx context.Context, transporterID types.ID, vehicleType, vehicleSubtype string) (int, error) {
	return s.store.CountAvailableByKey(ctx, transporterID, types.VehicleKey(vehicleType, vehicleSubtype))
}

func (s *Service) ActiveKeys(ctx context.Context, transporterID types.ID) ([]string, error) {
	return s.store.ActiveVehicleKeys(ctx, transporterID)
}

func (s *Service) invalidateTransporter(ctx context.Context, transporterID types.ID) {
	keys, err := s.store.ActiveVehicleKeys(ctx, transporterID)
	if err != nil {
		s.log.Warnw("flushing match index, could not list vehicle keys",
			"transporter_id", transporterID, "error", err)
		s.index.Flush()
		return
	}
	s.index.Invalidate(keys...)
}
