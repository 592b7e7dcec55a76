// Package memstore is an in-memory gateway.Gateway used as a test double
// for the engine, scanner and dispatcher.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Daskott/deadman/server/gateway"
	"github.com/Daskott/deadman/server/models"
	"github.com/pkg/errors"
)

var _ gateway.Gateway = (*Store)(nil)

type Store struct {
	mu sync.Mutex

	lastID        uint
	switches      map[uint]models.Switch
	checkIns      map[uint]models.CheckIn
	contacts      map[uint]models.EmergencyContact
	notifications map[uint]models.Notification

	// FailNext, when set, is returned (wrapped as a persistence error) by
	// the next call to the named method.
	failNext map[string]error
}

func New() *Store {
	return &Store{
		switches:      make(map[uint]models.Switch),
		checkIns:      make(map[uint]models.CheckIn),
		contacts:      make(map[uint]models.EmergencyContact),
		notifications: make(map[uint]models.Notification),
		failNext:      make(map[string]error),
	}
}

// FailNext makes the next call to 'method' fail with a persistence error.
func (s *Store) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[method] = err
}

func (s *Store) injected(method string) error {
	err, ok := s.failNext[method]
	if !ok {
		return nil
	}
	delete(s.failNext, method)
	return models.NewPersistenceError(method, err)
}

func (s *Store) nextID() uint {
	s.lastID++
	return s.lastID
}

func stamp(base *models.BaseModel, id uint) {
	now := time.Now().UTC()
	base.ID = id
	if base.CreatedAt.IsZero() {
		base.CreatedAt = now
	}
	base.UpdatedAt = now
}

// ---------------------------------------------------------------------------------//
// Switches
// --------------------------------------------------------------------------------//

func (s *Store) CreateSwitch(ctx context.Context, sw *models.Switch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CreateSwitch"); err != nil {
		return err
	}

	stamp(&sw.BaseModel, s.nextID())
	s.switches[sw.ID] = cloneSwitch(*sw)
	return nil
}

func (s *Store) GetSwitch(ctx context.Context, id uint) (*models.Switch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetSwitch"); err != nil {
		return nil, err
	}

	sw, ok := s.switches[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "switch %d", id)
	}
	sw = cloneSwitch(sw)
	return &sw, nil
}

func (s *Store) ListEnabledActiveSwitches(ctx context.Context, afterID uint, limit int) ([]models.Switch, error) {
	return s.listSwitches("ListEnabledActiveSwitches", afterID, limit, func(sw models.Switch) bool {
		return sw.IsEnabled && sw.Status == models.SWITCH_ACTIVE
	})
}

func (s *Store) ListTriggeredSwitches(ctx context.Context, afterID uint, limit int) ([]models.Switch, error) {
	return s.listSwitches("ListTriggeredSwitches", afterID, limit, func(sw models.Switch) bool {
		return sw.Status == models.SWITCH_TRIGGERED
	})
}

func (s *Store) listSwitches(method string, afterID uint, limit int, keep func(models.Switch) bool) ([]models.Switch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(method); err != nil {
		return nil, err
	}

	result := []models.Switch{}
	for _, sw := range s.switches {
		if sw.ID > afterID && keep(sw) {
			result = append(result, cloneSwitch(sw))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	limit = models.PageSize(limit)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdateSwitchState(ctx context.Context, id, expectedVersion uint, fields models.SwitchFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("UpdateSwitchState"); err != nil {
		return err
	}

	sw, err := s.compareSwitch(id, expectedVersion)
	if err != nil {
		return err
	}

	s.applySwitch(sw, fields)
	return nil
}

// CheckInSwitch honours failures injected for "CheckInSwitch" and for
// "AppendCheckIn"; the latter leaves the switch untouched.
func (s *Store) CheckInSwitch(ctx context.Context, id, expectedVersion uint, fields models.SwitchFields, checkIn *models.CheckIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CheckInSwitch"); err != nil {
		return err
	}

	sw, err := s.compareSwitch(id, expectedVersion)
	if err != nil {
		return err
	}

	if err := s.injected("AppendCheckIn"); err != nil {
		return err
	}

	s.applySwitch(sw, fields)

	checkIn.SwitchID = id
	stamp(&checkIn.BaseModel, s.nextID())
	s.checkIns[checkIn.ID] = *checkIn
	return nil
}

func (s *Store) compareSwitch(id, expectedVersion uint) (models.Switch, error) {
	sw, ok := s.switches[id]
	if !ok {
		return sw, errors.Wrapf(models.ErrNotFound, "switch %d", id)
	}

	if sw.Version != expectedVersion {
		return sw, errors.Wrapf(models.ErrConflict, "switch %d is at version %d, expected %d", id, sw.Version, expectedVersion)
	}
	return sw, nil
}

func (s *Store) applySwitch(sw models.Switch, fields models.SwitchFields) {
	sw.Apply(fields)
	sw.UpdatedAt = time.Now().UTC()
	s.switches[sw.ID] = sw
}

func (s *Store) DeleteSwitch(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("DeleteSwitch"); err != nil {
		return err
	}

	if _, ok := s.switches[id]; !ok {
		return errors.Wrapf(models.ErrNotFound, "switch %d", id)
	}
	s.deleteSwitch(id)
	return nil
}

func (s *Store) DeleteSwitchesForUser(ctx context.Context, userID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("DeleteSwitchesForUser"); err != nil {
		return 0, err
	}

	var deleted int64
	for id, sw := range s.switches {
		if sw.UserID == userID {
			s.deleteSwitch(id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) deleteSwitch(id uint) {
	delete(s.switches, id)
	for key, checkIn := range s.checkIns {
		if checkIn.SwitchID == id {
			delete(s.checkIns, key)
		}
	}
	for key, contact := range s.contacts {
		if contact.SwitchID == id {
			delete(s.contacts, key)
		}
	}
	for key, notification := range s.notifications {
		if notification.SwitchID == id {
			delete(s.notifications, key)
		}
	}
}

// ---------------------------------------------------------------------------------//
// Check-ins & contacts
// --------------------------------------------------------------------------------//

func (s *Store) ListCheckIns(ctx context.Context, switchID uint, limit int) ([]models.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := []models.CheckIn{}
	for _, checkIn := range s.checkIns {
		if checkIn.SwitchID == switchID {
			result = append(result, checkIn)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CheckInTime.Equal(result[j].CheckInTime) {
			return result[i].ID > result[j].ID
		}
		return result[i].CheckInTime.After(result[j].CheckInTime)
	})

	limit = models.PageSize(limit)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateContact(ctx context.Context, contact *models.EmergencyContact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CreateContact"); err != nil {
		return err
	}

	if _, ok := s.switches[contact.SwitchID]; !ok {
		return errors.Wrapf(models.ErrNotFound, "switch %d", contact.SwitchID)
	}

	stamp(&contact.BaseModel, s.nextID())
	s.contacts[contact.ID] = *contact
	return nil
}

func (s *Store) ListActiveContacts(ctx context.Context, switchID uint) ([]models.EmergencyContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ListActiveContacts"); err != nil {
		return nil, err
	}

	result := []models.EmergencyContact{}
	for _, contact := range s.contacts {
		if contact.SwitchID == switchID && contact.IsActive {
			result = append(result, contact)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority == result[j].Priority {
			return result[i].ID < result[j].ID
		}
		return result[i].Priority < result[j].Priority
	})
	return result, nil
}

// ---------------------------------------------------------------------------------//
// Notifications
// --------------------------------------------------------------------------------//

func (s *Store) CreateNotification(ctx context.Context, notification *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CreateNotification"); err != nil {
		return err
	}

	stamp(&notification.BaseModel, s.nextID())
	s.notifications[notification.ID] = *notification
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id uint) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetNotification"); err != nil {
		return nil, err
	}

	notification, ok := s.notifications[id]
	if !ok {
		return nil, errors.Wrapf(models.ErrNotFound, "notification %d", id)
	}
	return &notification, nil
}

func (s *Store) UpdateNotificationStatus(ctx context.Context, id uint, update models.NotificationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("UpdateNotificationStatus"); err != nil {
		return err
	}

	notification, ok := s.notifications[id]
	if !ok {
		return errors.Wrapf(models.ErrNotFound, "notification %d", id)
	}

	notification.Status = update.Status
	notification.Attempts = update.Attempts
	notification.SentAt = update.SentAt
	notification.ErrorMessage = update.ErrorMessage
	notification.UpdatedAt = time.Now().UTC()
	s.notifications[id] = notification
	return nil
}

func (s *Store) FindNotification(ctx context.Context, switchID uint, triggeredAt time.Time, contactID uint) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("FindNotification"); err != nil {
		return nil, err
	}

	episode := models.EpisodeKey(triggeredAt)
	var found *models.Notification
	for _, notification := range s.notifications {
		n := notification
		if n.SwitchID != switchID || n.Episode != episode || n.ContactID != contactID {
			continue
		}
		if n.Type != models.TRIGGER_NOTIFICATION || n.Status == models.FAILED_NOTIFICATION {
			continue
		}
		if found == nil || n.ID > found.ID {
			found = &n
		}
	}

	if found == nil {
		return nil, errors.Wrapf(models.ErrNotFound, "notification for switch %d, contact %d", switchID, contactID)
	}
	return found, nil
}

func (s *Store) ListNotifications(ctx context.Context, switchID uint, page, pageSize int) ([]models.Notification, *models.Paging, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ListNotifications"); err != nil {
		return nil, nil, err
	}

	all := []models.Notification{}
	for _, notification := range s.notifications {
		if notification.SwitchID == switchID {
			all = append(all, notification)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	if page <= 0 {
		page = 1
	}
	pageSize = models.PageSize(pageSize)

	result := []models.Notification{}
	if start := (page - 1) * pageSize; start < len(all) {
		end := start + pageSize
		if end > len(all) {
			end = len(all)
		}
		result = all[start:end]
	}
	return result, models.NewPaging(int64(page), int64(pageSize), int64(len(all))), nil
}

func (s *Store) Stats(ctx context.Context, since time.Time) (*models.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("Stats"); err != nil {
		return nil, err
	}

	stats := models.Stats{TotalSwitches: int64(len(s.switches))}
	for _, sw := range s.switches {
		switch sw.Status {
		case models.SWITCH_ACTIVE:
			if sw.IsEnabled {
				stats.ActiveSwitches++
			}
		case models.SWITCH_TRIGGERED:
			stats.TriggeredSwitches++
		case models.SWITCH_PAUSED:
			stats.PausedSwitches++
		case models.SWITCH_DISABLED:
			stats.DisabledSwitches++
		}
	}

	for _, checkIn := range s.checkIns {
		if !checkIn.CheckInTime.Before(since) {
			stats.RecentCheckIns++
		}
	}

	for _, notification := range s.notifications {
		switch notification.Status {
		case models.PENDING_NOTIFICATION:
			stats.PendingNotifications++
		case models.FAILED_NOTIFICATION:
			stats.FailedNotifications++
		}
	}

	return &stats, nil
}

func cloneSwitch(sw models.Switch) models.Switch {
	fields := sw.Fields()
	sw.LastCheckIn = fields.LastCheckIn
	sw.TriggeredAt = fields.TriggeredAt
	sw.CheckIns = nil
	sw.EmergencyContacts = nil
	sw.Notifications = nil
	return sw
}
