// Package services runs every outpatient operation inside one database
// transaction. Visit mutations lock the visit row, re-check its status
// against visitflow and update it with a compare-and-set, so each action
// applies at most once per visit. Invalidation topics are published only
// after commit.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/metrics"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/realtime"
	"outpatient-backend/internal/validation"
	"outpatient-backend/internal/visitflow"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options tunes the services. Zero values fall back to defaults.
type Options struct {
	JWTSecret string
	JWTTTL    time.Duration
	ResetTTL  time.Duration
	Now       func() time.Time
}

// Services bundles the department services over one database.
type Services struct {
	Auth         *AuthService
	Staff        *StaffService
	Registration *RegistrationService
	Visits       *VisitService
	Lab          *LabService
	Pharmacy     *PharmacyService
	Office       *OfficeService
}

// New wires every service. A nil notifier discards events.
func New(db *gorm.DB, notifier realtime.Notifier, opts Options) *Services {
	if notifier == nil {
		notifier = realtime.Nop{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.JWTTTL <= 0 {
		opts.JWTTTL = 12 * time.Hour
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = time.Hour
	}

	b := &base{db: db, notifier: notifier, now: opts.Now}
	return &Services{
		Auth:         &AuthService{base: b, secret: opts.JWTSecret, ttl: opts.JWTTTL, resetTTL: opts.ResetTTL},
		Staff:        &StaffService{base: b},
		Registration: &RegistrationService{base: b},
		Visits:       &VisitService{base: b},
		Lab:          &LabService{base: b},
		Pharmacy:     &PharmacyService{base: b},
		Office:       &OfficeService{base: b},
	}
}

type base struct {
	db       *gorm.DB
	notifier realtime.Notifier
	now      func() time.Time
}

// inTx runs fn in a transaction, rolling back on error or panic.
func (b *base) inTx(ctx context.Context, fn func(tx *gorm.DB) error) (err error) {
	tx := b.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return apperr.Internal("Could not start transaction", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err = tx.Commit().Error; err != nil {
		return apperr.Internal("Could not save changes", err)
	}
	return nil
}

// publish sends topics once the change they describe is committed.
func (b *base) publish(ctx context.Context, topics ...visitflow.Topic) {
	if len(topics) == 0 {
		return
	}
	b.notifier.Notify(context.WithoutCancel(ctx), topics...)
}

// validate runs the shared field rules on an input struct.
func validate(in any) error {
	if fields := validation.Struct(in); len(fields) > 0 {
		return apperr.Validation("Please correct the highlighted fields", fields)
	}
	return nil
}

// lockVisit loads a visit with a row lock held until the transaction ends.
func lockVisit(tx *gorm.DB, id uint64) (*models.Visit, error) {
	var visit models.Visit
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&visit, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("Visit not found")
	}
	if err != nil {
		return nil, apperr.Internal("Could not load visit", err)
	}
	return &visit, nil
}

// loadFacts counts the work still attached to a visit.
func loadFacts(tx *gorm.DB, visitID uint64) (visitflow.Facts, error) {
	var pending, undispensed int64
	if err := tx.Model(&models.OrderedLabTest{}).
		Where("visit_id = ? AND report_url IS NULL", visitID).
		Count(&pending).Error; err != nil {
		return visitflow.Facts{}, apperr.Internal("Could not count lab tests", err)
	}
	if err := tx.Model(&models.PrescribedMedicine{}).
		Where("visit_id = ? AND dispensed = ?", visitID, false).
		Count(&undispensed).Error; err != nil {
		return visitflow.Facts{}, apperr.Internal("Could not count medicines", err)
	}
	return visitflow.Facts{PendingTests: int(pending), Undispensed: int(undispensed)}, nil
}

// checkAllowed rejects action against the visit's current status before
// anything is written.
func checkAllowed(action visitflow.Action, visit *models.Visit) error {
	if !visitflow.Allowed(action, visit.Status) {
		err := &visitflow.TransitionError{Action: action, From: visit.Status}
		return apperr.Conflict(fmt.Sprintf("Visit is %s and cannot be updated this way", visit.Status.Label()), err)
	}
	return nil
}

// change describes one visit transition.
type change struct {
	action  visitflow.Action
	actorID uint64
	updates map[string]interface{}
	details map[string]interface{}
}

// transition moves visit to the status visitflow computes from the
// post-write facts. The update is conditional on the status read under the
// lock, so a concurrent writer that slipped past it is rejected rather
// than overwritten.
func (b *base) transition(tx *gorm.DB, visit *models.Visit, c change) (visitflow.Status, error) {
	facts, err := loadFacts(tx, visit.ID)
	if err != nil {
		return visit.Status, err
	}

	from := visit.Status
	to, err := visitflow.Next(c.action, from, facts)
	if err != nil {
		return from, apperr.Conflict("Visit cannot move on yet", err)
	}
	if err := visitflow.Validate(to, facts); err != nil {
		return from, apperr.Internal("Visit would become inconsistent", err)
	}

	updates := map[string]interface{}{"status": to, "updated_at": b.now()}
	for k, v := range c.updates {
		updates[k] = v
	}
	if to == visitflow.StatusCompleted && from != visitflow.StatusCompleted {
		updates["completed_at"] = b.now()
	}

	res := tx.Model(&models.Visit{}).
		Where("id = ? AND status = ?", visit.ID, from).
		Updates(updates)
	if res.Error != nil {
		return from, apperr.Internal("Could not update visit", res.Error)
	}
	if res.RowsAffected != 1 {
		return from, apperr.Conflict("Visit was changed by someone else, refresh and try again", visitflow.ErrIllegalTransition)
	}

	if err := recordEvent(tx, visit.ID, c.action, from, to, c.actorID, c.details); err != nil {
		return from, err
	}

	visit.Status = to
	return to, nil
}

func recordEvent(tx *gorm.DB, visitID uint64, action visitflow.Action, from, to visitflow.Status, actorID uint64, details map[string]interface{}) error {
	event := models.VisitEvent{
		VisitID:    visitID,
		Action:     action,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actorID,
	}
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			return apperr.Internal("Could not encode audit details", err)
		}
		event.Details = datatypes.JSON(raw)
	}
	if err := tx.Create(&event).Error; err != nil {
		return apperr.Internal("Could not record visit event", err)
	}
	return nil
}

// committed records metrics and publishes the topics of a finished transition.
func (b *base) committed(ctx context.Context, visitID uint64, action visitflow.Action, from, to visitflow.Status, extra ...visitflow.Topic) {
	metrics.RecordTransition(string(action), string(from), string(to))
	log.Info().
		Uint64("visit_id", visitID).
		Str("action", string(action)).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("visit transition")

	b.publish(ctx, append(visitflow.TopicsFor(from, to), extra...)...)
}
