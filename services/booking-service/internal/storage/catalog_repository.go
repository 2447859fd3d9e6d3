package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

// CatalogRepository reads the business settings, services and calendars
// owned by the business service. Money columns are read as text and parsed
// with decimal so no precision is lost.
type CatalogRepository struct {
	pool *db.Pool
}

func NewCatalogRepository(pool *db.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) Business(ctx context.Context, businessID string) (model.Business, error) {
	if !validID(businessID) {
		return model.Business{}, &model.NotFoundError{Kind: "business", ID: businessID}
	}
	var b model.Business
	var pct string
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, timezone, default_commission_percentage::text, slot_step_minutes
		FROM businesses
		WHERE id = $1
	`, businessID).Scan(&b.ID, &b.Timezone, &pct, &b.SlotStepMinutes)
	if err != nil {
		return model.Business{}, notFound(err, "business", businessID)
	}
	if b.DefaultCommissionPercentage, err = decimal.NewFromString(pct); err != nil {
		return model.Business{}, fmt.Errorf("business %s default commission: %w", businessID, err)
	}
	return b, nil
}

func (r *CatalogRepository) Service(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	if !validID(serviceID) {
		return model.Service{}, &model.NotFoundError{Kind: "service", ID: serviceID}
	}
	var s model.Service
	var price *string
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price::text, is_active
		FROM services
		WHERE id = $1
	`, serviceID).Scan(&s.ID, &s.BusinessID, &s.Name, &s.DurationMinutes, &price, &s.IsActive)
	if err != nil {
		return model.Service{}, notFound(err, "service", serviceID)
	}
	if price != nil {
		s.Price = model.ParsePrice(*price)
	}
	return s, nil
}

type breakJSON struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func decodeBreaks(raw []byte) ([]model.MinuteRange, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var in []breakJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	out := make([]model.MinuteRange, 0, len(in))
	for _, b := range in {
		out = append(out, model.MinuteRange{Start: b.Start, End: b.End})
	}
	return out, nil
}

// OperatingCalendar returns the weekly rules plus the special days dated in
// [fromDate, toDate].
func (r *CatalogRepository) OperatingCalendar(ctx context.Context, businessID, fromDate, toDate string) ([]model.OperatingHours, []model.SpecialDay, error) {
	if !validID(businessID) {
		return nil, nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, is_open, open_minute, close_minute, breaks
		FROM operating_hours
		WHERE business_id = $1
		ORDER BY weekday
	`, businessID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var hours []model.OperatingHours
	for rows.Next() {
		var h model.OperatingHours
		var weekday int16
		var breaks []byte
		if err := rows.Scan(&weekday, &h.IsOpen, &h.OpenMinute, &h.CloseMinute, &breaks); err != nil {
			return nil, nil, err
		}
		h.Weekday = time.Weekday(weekday)
		if h.Breaks, err = decodeBreaks(breaks); err != nil {
			return nil, nil, fmt.Errorf("decode breaks for weekday %d: %w", weekday, err)
		}
		hours = append(hours, h)
	}
	if rows.Err() != nil {
		return nil, nil, rows.Err()
	}

	specialRows, err := r.pool.Query(ctx, `
		SELECT to_char(day, 'YYYY-MM-DD'), is_closed, COALESCE(open_minute, 0), COALESCE(close_minute, 0), breaks
		FROM special_days
		WHERE business_id = $1 AND day BETWEEN $2::date AND $3::date
		ORDER BY day
	`, businessID, fromDate, toDate)
	if err != nil {
		return nil, nil, err
	}
	defer specialRows.Close()

	var special []model.SpecialDay
	for specialRows.Next() {
		var sd model.SpecialDay
		var breaks []byte
		if err := specialRows.Scan(&sd.Date, &sd.IsClosed, &sd.OpenMinute, &sd.CloseMinute, &breaks); err != nil {
			return nil, nil, err
		}
		if sd.Breaks, err = decodeBreaks(breaks); err != nil {
			return nil, nil, fmt.Errorf("decode breaks for %s: %w", sd.Date, err)
		}
		special = append(special, sd)
	}
	if specialRows.Err() != nil {
		return nil, nil, specialRows.Err()
	}
	return hours, special, nil
}
