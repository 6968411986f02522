package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"outpatient-backend/internal/apperr"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/visitflow"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReportDays is the window of the daily reports.
const ReportDays = 30

// OfficeService manages the medicine and lab test catalogues and the
// daily reports.
type OfficeService struct {
	*base
}

// StockResult is the medicine after a stock-in and the batch it received.
type StockResult struct {
	Medicine *models.Medicine      `json:"medicine"`
	Batch    *models.MedicineBatch `json:"batch"`
	Created  bool                  `json:"created"`
}

// AddMedicineStock records a delivery. An unknown name creates the
// medicine; every call adds exactly one batch.
func (s *OfficeService) AddMedicineStock(ctx context.Context, actorID uint64, in models.AddMedicineInput) (*StockResult, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validate(in); err != nil {
		return nil, err
	}

	result := &StockResult{}
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		// 1. Find or create the catalogue entry. A concurrent stock-in of the
		// same new name makes the insert a no-op and the row is re-read.
		medicine := models.Medicine{Name: in.Name}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&medicine)
		if res.Error != nil {
			return apperr.Internal("Could not save medicine", res.Error)
		}
		result.Created = res.RowsAffected == 1
		if !result.Created {
			medicine = models.Medicine{}
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("name = ?", in.Name).First(&medicine).Error; err != nil {
				return apperr.Internal("Could not load medicine", err)
			}
		}

		// 2. Add the batch
		batch := models.MedicineBatch{
			MedicineID:        medicine.ID,
			SupplierInfo:      in.SupplierInfo,
			QuantityReceived:  int(in.Stock),
			QuantityRemaining: int(in.Stock),
			ReceivedAt:        s.now(),
			AddedByID:         actorID,
		}
		if err := tx.Create(&batch).Error; err != nil {
			return apperr.Internal("Could not save batch", err)
		}

		if err := tx.Preload("Batches", func(db *gorm.DB) *gorm.DB {
			return db.Order("received_at asc, id asc")
		}).First(&medicine, medicine.ID).Error; err != nil {
			return apperr.Internal("Could not load medicine", err)
		}
		medicine.SumStock()

		result.Medicine = &medicine
		result.Batch = &batch
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("medicine", in.Name).
		Int("quantity", int(in.Stock)).
		Int("total_stock", result.Medicine.TotalStock).
		Msg("stock added")
	s.publish(ctx, visitflow.TopicInventory, visitflow.TopicPharmacyQueue)
	return result, nil
}

// ListMedicines returns the catalogue by name with current total stock.
func (s *OfficeService) ListMedicines(ctx context.Context) ([]models.Medicine, error) {
	var medicines []models.Medicine
	if err := s.db.WithContext(ctx).
		Preload("Batches", func(db *gorm.DB) *gorm.DB {
			return db.Order("received_at asc, id asc")
		}).
		Order("name asc").
		Find(&medicines).Error; err != nil {
		return nil, apperr.Internal("Could not load medicines", err)
	}
	for i := range medicines {
		medicines[i].SumStock()
	}
	return medicines, nil
}

// AddLabTest adds a test to the catalogue. Names are unique.
func (s *OfficeService) AddLabTest(ctx context.Context, in models.AddLabTestInput) (*models.LabTest, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validate(in); err != nil {
		return nil, err
	}

	test := models.LabTest{Name: in.Name}
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		var existing models.LabTest
		err := tx.Where("name = ?", in.Name).First(&existing).Error
		if err == nil {
			return apperr.Conflict("Lab test "+in.Name+" already exists", nil)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Internal("Could not check lab test", err)
		}
		if err := tx.Create(&test).Error; err != nil {
			return apperr.Internal("Could not save lab test", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, visitflow.TopicLabTestList)
	return &test, nil
}

func (s *OfficeService) ListLabTests(ctx context.Context) ([]models.LabTest, error) {
	var tests []models.LabTest
	if err := s.db.WithContext(ctx).Order("name asc").Find(&tests).Error; err != nil {
		return nil, apperr.Internal("Could not load lab tests", err)
	}
	return tests, nil
}

// DailyCount is one day of a report. Date is a UTC calendar day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// DailyVisits counts visits opened per day.
func (s *OfficeService) DailyVisits(ctx context.Context) ([]DailyCount, error) {
	var visits []models.Visit
	if err := s.db.WithContext(ctx).
		Select("id", "registered_at").
		Where("registered_at >= ?", s.reportStart()).
		Find(&visits).Error; err != nil {
		return nil, apperr.Internal("Could not load visit report", err)
	}

	counts := make(map[string]int)
	for _, v := range visits {
		counts[day(v.RegisteredAt)]++
	}
	return series(counts), nil
}

// DailyMedicines sums units dispensed per day.
func (s *OfficeService) DailyMedicines(ctx context.Context) ([]DailyCount, error) {
	var lines []models.PrescribedMedicine
	if err := s.db.WithContext(ctx).
		Select("id", "quantity", "dispensed_at").
		Where("dispensed = ? AND dispensed_at >= ?", true, s.reportStart()).
		Find(&lines).Error; err != nil {
		return nil, apperr.Internal("Could not load medicine report", err)
	}

	counts := make(map[string]int)
	for _, l := range lines {
		if l.DispensedAt != nil {
			counts[day(*l.DispensedAt)] += l.Quantity
		}
	}
	return series(counts), nil
}

// DailyLabTests counts lab tests ordered per day.
func (s *OfficeService) DailyLabTests(ctx context.Context) ([]DailyCount, error) {
	var ordered []models.OrderedLabTest
	if err := s.db.WithContext(ctx).
		Select("id", "ordered_at").
		Where("ordered_at >= ?", s.reportStart()).
		Find(&ordered).Error; err != nil {
		return nil, apperr.Internal("Could not load lab test report", err)
	}

	counts := make(map[string]int)
	for _, o := range ordered {
		counts[day(o.OrderedAt)]++
	}
	return series(counts), nil
}

// reportStart is midnight UTC of the first day in the report window.
func (s *OfficeService) reportStart() time.Time {
	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -(ReportDays - 1))
}

// series returns only the days that have activity, oldest first.
func series(counts map[string]int) []DailyCount {
	out := make([]DailyCount, 0, len(counts))
	for d, n := range counts {
		out = append(out, DailyCount{Date: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
