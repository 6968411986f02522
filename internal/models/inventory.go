package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Medicine is a catalogue entry; its stock lives in batches.
type Medicine struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;size:100;not null" json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Batches []MedicineBatch `gorm:"foreignKey:MedicineID" json:"batches,omitempty"`

	// TotalStock is the sum of the batch remainders, filled in by queries.
	TotalStock int `gorm:"-" json:"totalStock"`
}

// MedicineBatch is one stock-in. Dispensing only ever decreases
// QuantityRemaining.
type MedicineBatch struct {
	ID                uint64    `gorm:"primaryKey" json:"id"`
	MedicineID        uint64    `gorm:"not null;index" json:"medicine_id"`
	SupplierInfo      string    `gorm:"size:255" json:"supplier_info"`
	QuantityReceived  int       `gorm:"not null" json:"quantity_received"`
	QuantityRemaining int       `gorm:"not null" json:"quantity_remaining"`
	ReceivedAt        time.Time `gorm:"not null;index" json:"received_at"`
	AddedByID         uint64    `json:"added_by_id"`
}

// SumStock fills TotalStock from the loaded batches.
func (m *Medicine) SumStock() {
	m.TotalStock = 0
	for _, b := range m.Batches {
		m.TotalStock += b.QuantityRemaining
	}
}

// AddMedicineInput is the office stock-in form. An existing name adds a
// new batch to that medicine.
type AddMedicineInput struct {
	Name         string   `json:"name" binding:"required,max=100"`
	SupplierInfo string   `json:"supplier_info" binding:"max=255"`
	Stock        Quantity `json:"stock" binding:"required,min=1,max=1000000"`
}

// Quantity is a count that also decodes from a numeric string, as posted by
// HTML form fields.
type Quantity int

func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(bytes.TrimSpace(data), `"`)
	if len(data) == 0 || string(data) == "null" {
		*q = 0
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("quantity must be a whole number: %w", err)
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return fmt.Errorf("quantity must be a whole number: %w", err)
	}
	*q = Quantity(v)
	return nil
}

type AddLabTestInput struct {
	Name string `json:"name" binding:"required,max=100"`
}
