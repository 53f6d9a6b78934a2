package models

import (
	"time"
)

type Event struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	ProducerID string    `db:"producer_id" json:"producer_id"`
	Created    time.Time `db:"created" json:"created"`
}

type Seller struct {
	ID         string `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	Email      string `db:"email" json:"email"`
	ProducerID string `db:"producer_id" json:"producer_id"`
	QRKey      string `db:"qr_key" json:"qr_key"`
	IsDefault  bool   `db:"is_default" json:"is_default"`
}
