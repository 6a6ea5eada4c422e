package db

import (
	"time"
)

type ChipLog struct {
	ID        int64
	ChipID    string
	Ts        int64
	Payload   []byte
	CreatedAt time.Time
}

type ChipName struct {
	ChipID    string
	Name      string
	UpdatedAt time.Time
}
