package state

import "time"

type callRow struct {
	ChatID    int64     `gorm:"primaryKey;autoIncrement:false"`
	Active    bool      `gorm:"not null;index"`
	Paused    bool      `gorm:"not null"`
	Assistant string    `gorm:"size:191"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (callRow) TableName() string {
	return "calls"
}

func (r callRow) toRecord() CallRecord {
	return CallRecord{
		ChatID:    r.ChatID,
		Active:    r.Active,
		Paused:    r.Paused,
		Assistant: r.Assistant,
		UpdatedAt: r.UpdatedAt,
	}
}
