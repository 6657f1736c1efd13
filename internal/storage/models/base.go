// internal/storage/models/base.go
package models

import "time"

// Timestamps заменяет gorm.Model для таблиц со строковым ключом
type Timestamps struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}
