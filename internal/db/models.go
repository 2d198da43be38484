package db

// Registration is one node known to the rendezvous server. Host and port
// together are unique.
type Registration struct {
	ID           uint   `gorm:"primaryKey"`
	Host         string `gorm:"not null;uniqueIndex:idx_registration_addr"`
	Port         int    `gorm:"not null;uniqueIndex:idx_registration_addr"`
	Username     string `gorm:"not null"`
	RegisteredAt int64
}
