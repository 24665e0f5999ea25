package domain

import "time"

// User is a betting account identified by its wallet address.
type User struct {
	ID        string
	Address   string
	Username  string
	Avatar    string
	CreatedAt time.Time
}

// UserStats is the per-user running aggregate, created lazily on the first
// confirmed stake and updated by confirmation and settlement.
type UserStats struct {
	UserID        string
	TotalBets     int
	TotalWins     int
	TotalLosses   int
	TotalAmount   float64
	TotalWinnings float64
	WinRate       float64 // percent, TotalWins/TotalBets*100
	UpdatedAt     time.Time
}
