package model

// SDKClient is an API key allowed to open SDK streams for one env.
type SDKClient struct {
	ID     uint64 `gorm:"primaryKey"`
	AppID  string `gorm:"size:64;not null"`
	APIKey string `gorm:"size:64;not null;index"`
	Env    string `gorm:"size:32;default:dev"`
	Status int    `gorm:"default:1"`
}

const SDKClientActive = 1
