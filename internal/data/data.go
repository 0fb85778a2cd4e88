package data

import (
	"fmt"

	"github.com/winlogon/minechat/internal/core"
)

// LinkCode is an unredeemed one-time code binding a Minecraft identity to a
// future external client. ExpiresAt is milliseconds since the Unix epoch,
// matching the on-disk format.
type LinkCode struct {
	Code              string `json:"code" gorm:"primaryKey"`
	MinecraftUUID     string `json:"minecraftUuid"`
	MinecraftUsername string `json:"minecraftUsername"`
	ExpiresAt         int64  `json:"expiresAt"`
}

// Client is the durable binding between an external client identifier and a
// Minecraft identity.
type Client struct {
	ClientUUID        string `json:"clientUuid" gorm:"primaryKey"`
	MinecraftUUID     string `json:"minecraftUuid"`
	MinecraftUsername string `json:"minecraftUsername"`
}

// Store is the persistence boundary for the link code and client registries.
// Save operations replace the full stored set with the provided one.
type Store interface {
	LoadLinkCodes() ([]LinkCode, error)
	SaveLinkCodes(codes []LinkCode) error
	LoadClients() ([]Client, error)
	SaveClients(clients []Client) error
	Close() error
}

// Open returns the Store implementation selected by database.engine.
func Open(cfg *core.Config) (Store, error) {
	switch cfg.Database.Engine {
	case "json":
		return NewJSONStore(cfg.Database.DataDir)
	case "sqlite", "postgres":
		return NewSQLStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", cfg.Database.Engine)
	}
}
