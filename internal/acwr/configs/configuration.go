package configs

import (
	"strings"
	"time"

	"github.com/robkhoughton/trainingmonkey/internal/acwr/acwrerr"
	"github.com/robkhoughton/trainingmonkey/internal/acwr/calc"
)

const (
	DefaultName              = "default"
	DefaultChronicPeriodDays = 42
	DefaultDecayRate         = 0.05
	maxNameLength            = 100
)

type Configuration struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	ChronicPeriodDays int       `json:"chronicPeriodDays"`
	DecayRate         float64   `json:"decayRate"`
	IsActive          bool      `json:"isActive"`
	IsDefault         bool      `json:"isDefault"`
	Notes             string    `json:"notes"`
	CreatedBy         string    `json:"createdBy"`
	CreatedAt         time.Time `json:"createdAt"`
}

func (c *Configuration) Params() calc.Params {
	return calc.Params{
		ChronicPeriodDays: c.ChronicPeriodDays,
		DecayRate:         c.DecayRate,
	}
}

type NewConfiguration struct {
	Name              string  `json:"name"`
	ChronicPeriodDays int     `json:"chronicPeriodDays"`
	DecayRate         float64 `json:"decayRate"`
	Notes             string  `json:"notes"`
	CreatedBy         string  `json:"createdBy"`
}

// Normalize trims the name and validates all parameters.
func (n *NewConfiguration) Normalize() error {
	n.Name = strings.TrimSpace(n.Name)
	if n.Name == "" {
		return acwrerr.NewValidation("name", "must not be empty")
	}
	if len(n.Name) > maxNameLength {
		return acwrerr.NewValidation("name", "must be at most %d characters", maxNameLength)
	}
	return calc.Params{
		ChronicPeriodDays: n.ChronicPeriodDays,
		DecayRate:         n.DecayRate,
	}.Validate()
}

func DefaultConfiguration() NewConfiguration {
	return NewConfiguration{
		Name:              DefaultName,
		ChronicPeriodDays: DefaultChronicPeriodDays,
		DecayRate:         DefaultDecayRate,
		Notes:             "system default",
		CreatedBy:         "system",
	}
}

// Assignment links a user to a configuration. At most one per user is active.
type Assignment struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"userId"`
	ConfigurationID int64      `json:"configurationId"`
	AssignedAt      time.Time  `json:"assignedAt"`
	AssignedBy      string     `json:"assignedBy"`
	Reason          string     `json:"reason"`
	IsActive        bool       `json:"isActive"`
	DeactivatedAt   *time.Time `json:"deactivatedAt,omitempty"`
}
