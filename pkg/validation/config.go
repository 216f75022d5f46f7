package validation

import (
	"time"

	"github.com/quorumsec/warden/pkg/entity"
)

// DefaultMaxValidationDepth bounds graph traversal when no override is set
const DefaultMaxValidationDepth = 50

// EntitySettings holds per-entity-type validation overrides
type EntitySettings struct {
	// CascadeValidation validates direct children alongside the entity
	CascadeValidation bool `yaml:"cascade_validation" json:"cascade_validation"`
	// EnforceBusinessRules toggles the business-rule stage
	EnforceBusinessRules bool `yaml:"enforce_business_rules" json:"enforce_business_rules"`
	// EnforceConstraints toggles basic field-level constraint checks
	EnforceConstraints bool `yaml:"enforce_constraints" json:"enforce_constraints"`
	// SkippedRules lists business rule names excluded for this type.
	// Structural invariants can never be skipped.
	SkippedRules []string `yaml:"skipped_rules" json:"skipped_rules,omitempty"`
}

// DefaultEntitySettings returns settings with every stage enabled
func DefaultEntitySettings() EntitySettings {
	return EntitySettings{
		CascadeValidation:    false,
		EnforceBusinessRules: true,
		EnforceConstraints:   true,
	}
}

// IsRuleSkipped reports whether the named business rule is excluded
func (s EntitySettings) IsRuleSkipped(name string) bool {
	for _, skipped := range s.SkippedRules {
		if skipped == name {
			return true
		}
	}
	return false
}

// Configuration holds process-wide engine settings. It is treated as
// immutable once handed to the orchestrator; updates go through
// Orchestrator.UpdateConfiguration, which installs a merged copy.
type Configuration struct {
	// StrictMode enables optional invariants such as "resource must be
	// active" and "group must not be permanently empty"
	StrictMode bool `yaml:"strict_mode" json:"strict_mode"`
	// MaxValidationDepth bounds recursive graph traversal
	MaxValidationDepth int `yaml:"max_validation_depth" json:"max_validation_depth"`
	// EnableCaching toggles memoization of expensive checks
	EnableCaching bool `yaml:"enable_caching" json:"enable_caching"`
	// CacheTTL is the lifetime of memoized uniqueness checks
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	// EntitySettings holds per-type overrides
	EntitySettings map[entity.Type]EntitySettings `yaml:"entity_settings" json:"entity_settings,omitempty"`
}

// DefaultConfiguration returns the engine defaults
func DefaultConfiguration() *Configuration {
	return &Configuration{
		StrictMode:         false,
		MaxValidationDepth: DefaultMaxValidationDepth,
		EnableCaching:      true,
		CacheTTL:           5 * time.Minute,
		EntitySettings:     make(map[entity.Type]EntitySettings),
	}
}

// SettingsFor returns the effective settings for an entity type
func (c *Configuration) SettingsFor(typ entity.Type) EntitySettings {
	if s, ok := c.EntitySettings[typ]; ok {
		return s
	}
	return DefaultEntitySettings()
}

// merge folds an update into a copy of the configuration. Scalar fields
// come from the update; per-type settings merge key by key rather than
// replacing the whole map, so overrides for unmentioned types survive.
func (c *Configuration) merge(update *Configuration) *Configuration {
	merged := &Configuration{
		StrictMode:         update.StrictMode,
		MaxValidationDepth: update.MaxValidationDepth,
		EnableCaching:      update.EnableCaching,
		CacheTTL:           update.CacheTTL,
		EntitySettings:     make(map[entity.Type]EntitySettings, len(c.EntitySettings)+len(update.EntitySettings)),
	}
	if merged.MaxValidationDepth <= 0 {
		merged.MaxValidationDepth = DefaultMaxValidationDepth
	}
	if merged.CacheTTL <= 0 {
		merged.CacheTTL = 5 * time.Minute
	}
	for typ, s := range c.EntitySettings {
		merged.EntitySettings[typ] = s
	}
	for typ, s := range update.EntitySettings {
		merged.EntitySettings[typ] = s
	}
	return merged
}
