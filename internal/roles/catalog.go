package roles

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/user/grimoire/internal/types"
)

// Catalog is the team and role data loaded from a script file
type Catalog struct {
	Teams []Team
	Roles []Definition
}

type catalogFile struct {
	Teams []Team       `yaml:"teams"`
	Roles []roleRecord `yaml:"roles"`
}

type roleRecord struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name"`
	Team           string         `yaml:"team"`
	NightOrder     *int           `yaml:"nightOrder"`
	Wake           string         `yaml:"wake"`
	InitialEffects []effectRecord `yaml:"initialEffects"`
	NightSteps     []NightStep    `yaml:"nightSteps"`
}

type effectRecord struct {
	Type      string         `yaml:"type"`
	Data      map[string]any `yaml:"data"`
	ExpiresAt string         `yaml:"expiresAt"`
}

// LoadCatalog parses catalog YAML. Wake expressions are compiled with wake;
// a role with an expression and no compiler is an error.
func LoadCatalog(data []byte, wake *WakeCompiler) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	catalog := &Catalog{Teams: file.Teams}
	for _, record := range file.Roles {
		def := Definition{
			ID:         record.ID,
			Name:       record.Name,
			Team:       record.Team,
			NightOrder: record.NightOrder,
			NightSteps: record.NightSteps,
		}
		if def.Name == "" {
			def.Name = def.ID
		}
		if record.Wake != "" {
			if wake == nil {
				return nil, fmt.Errorf("role %s: wake expression without a compiler", record.ID)
			}
			predicate, err := wake.Compile(record.Wake)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", record.ID, err)
			}
			def.ShouldWake = predicate
		}
		for _, effect := range record.InitialEffects {
			expires := types.Expiry(effect.ExpiresAt)
			if expires == "" {
				expires = types.ExpiresNever
			}
			def.InitialEffects = append(def.InitialEffects, types.EffectInstance{
				Type:      effect.Type,
				Data:      types.Payload(effect.Data),
				ExpiresAt: expires,
			})
		}
		catalog.Roles = append(catalog.Roles, def)
	}
	return catalog, nil
}

// LoadCatalogFile reads and parses a catalog YAML file
func LoadCatalogFile(path string, wake *WakeCompiler) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return LoadCatalog(data, wake)
}

// Registry builds a role registry from the catalog
func (c *Catalog) Registry() (*Registry, error) {
	return Build(c.Teams, c.Roles)
}
