// Package db selects the concrete database driver from the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/vaanihq/vaani/internal/profile"
	"github.com/vaanihq/vaani/store"
	"github.com/vaanihq/vaani/store/db/postgres"
	"github.com/vaanihq/vaani/store/db/sqlite"
)

// NewDBDriver creates a new database driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
}
