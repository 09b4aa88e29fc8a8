// Package database provides a GORM-backed run.Store with connection pooling,
// health checks and transactions.
//
// # Drivers
//
// The driver is chosen by Config.Driver: "sqlite" (gorm.io/driver/sqlite) or
// "mysql" (gorm.io/driver/mysql). MySQL DSNs must set parseTime=true.
//
//	comp := database.NewComponent(cfg.Database, log).WithAutoMigrate(database.Models()...)
//	registry.Register(comp)
//	...
//	store := database.NewRunStore(comp.DB())
//
// # Schema
//
// Runs live in the runs table and outcomes in run_outcomes, one row per
// appended outcome. Outcome rows use an auto-increment key so reads return
// them in append order.
//
// # Optional Component
//
// The component respects the Enabled flag. When disabled, Start returns
// immediately and Health reports the component as disabled.
package database
