package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_core_tables.sql
var createCoreTablesSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createCoreTablesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
				DROP TABLE IF EXISTS generation_tasks;
				DROP TABLE IF EXISTS user_answers;
				DROP TABLE IF EXISTS lab_sessions;
				DROP TABLE IF EXISTS question_options;
				DROP TABLE IF EXISTS questions;
				DROP TABLE IF EXISTS labs;
				DROP TABLE IF EXISTS users`)
			return err
		},
	)
}
