//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the authsdk store
// interface. It supports any database that GORM supports (PostgreSQL,
// MySQL, SQLite, etc.) and is suitable for production deployments that want
// the database to enforce username and email uniqueness.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - users: user records, unique username and email, extra profile fields as JSON
//   - user_emails: email records with their verification flag
//   - user_secrets: password hashes and the latest refresh token per user
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	_ = gormstore.AutoMigrate(db)
//	models := gormstore.NewModels(db, true, true)
package gorm
