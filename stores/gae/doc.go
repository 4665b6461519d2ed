//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the authsdk
// stores. It is designed for deployment on Google Cloud Platform and supports
// multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - AuthUser: user records keyed by user id
//   - AuthEmail: email records keyed by address
//   - AuthSecret: password hashes and refresh tokens keyed by user id
//   - AuthUniqueKey: reservations that keep usernames and emails unique
//
// Creates and updates run in a transaction that checks and writes the
// reservations together with the record.
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	models := gae.NewModels(client, "tenant-123", true, true)
package gae
