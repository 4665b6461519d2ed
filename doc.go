// Package authsdk provides pluggable username/email and password
// authentication with signed bearer tokens.
//
// The host application supplies a Config and the stores that hold its
// records. authsdk registers users, checks credentials and issues access
// (and optionally refresh) tokens, and resolves those tokens back to users
// for HTTP and gRPC handlers.
//
// # Records
//
// User: the account itself. Identified by an opaque id and, optionally, a
// unique username and a unique email. Any extra registration fields are kept
// on the record.
//
// EmailRecord: an email address tied to a user, with a verification flag.
// Only written when an email store is configured.
//
// SecretRecord: a second copy of the password hash plus the latest refresh
// token. Only written when a secret store is configured. When present, login
// checks both hashes.
//
// # Stores
//
// Every record kind is kept behind Store[T], which only needs FindOne,
// Create and UpdateOne. Backends live under stores/: memory, fs (JSON files),
// gorm (SQL databases), redis and gae (Cloud Datastore). stores.Open picks
// one from configuration.
//
// # Basic Usage
//
//	// emails on, no secret store: the refresh token goes back to the caller
//	models := memory.NewModels(true, false)
//	sdk := authsdk.New(&authsdk.Config{
//	    JWTSecret:           os.Getenv("JWT_SECRET"),
//	    RequireRefreshToken: true,
//	}, models)
//
//	user, err := sdk.Register(ctx, authsdk.RegisterInput{Username: "alice", Password: "pw"})
//	res, err := sdk.Login(ctx, authsdk.LoginInput{Username: "alice", Password: "pw"})
//	// res.Token, res.RefreshToken
//
// With a secret store (NewModels(true, true)) the refresh token is saved on
// the user's SecretRecord instead and res.RefreshToken is empty.
//
// Serve the JSON endpoints and guard application routes:
//
//	r := mux.NewRouter()
//	sdk.Mount(r.PathPrefix("/auth").Subrouter())
//	r.Handle("/api/profile", sdk.Middleware().RequireUser(profileHandler))
//
// # Errors
//
// Failures carry a kind (ValidationError, UnauthorizedError,
// ConfigurationError, InvalidTokenError) that maps to an HTTP status; test
// for them with errors.Is against ErrValidation and friends. Login never
// reveals which credential was wrong.
package authsdk
