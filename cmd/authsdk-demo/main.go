// Command authsdk-demo serves the authsdk endpoints over HTTP and guards a
// gRPC health service with the same tokens.
//
// Configuration comes from the environment, optionally seeded from a .env
// file:
//
//	AUTH_TYPE=MANUAL
//	AUTH_JWT_SECRET=change-me
//	AUTH_TOKEN_EXPIRY=1d
//	AUTH_REQUIRE_REFRESH_TOKEN=true
//	AUTH_STORE_DRIVER=sqlite
//	AUTH_STORE_PATH=auth.db
//	HTTP_ADDR=:8080
//	GRPC_ADDR=:9090
//	AUTH_MIN_PASSWORD_LENGTH=10
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	oa "github.com/panyam/authsdk"
	authgrpc "github.com/panyam/authsdk/grpc"
	"github.com/panyam/authsdk/stores"
)

type serverConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr string `env:"GRPC_ADDR"`

	// zero leaves registration at the baseline checks
	MinPasswordLength int `env:"AUTH_MIN_PASSWORD_LENGTH"`
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Could not read .env", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("authsdk-demo failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var srvCfg serverConfig
	if err := env.Parse(&srvCfg); err != nil {
		return err
	}
	authCfg, err := oa.LoadConfigFromEnv("AUTH_")
	if err != nil {
		return err
	}
	storeCfg, err := stores.LoadDriverConfig(stores.DefaultEnvPrefix)
	if err != nil {
		return err
	}

	models, closer, err := stores.Open(ctx, storeCfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	var opts []oa.ManualOption
	if srvCfg.MinPasswordLength > 0 {
		policy := oa.DefaultSignupPolicy()
		policy.MinPasswordLength = srvCfg.MinPasswordLength
		opts = append(opts, oa.WithSignupPolicy(policy))
	}
	sdk := oa.New(authCfg, models, opts...)

	router := mux.NewRouter()
	sdk.Mount(router.PathPrefix("/auth").Subrouter())
	router.Handle("/api/hello", sdk.Middleware().RequireUser(http.HandlerFunc(hello))).Methods(http.MethodGet)

	httpServer := &http.Server{Addr: srvCfg.HTTPAddr, Handler: router}
	errc := make(chan error, 2)
	go func() {
		slog.Info("HTTP listening", "addr", srvCfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	var grpcServer *grpc.Server
	if srvCfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", srvCfg.GRPCAddr)
		if err != nil {
			return err
		}
		config := authgrpc.NewPublicMethodsConfig(sdk.Authenticator, "/grpc.health.v1.Health/Check")
		grpcServer = grpc.NewServer(
			grpc.UnaryInterceptor(authgrpc.UnaryAuthInterceptor(config)),
			grpc.StreamInterceptor(authgrpc.StreamAuthInterceptor(config)),
		)
		healthpb.RegisterHealthServer(grpcServer, health.NewServer())
		go func() {
			slog.Info("gRPC listening", "addr", srvCfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				errc <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	return httpServer.Shutdown(shutdownCtx)
}

func hello(w http.ResponseWriter, r *http.Request) {
	user := oa.UserFromContext(r.Context())
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("hello " + user.ID + "\n"))
}
