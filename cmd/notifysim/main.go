// Command notifysim runs an in-memory warranty portal backend for local
// development. It seeds a user's feed, prints a session token, and
// publishes a new notification on a fixed interval.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nhle/warranty-notify/internal/fakeapi"
	"github.com/nhle/warranty-notify/internal/model"
)

var sampleTypes = []model.Type{
	model.TypeWarranty,
	model.TypeGrievance,
	model.TypeOrder,
	model.TypeScheme,
	model.TypeProduct,
	model.TypePOSM,
	model.TypeAlert,
}

func main() {
	_ = godotenv.Load()

	addr := pflag.String("addr", "127.0.0.1:3000", "listen address")
	user := pflag.String("user", "1", "user id to seed and publish for")
	seed := pflag.Int("seed", 5, "notifications stored before start")
	every := pflag.Duration("every", 15*time.Second, "publish interval (0 disables)")
	secret := pflag.String("secret", "notifysim-secret", "HS256 signing secret")
	noWebsocket := pflag.Bool("no-websocket", false, "refuse websocket upgrades")
	stringMetadata := pflag.Bool("string-metadata", false, "encode metadata as a JSON string")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	opts := []fakeapi.Option{fakeapi.WithSecret(*secret), fakeapi.WithLogger(logger)}
	if *noWebsocket {
		opts = append(opts, fakeapi.WithoutWebsocket())
	}
	if *stringMetadata {
		opts = append(opts, fakeapi.WithStringMetadata())
	}
	srv := fakeapi.New(opts...)

	for i := 0; i < *seed; i++ {
		srv.Seed(*user, sample(i, time.Now().Add(-time.Duration(*seed-i)*time.Hour)))
	}

	token, err := srv.IssueToken(*user, "dealer@example.com", "dealer", 24*time.Hour)
	if err != nil {
		logger.Error("issuing token", "err", err)
		os.Exit(1)
	}
	fmt.Printf("WARRANTY_API_BASE_URL=http://%s/api\n", *addr)
	fmt.Printf("token: %s\n", token)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", *addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "err", err)
			cancel()
		}
	}()

	if *every > 0 {
		go publishLoop(ctx, srv, *user, *seed, *every, logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	srv.Close()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

func publishLoop(ctx context.Context, srv *fakeapi.Server, user string, start int, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for i := start; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := srv.Publish(user, sample(i, time.Time{}))
			logger.Info("published", "id", n.ID, "type", n.Type, "connected", srv.Connected(user))
		}
	}
}

func sample(i int, at time.Time) model.Notification {
	t := sampleTypes[i%len(sampleTypes)]
	n := model.Notification{
		Title:     fmt.Sprintf("%s update #%d", t, i+1),
		Message:   fmt.Sprintf("Something changed on %s record %d.", t, 1000+i),
		Type:      t,
		CreatedAt: at,
	}
	if i%2 == 0 {
		n.Link = fmt.Sprintf("/%s/%d", t, 1000+i)
	}
	if i%3 == 0 {
		n.Metadata = &model.Metadata{Images: []string{fmt.Sprintf("https://cdn.example.com/%d.jpg", i)}}
	}
	return n
}
