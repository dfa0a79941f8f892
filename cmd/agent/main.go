// The agent is the device-side process: it keeps the local group slot, joins
// or leaves groups, and runs the tracking loop that feeds sampled positions
// to the server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flotilla-app/flotilla/internal/auth"
	"github.com/flotilla-app/flotilla/internal/client"
	"github.com/flotilla-app/flotilla/internal/config"
	"github.com/flotilla-app/flotilla/internal/models"
	"github.com/flotilla-app/flotilla/internal/publisher"
	"github.com/flotilla-app/flotilla/internal/sensor"
	"github.com/flotilla-app/flotilla/internal/session"
	"github.com/flotilla-app/flotilla/internal/tracker"
	"github.com/flotilla-app/flotilla/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	joinCode := flag.String("join", "", "invite code to join before tracking")
	leave := flag.Bool("leave", false, "leave the current group and exit")
	flag.Parse()

	logger := logging.Setup()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Agent.UserID == "" {
		slog.Error("agent.user_id must be set (FLOTILLA_AGENT__USER_ID)")
		os.Exit(1)
	}

	token := cfg.Agent.Token
	if token == "" && cfg.Security.IdentitySecret != "" {
		// Local development shortcut: mint a token with the shared secret.
		token, err = auth.NewVerifier(cfg.Security.IdentitySecret).Mint(cfg.Agent.UserID, 24*time.Hour)
		if err != nil {
			slog.Error("Failed to mint token", "error", err)
			os.Exit(1)
		}
	}
	if token == "" {
		slog.Error("agent.token or security.identity_secret must be set")
		os.Exit(1)
	}

	kv, err := session.NewFileKV(cfg.Agent.StateFile)
	if err != nil {
		slog.Error("Failed to open state file", "path", cfg.Agent.StateFile, "error", err)
		os.Exit(1)
	}
	sess := session.New(kv)
	api := client.New(cfg.Agent.ServerURL, token)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *leave {
		if err := leaveGroup(ctx, api, sess, logger); err != nil {
			slog.Error("Failed to leave group", "error", err)
			os.Exit(1)
		}
		return
	}

	groupID, err := resolveGroup(ctx, api, sess, firstNonEmpty(*joinCode, cfg.Agent.JoinCode), logger)
	if err != nil {
		slog.Error("Failed to resolve group", "error", err)
		os.Exit(1)
	}
	if groupID == "" {
		slog.Error("Not in a group; pass -join CODE or set agent.join_code")
		os.Exit(1)
	}

	pub := publisher.New(client.NewWriter(api), logger,
		publisher.WithMinInterval(cfg.Publish.MinInterval))

	walk := sensor.NewRandomWalk(cfg.Agent.StartLat, cfg.Agent.StartLon, 0.0005)
	loop := tracker.New(walk, logger)

	err = loop.Start(func(pos models.Position) {
		pub.Publish(ctx, cfg.Agent.UserID, pos, groupID)
	}, cfg.Tracking.Interval, cfg.Tracking.ForegroundOnly)
	if err != nil {
		slog.Error("Failed to start tracking", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	loop.Stop()
	slog.Info("Agent stopped")
}

// resolveGroup returns the group id to track against: the saved slot if it
// still exists on the server, else the result of joining with code.
func resolveGroup(ctx context.Context, api *client.Client, sess *session.Session, code string, log *slog.Logger) (string, error) {
	groupID, err := sess.CurrentGroupID()
	if err != nil {
		return "", err
	}
	if groupID != "" {
		if _, err := api.GetGroup(ctx, groupID); err != nil {
			if !client.IsNotFound(err) {
				return "", err
			}
			log.Warn("Saved group no longer exists, clearing slot", "group_id", groupID)
			if err := sess.ClearGroup(); err != nil {
				return "", err
			}
			groupID = ""
		}
	}
	if groupID != "" || code == "" {
		return groupID, nil
	}

	group, err := api.JoinGroup(ctx, code)
	if err != nil {
		return "", err
	}
	if err := sess.SetCurrentGroupID(group.ID); err != nil {
		return "", err
	}
	log.Info("Joined group", "group_id", group.ID, "trip_name", group.TripName)
	return group.ID, nil
}

func leaveGroup(ctx context.Context, api *client.Client, sess *session.Session, log *slog.Logger) error {
	groupID, err := sess.CurrentGroupID()
	if err != nil {
		return err
	}
	if groupID == "" {
		log.Info("Not in a group, nothing to leave")
		return nil
	}
	if err := api.LeaveGroup(ctx, groupID); err != nil && !client.IsNotFound(err) {
		return err
	}
	if err := sess.ClearGroup(); err != nil {
		return err
	}
	log.Info("Left group", "group_id", groupID)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
