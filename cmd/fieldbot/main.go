// Command fieldbot drives the full login → game migration → combat
// smoke-test flow against a running server: dial the login server,
// authenticate, pick the first character, migrate to the assigned game
// server, enter the field, optionally spawn an NPC and cast/attack a
// skill, then stay alive answering heartbeat/time-sync probes until
// interrupted.
//
// Usage:
//
//	fieldbot [flags] [host [port [username [password]]]]
//
// host/port/username/password default to 127.0.0.1/20001/testbot/testbot;
// --npc, --skill, and --skill-level opt into the minimal combat verbs
// this client implements.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ms2proto/fieldclient/internal/config"
	"github.com/ms2proto/fieldclient/internal/game"
	"github.com/ms2proto/fieldclient/internal/login"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	fs := flag.NewFlagSet("fieldbot", flag.ContinueOnError)
	npcID := fs.Int("npc", 0, "spawn this npc id after entering the field")
	skillID := fs.Int("skill", 0, "cast and attack with this skill id after entering the field")
	skillLevel := fs.Int("skill-level", 1, "skill level passed to --skill")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadClient("")
	if err != nil {
		return fmt.Errorf("fieldbot: loading config: %w", err)
	}
	if err := applyPositional(&cfg, fs.Args()); err != nil {
		return err
	}

	slog.Info("fieldbot starting", "host", cfg.Host, "port", cfg.Port, "username", cfg.Username)

	loginFlow, err := login.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("fieldbot: connecting to login server: %w", err)
	}
	defer loginFlow.Dispose()

	result, err := loginFlow.Login(ctx, cfg.Username, cfg.Password)
	if err != nil {
		return fmt.Errorf("fieldbot: login: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("fieldbot: login rejected: code=%d message=%q", result.ErrorCode, result.ErrorMessage)
	}
	if len(result.Characters) == 0 {
		return errors.New("fieldbot: account has no characters")
	}
	character := result.Characters[0]
	slog.Info("logged in", "accountId", result.AccountID, "character", character.Name)

	serverInfo, err := loginFlow.SelectCharacter(ctx, character.CharacterID)
	if err != nil {
		return fmt.Errorf("fieldbot: selecting character: %w", err)
	}
	machineID := loginFlow.MachineID()
	loginFlow.Dispose()

	gameFlow, err := game.Connect(ctx, cfg, serverInfo, result.AccountID, machineID)
	if err != nil {
		return fmt.Errorf("fieldbot: connecting to game server: %w", err)
	}
	defer gameFlow.Dispose()

	field := gameFlow.FieldState()
	slog.Info("field entered", "mapId", field.MapID, "position", field.Position)

	var spawnedTarget int32
	if *npcID != 0 {
		npc, err := gameFlow.SpawnNpc(ctx, int32(*npcID))
		if err != nil {
			return fmt.Errorf("fieldbot: spawning npc: %w", err)
		}
		if npc == nil {
			slog.Warn("npc spawn request timed out", "npcId", *npcID)
		} else {
			slog.Info("npc spawned", "objectId", npc.ObjectID, "npcId", npc.NpcID)
			spawnedTarget = npc.ObjectID
		}
	}

	if *skillID != 0 {
		// The server needs a moment to settle after field entry before
		// it will accept combat packets.
		select {
		case <-time.After(400 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}

		skillUID, err := gameFlow.CastSkill(ctx, int32(*skillID), int16(*skillLevel))
		if err != nil {
			return fmt.Errorf("fieldbot: casting skill: %w", err)
		}
		slog.Info("skill cast", "skillId", *skillID, "skillUid", skillUID)

		if spawnedTarget != 0 {
			if _, err := gameFlow.AttackTarget(ctx, skillUID, []int32{spawnedTarget}, 1); err != nil {
				slog.Warn("attack failed", "err", err)
			}
		}
	}

	gameFlow.StayAlive(ctx)
	return nil
}

// applyPositional overrides cfg's host/port/username/password from up
// to four positional CLI arguments, in that order. Fewer than four
// leaves the remaining fields at their config/default value.
func applyPositional(cfg *config.Client, positional []string) error {
	if len(positional) > 4 {
		return fmt.Errorf("fieldbot: too many positional arguments (got %d, want at most 4: host port username password)", len(positional))
	}
	if len(positional) > 0 {
		cfg.Host = positional[0]
	}
	if len(positional) > 1 {
		port, err := strconv.ParseUint(positional[1], 10, 16)
		if err != nil {
			return fmt.Errorf("fieldbot: parsing port %q: %w", positional[1], err)
		}
		cfg.Port = uint16(port)
	}
	if len(positional) > 2 {
		cfg.Username = positional[2]
	}
	if len(positional) > 3 {
		cfg.Password = positional[3]
	}
	return nil
}
