// Command mindsync-probe joins a map's live session and prints every frame it
// receives, one JSON object per line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindsync/pkg/auth"
	"mindsync/pkg/syncclient"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type output struct {
	Type       string          `json:"type"`
	Target     string          `json:"target,omitempty"`
	Operations int             `json:"operations,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Nodes      int             `json:"nodes"`
	Edges      int             `json:"edges"`
}

func main() {
	url := pflag.String("url", "ws://localhost:8080/ws", "sync endpoint")
	mapID := pflag.String("map", "", "map to join (required)")
	token := pflag.String("token", "", "JWT to authenticate with")
	secret := pflag.String("secret", os.Getenv("JWT_SECRET"), "sign a token locally with this HS256 secret instead of --token")
	user := pflag.String("user", "", "user id for a locally signed token")
	pflag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if *mapID == "" {
		pflag.Usage()
		os.Exit(2)
	}

	if *token == "" && *secret != "" && *user != "" {
		gen, err := auth.NewJWTGenerator(auth.JWTConfig{SecretKey: *secret}, time.Hour)
		if err != nil {
			logger.Fatal("Failed to create token generator", zap.Error(err))
		}
		if *token, err = gen.GenerateToken(*user, ""); err != nil {
			logger.Fatal("Failed to sign token", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := syncclient.Dial(dialCtx, *url, *token)
	cancel()
	if err != nil {
		logger.Fatal("Failed to connect", zap.Error(err))
	}
	defer client.Close()

	result, err := client.Join(ctx, *mapID)
	if err != nil {
		logger.Fatal("Failed to join", zap.Error(err))
	}
	logger.Info("Joined",
		zap.String("connectionID", client.ConnectionID),
		zap.String("documentID", result.DocumentID),
		zap.String("level", result.Level),
	)

	enc := json.NewEncoder(os.Stdout)
	for {
		ev, err := client.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Fatal("Connection lost", zap.Error(err))
		}

		view := client.View()
		if err := enc.Encode(output{
			Type:       string(ev.Type),
			Target:     string(ev.Target),
			Operations: len(ev.Operations),
			Data:       ev.Data,
			Nodes:      len(view.Nodes),
			Edges:      len(view.Edges),
		}); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}
