package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dyluth/place/internal/config"
	"github.com/dyluth/place/internal/mirror"
	"github.com/dyluth/place/internal/printer"
	"github.com/spf13/cobra"
)

const defaultRedisURL = "redis://localhost:6379"

// addMirrorFlags registers --redis-url and --instance, defaulting to the
// same PLACE_* variables the server reads.
func addMirrorFlags(cmd *cobra.Command, redisURL, instanceName *string) {
	cmd.Flags().StringVar(redisURL, "redis-url", envOr(config.EnvRedisURL, defaultRedisURL), "Redis URL of the mirror")
	cmd.Flags().StringVarP(instanceName, "instance", "n", envOr(config.EnvInstance, config.DefaultInstance), "Instance name the server mirrors under")
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// connectMirror opens a mirror client and verifies Redis is reachable.
// Failures are returned as printer errors.
func connectMirror(ctx context.Context, redisURL, instanceName string) (*mirror.Client, error) {
	client, err := mirror.NewClientFromURL(redisURL, instanceName)
	if err != nil {
		return nil, printer.Error(
			"invalid Redis URL",
			err.Error(),
			[]string{fmt.Sprintf("Use the form:\n  %s", defaultRedisURL)},
		)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", redisURL),
			map[string]string{
				"Instance": instanceName,
				"Error":    err.Error(),
			},
			[]string{
				"Check that Redis is running:\n  redis-cli -u " + redisURL + " ping",
				"Point at another Redis:\n  --redis-url redis://host:6379",
			},
		)
	}
	return client, nil
}
