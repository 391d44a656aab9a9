package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const statusTimeout = 5 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that a running vaani instance is reachable",
	Long: `Probes the instance health endpoint. Exits 4 when the instance is
unreachable or unhealthy, so scripts can tell "service down" apart from a
local configuration problem.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		base := viper.GetString("instance-url")
		if base == "" {
			base = fmt.Sprintf("http://127.0.0.1:%d", viper.GetInt("port"))
		}
		if err := checkInstance(cmd.Context(), base); err != nil {
			return exitf(exitUpstream, "instance at %s is not reachable: %v", base, err)
		}
		fmt.Printf("Instance at %s is healthy\n", base)
		return nil
	},
}

func checkInstance(ctx context.Context, baseURL string) error {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
