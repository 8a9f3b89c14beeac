// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/gatelock/gatelock/internal/config"
)

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running gatelock instance",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(resolveConfigFile(), cmd.Flags())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	url := "http://" + cfg.Observability.Addr + "/healthz/readiness"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return oops.With("url", url).Wrap(err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cmd.Println("gatelock: not running")
		return oops.Code("STATUS_UNREACHABLE").With("addr", cfg.Observability.Addr).Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		cmd.Println("gatelock: ready")
		return nil
	case http.StatusServiceUnavailable:
		cmd.Println("gatelock: running, not ready")
		return nil
	default:
		cmd.Printf("gatelock: unexpected status %d\n", resp.StatusCode)
		return oops.Code("STATUS_UNEXPECTED").With("status", resp.StatusCode).Errorf("unexpected readiness status")
	}
}
