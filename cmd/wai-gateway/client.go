// ABOUTME: Client commands that talk to a running gateway over its HTTP API
// ABOUTME: health checks readiness, tools lists capabilities, ask runs one query

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cappelaere/wai/internal/gateway"
)

// apiClient calls the gateway's HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

// newAPIClient uses --url when set, otherwise the configured HTTP address.
func newAPIClient(cmd *cobra.Command) (*apiClient, error) {
	base, _ := cmd.Flags().GetString("url")
	if base == "" {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		base = "http://" + dialAddr(cfg.Server.HTTPAddr)
	}
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// dialAddr turns a wildcard listen address into one a client can dial.
func dialAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// do sends a request and decodes a JSON response into out. Non-2xx responses
// become errors carrying the server's message.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr gateway.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%s, status %d)", apiErr.Error, apiErr.Kind, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func addURLFlag(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "Gateway base URL (default derived from server.http_addr)")
}

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var h gateway.HealthResponse
			if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/health", nil, &h); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			out := cmd.OutOrStdout()
			status := color.New(color.FgGreen)
			if h.Status != "healthy" {
				status = color.New(color.FgYellow)
			}
			status.Fprintln(out, h.Status)
			fmt.Fprintf(out, "  capabilities: %d\n", h.CapabilityCount)
			fmt.Fprintf(out, "  model ready:  %t\n", h.ModelReady)
			fmt.Fprintf(out, "  sessions:     %d\n", h.SessionCount)
			if h.Status != "healthy" {
				return errors.New("gateway is degraded")
			}
			return nil
		},
	}
	addURLFlag(cmd)
	return cmd
}

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the capabilities the model can call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			var resp struct {
				Tools []gateway.ToolInfo `json:"tools"`
				Count int                `json:"count"`
			}
			if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/tools", nil, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			for _, t := range resp.Tools {
				cyan.Fprintf(out, "%-28s", t.Name)
				gray.Fprintf(out, " [%s]\n", t.Provider)
				fmt.Fprintf(out, "    %s\n", t.Description)
			}
			fmt.Fprintf(out, "\n%d capabilities\n", resp.Count)
			return nil
		},
	}
	addURLFlag(cmd)
	return cmd
}

func newAskCmd() *cobra.Command {
	var sessionID, userID string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newAPIClient(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if sessionID == "" {
				var s gateway.SessionResponse
				err := c.do(ctx, http.MethodPost, "/api/v1/sessions", gateway.CreateSessionRequest{UserID: userID}, &s)
				if err != nil {
					return fmt.Errorf("creating session: %w", err)
				}
				sessionID = s.SessionID
			}

			var resp gateway.ChatResponse
			req := gateway.ChatRequest{Query: strings.Join(args, " "), SessionID: sessionID}
			if err := c.do(ctx, http.MethodPost, "/api/v1/chat", req, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Response)
			gray := color.New(color.FgHiBlack)
			gray.Fprintf(out, "\nsession %s, %d iterations, %d tool calls\n",
				resp.SessionID, resp.Iterations, len(resp.ToolCalls))
			return nil
		},
	}
	addURLFlag(cmd)
	cmd.Flags().StringVar(&sessionID, "session", "", "Continue an existing session")
	cmd.Flags().StringVar(&userID, "user", "cli", "User id for a new session")
	return cmd
}
