// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDrive/services/identity"
	"github.com/AleutianAI/AleutianDrive/services/profile"
	"github.com/AleutianAI/AleutianDrive/services/session"
)

var (
	flagServer      string
	flagIdentityURL string
	flagIdentityKey string
)

var rootCmd = &cobra.Command{
	Use:   "drive",
	Short: "Terminal client for the AleutianDrive assistant",
	Long: `drive is the terminal client for Clank, the AleutianDrive automotive
assistant. Chat as a guest (one free message), then sign in to keep
going with your plan's message allowance.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server",
		envOr("DRIVE_SERVER_URL", "http://localhost:12310"), "assistant server URL")
	rootCmd.PersistentFlags().StringVar(&flagIdentityURL, "identity-url",
		os.Getenv("IDENTITY_PROVIDER_URL"), "identity provider URL")
	rootCmd.PersistentFlags().StringVar(&flagIdentityKey, "identity-key",
		os.Getenv("IDENTITY_PROVIDER_KEY"), "identity provider API key")

	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newProfileCmd())
	rootCmd.AddCommand(newHistoryCmd())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// buildSession wires the identity provider, API client and session
// machine. The machine is started; callers own Stop.
func buildSession() (*session.Machine, *APIClient, error) {
	if flagIdentityURL == "" {
		return nil, nil, fmt.Errorf("an identity provider URL is required (--identity-url or IDENTITY_PROVIDER_URL)")
	}
	provider, err := identity.NewHTTPProvider(identity.HTTPProviderConfig{
		BaseURL: flagIdentityURL,
		APIKey:  flagIdentityKey,
	})
	if err != nil {
		return nil, nil, err
	}

	api := NewAPIClient(flagServer, func() string {
		sess, err := provider.CurrentSession(context.Background())
		if err != nil || sess == nil {
			// Tokens are not persisted between runs; DRIVE_ACCESS_TOKEN
			// lets scripted invocations authenticate without the form.
			return os.Getenv("DRIVE_ACCESS_TOKEN")
		}
		return sess.AccessToken
	})

	store := newAPIProfileStore(api)
	machine := session.NewMachine(provider, profile.NewResolver(store), store)
	machine.Start()
	return machine, api, nil
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat with Clank",
		RunE: func(cmd *cobra.Command, _ []string) error {
			machine, api, err := buildSession()
			if err != nil {
				return err
			}
			defer machine.Stop()

			ui := NewUI()
			controller := NewController(api, machine, huhPrompter{}, ui)
			defer controller.Close()

			ui.System(`ask Clank anything about your car ("exit" to quit)`)
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Fprint(os.Stdout, "> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch {
				case line == "":
					continue
				case line == "exit" || line == "quit":
					return nil
				case line == "/signout":
					if err := machine.SignOut(cmd.Context()); err != nil {
						ui.System("sign out failed: " + err.Error())
					} else {
						ui.System("signed out")
					}
					continue
				case strings.HasPrefix(line, "/name "):
					name := strings.TrimSpace(strings.TrimPrefix(line, "/name "))
					if err := machine.UpdateProfile(cmd.Context(), profile.Patch{Name: &name}); err != nil {
						ui.System("name change failed: " + err.Error())
					} else {
						ui.System("name updated")
					}
					continue
				}
				// Send renders outcome rows itself; errors are already on
				// screen and must not end the loop.
				_ = controller.Send(cmd.Context(), line)
			}
		},
	}
}

func newProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show your profile and quota standing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			machine, api, err := buildSession()
			if err != nil {
				return err
			}
			defer machine.Stop()

			resp, err := api.Profile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("email:  %s\n", resp.Email)
			if resp.Name != "" {
				fmt.Printf("name:   %s\n", resp.Name)
			}
			fmt.Printf("plan:   %s (%s)\n", resp.Tier, resp.Status)
			fmt.Printf("usage:  %d of %v messages\n", resp.MessagesUsed, resp.MessageLimit)
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show your recent conversation turns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			machine, api, err := buildSession()
			if err != nil {
				return err
			}
			defer machine.Stop()

			resp, err := api.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			ui := NewUI()
			for _, m := range resp.Messages {
				if m.Role == profile.RoleAssistant {
					ui.Assistant(m.Content)
				} else {
					ui.User(m.Content)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum turns to fetch")
	return cmd
}
