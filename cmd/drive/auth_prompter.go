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
	"context"
	"errors"

	"github.com/charmbracelet/huh"
)

// AuthMode selects which credential flow the user picked.
type AuthMode string

const (
	AuthModeSignIn AuthMode = "signin"
	AuthModeSignUp AuthMode = "signup"
)

// ErrAuthCancelled means the user backed out of the form.
var ErrAuthCancelled = errors.New("drive: authentication cancelled")

// AuthChoice carries the credentials the user entered.
type AuthChoice struct {
	Mode     AuthMode
	Email    string
	Password string
	Name     string
}

// AuthPrompter collects credentials from the user. Abstracted so the
// controller can be tested without a terminal.
type AuthPrompter interface {
	PromptAuth(ctx context.Context) (*AuthChoice, error)
}

// huhPrompter is the interactive AuthPrompter backed by huh forms.
type huhPrompter struct{}

func (huhPrompter) PromptAuth(ctx context.Context) (*AuthChoice, error) {
	choice := &AuthChoice{}
	mode := string(AuthModeSignIn)

	modeForm := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Sign in to keep chatting").
			Options(
				huh.NewOption("Sign in", string(AuthModeSignIn)),
				huh.NewOption("Create an account", string(AuthModeSignUp)),
			).
			Value(&mode),
	))
	if err := modeForm.RunWithContext(ctx); err != nil {
		return nil, ErrAuthCancelled
	}
	choice.Mode = AuthMode(mode)

	fields := []huh.Field{
		huh.NewInput().Title("Email").Value(&choice.Email),
		huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&choice.Password),
	}
	if choice.Mode == AuthModeSignUp {
		fields = append(fields, huh.NewInput().Title("Name").Value(&choice.Name))
	}
	credForm := huh.NewForm(huh.NewGroup(fields...))
	if err := credForm.RunWithContext(ctx); err != nil {
		return nil, ErrAuthCancelled
	}
	return choice, nil
}
