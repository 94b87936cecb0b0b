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
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianDrive/pkg/logging"
)

func main() {
	// The CLI logs human-readable lines to stderr; the transcript owns
	// stdout.
	logger, err := logging.New(logging.Config{Service: "drive", Level: slog.LevelWarn})
	if err != nil {
		os.Exit(1)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
