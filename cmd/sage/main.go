// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command sage runs the retrieval-and-synthesis service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/kadirpekel/sage/pkg/app"
	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/logger"
)

var version = "dev"

type globals struct {
	Config   string `short:"c" help:"Path to the YAML config file." type:"path"`
	LogLevel string `help:"Log level: debug, info, warn, error." default:"info"`
	LogJSON  bool   `help:"Log in JSON format."`
}

type serveCmd struct{}

type reindexCmd struct {
	Doc   string `help:"Reindex one document by id."`
	Space string `help:"Reindex one space by id."`
	All   bool   `help:"Reindex everything."`
}

type versionCmd struct{}

type cli struct {
	globals

	Serve   serveCmd   `cmd:"" default:"1" help:"Run the HTTP service."`
	Reindex reindexCmd `cmd:"" help:"Rebuild the search index from the metastore."`
	Version versionCmd `cmd:"" help:"Print the version."`
}

func main() {
	_ = godotenv.Load()

	var c cli
	kctx := kong.Parse(&c,
		kong.Name("sage"),
		kong.Description("Multi-tenant retrieval-and-synthesis service."),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(c.LogLevel)
	format := "simple"
	if c.LogJSON {
		format = "json"
	}
	logger.Init(level, os.Stderr, format)

	if err := kctx.Run(&c.globals); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildApp(ctx context.Context, g *globals) (*app.App, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

// Run starts the HTTP service and blocks until a signal arrives.
func (serveCmd) Run(g *globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.InitSchema(ctx); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return a.Server.Shutdown(shutdownCtx)
}

// Run rebuilds search index entries from the metastore.
func (r reindexCmd) Run(g *globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	docID, spaceID := uuid.Nil, uuid.Nil
	switch {
	case r.Doc != "":
		if docID, err = uuid.Parse(r.Doc); err != nil {
			return fmt.Errorf("invalid --doc: %w", err)
		}
	case r.Space != "":
		if spaceID, err = uuid.Parse(r.Space); err != nil {
			return fmt.Errorf("invalid --space: %w", err)
		}
	case !r.All:
		return fmt.Errorf("one of --doc, --space or --all is required")
	}

	n, err := a.Ingestor.Reindex(ctx, docID, spaceID)
	if err != nil {
		return err
	}
	fmt.Printf("reindexed %d documents\n", n)
	return nil
}

// Run prints the version.
func (versionCmd) Run(g *globals) error {
	fmt.Println("sage", version)
	return nil
}
