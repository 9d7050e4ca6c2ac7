package main

import (
	"context"
	"io"

	"github.com/goccy/go-json"

	"github.com/fgrzl/graphreco"
	"github.com/fgrzl/graphreco/internal/backend"
	"github.com/fgrzl/graphreco/internal/logging"
)

func openGraph(ctx context.Context) (graphreco.GraphDB, error) {
	db, err := backend.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger := logging.With("cli")
	logger.Debug().Str("backend", cfg.Backend).Msg("graph opened")
	return db, nil
}

func closeGraph(db graphreco.GraphDB) {
	if err := db.Close(); err != nil {
		logger := logging.With("cli")
		logger.Warn().Err(err).Msg("failed to close graph")
	}
}

// writeJSON writes v as one line of JSON.
func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
