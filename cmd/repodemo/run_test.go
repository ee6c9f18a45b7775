package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-repository-pipeline/notify"
	"github.com/goliatone/go-repository-pipeline/pkg/di"
	"github.com/goliatone/go-repository-pipeline/pkg/testsupport"
	"github.com/goliatone/go-repository-pipeline/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func demoConfig() di.Config {
	cfg := di.DefaultConfig()
	cfg.Metrics = di.MetricsConfig{Enabled: true, Namespace: "demo_test"}
	return cfg
}

func TestDemo_Backends(t *testing.T) {
	tests := []struct {
		name string
		opts runOptions
	}{
		{"memory", runOptions{backend: "memory", count: 10}},
		{"badger in memory", runOptions{backend: "badger", count: 10}},
		{"badger on disk", runOptions{backend: "badger", badgerPath: filepath.Join(t.TempDir(), "db"), count: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum, err := demo(context.Background(), quietLogger(), demoConfig(), tt.opts)
			require.NoError(t, err)

			assert.Equal(t, 10, sum.Created)
			assert.Equal(t, 5, sum.Remained, "the garden half is gone")
			assert.Equal(t, 10, sum.Events[notify.Created])
			assert.Equal(t, 1, sum.Events[notify.Updated])
			assert.Equal(t, 5, sum.Events[notify.Deleted])
			assert.Positive(t, sum.Lookups["identity/hit"])
			assert.Positive(t, sum.Lookups["index/hit"])
			assert.Positive(t, sum.Lookups["index/miss"])
		})
	}
}

func TestDemo_Golden(t *testing.T) {
	sum, err := demo(context.Background(), quietLogger(), demoConfig(), runOptions{backend: "memory", count: 10})
	require.NoError(t, err)

	testsupport.CompareWithGoldenJSON(t, testsupport.GoldenPath("demo_memory.json"), struct {
		Created   int                 `json:"created"`
		Remaining int                 `json:"remaining"`
		Events    map[notify.Kind]int `json:"events"`
	}{sum.Created, sum.Remained, sum.Events})
}

func TestDemo_InvalidOptions(t *testing.T) {
	_, err := demo(context.Background(), quietLogger(), demoConfig(), runOptions{backend: "memory", count: 1})
	assert.True(t, store.IsConfigError(err))

	_, err = demo(context.Background(), quietLogger(), demoConfig(), runOptions{backend: "postgres", count: 4})
	assert.True(t, store.IsConfigError(err))
}

func TestRunCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"run", "--count", "4", "--log-level", "error"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "created:   4")
	assert.Contains(t, out.String(), "remaining: 2")
	assert.Contains(t, out.String(), "events:    created=4 updated=1 deleted=2")
	assert.Contains(t, out.String(), "lookups:   index/hit")
}
