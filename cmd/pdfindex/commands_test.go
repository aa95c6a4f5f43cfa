package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd(t *testing.T) {
	t.Run("Should register every subcommand", func(t *testing.T) {
		root := rootCmd()
		for _, name := range []string{"serve", "ingest", "status", "inspect", "search"} {
			cmd, _, err := root.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, cmd.Name())
		}
	})

	t.Run("Should require a file argument for ingest", func(t *testing.T) {
		root := rootCmd()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{"ingest"})
		assert.Error(t, root.Execute())
	})

	t.Run("Should forward only the chunk flags that were given", func(t *testing.T) {
		cmd := ingestCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--chunk-size=-5"}))
		req := ingestRequest(cmd, "/tmp/docs/report.pdf", []byte("%PDF-"))
		assert.Equal(t, "report.pdf", req.FileName)
		require.NotNil(t, req.ChunkSize)
		assert.Equal(t, -5, *req.ChunkSize)
		assert.Nil(t, req.Overlap)

		cmd = ingestCmd()
		require.NoError(t, cmd.ParseFlags(nil))
		req = ingestRequest(cmd, "report.pdf", nil)
		assert.Nil(t, req.ChunkSize)
		assert.Nil(t, req.Overlap)
	})

	t.Run("Should print artifacts as indented json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printJSON(&buf, map[string]any{"available": true}))
		assert.Equal(t, "{\n  \"available\": true\n}\n", buf.String())
	})
}
