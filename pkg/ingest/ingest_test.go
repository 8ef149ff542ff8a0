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

package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/kadirpekel/querydesk/pkg/config"
	"github.com/kadirpekel/querydesk/pkg/testutils"
	"github.com/kadirpekel/querydesk/pkg/tool/retrievaltool"
	"github.com/kadirpekel/querydesk/pkg/utils"
	"github.com/kadirpekel/querydesk/pkg/vector"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func writeXLSX(t *testing.T, dir, name string, sheets map[string][][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	first := true
	for sheet, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", sheet))
			first = false
		} else {
			_, err := f.NewSheet(sheet)
			require.NoError(t, err)
		}
		for i, row := range rows {
			cellRef, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(sheet, cellRef, &row))
		}
	}
	p := filepath.Join(dir, name)
	require.NoError(t, f.SaveAs(p))
	return p
}

func TestChunker(t *testing.T) {
	// Four characters per token: each five-letter word below is two tokens.
	c, err := NewChunker(6, 2, utils.NewEstimator())
	require.NoError(t, err)

	chunks := c.Chunk("alpha bravo charl delta echoo foxtr")
	assert.Equal(t, []string{
		"alpha bravo charl",
		"charl delta echoo",
		"echoo foxtr",
	}, chunks)

	assert.Nil(t, c.Chunk("   \n "))
	assert.Equal(t, []string{"short"}, c.Chunk("short"))
}

func TestChunker_LongWordProgresses(t *testing.T) {
	c, err := NewChunker(2, 1, utils.NewEstimator())
	require.NoError(t, err)
	chunks := c.Chunk(strings.Repeat("x", 40) + " tail")
	assert.Equal(t, []string{strings.Repeat("x", 40), "tail"}, chunks)
}

func TestNewChunker_Invalid(t *testing.T) {
	_, err := NewChunker(10, 10, nil)
	assert.Error(t, err)

	c, err := NewChunker(0, -1, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultChunkTokens, c.size)
	assert.Equal(t, 0, c.overlap)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	doc, err := ReadFile(ctx, writeFile(t, dir, "notes.txt", "Baggage allowance is 20kg."))
	require.NoError(t, err)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "Baggage allowance is 20kg.", doc.Text())

	xlsx := writeXLSX(t, dir, "fares.xlsx", map[string][][]any{
		"Fares": {{"route", "price"}, {"HAN-SGN", 120}},
	})
	doc, err = ReadFile(ctx, xlsx)
	require.NoError(t, err)
	require.Len(t, doc.Sections, 1)
	assert.Equal(t, "Fares", doc.Sections[0].Title)
	assert.Contains(t, doc.Sections[0].Text, "HAN-SGN | 120")

	_, err = ReadFile(ctx, writeFile(t, dir, "image.png", "x"))
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.False(t, Supported("a.exe"))
	assert.True(t, Supported("A.PDF"))
}

func TestStripXML(t *testing.T) {
	raw := `<w:body><w:p><w:r><w:t>Refund policy</w:t></w:r></w:p><w:p><w:r><w:t>Within 24 hours</w:t></w:r></w:p></w:body>`
	assert.Equal(t, "Refund policy\nWithin 24 hours\n", stripXML(raw))
}

func newIngester(t *testing.T, batch int) (*Ingester, *vector.ChromemProvider, *testutils.MockEmbedder) {
	t.Helper()
	store, err := vector.NewChromemProvider(vector.ChromemConfig{})
	require.NoError(t, err)
	emb := testutils.NewMockEmbedder(64)
	chunker, err := NewChunker(8, 2, utils.NewEstimator())
	require.NoError(t, err)
	in, err := New(Config{Embedder: emb, Store: store, Chunker: chunker, BatchSize: batch})
	require.NoError(t, err)
	return in, store, emb
}

func TestIngestPath_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "policy.txt", strings.Repeat("Refunds are issued within seven days of cancellation. ", 10))
	writeFile(t, dir, "logo.png", "binary")
	writeXLSX(t, dir, "fares.xlsx", map[string][][]any{
		"Fares": {{"route", "price"}, {"HAN-SGN", 120}, {"HAN-DAD", 80}},
	})

	in, store, emb := newIngester(t, 2)
	ctx := context.Background()

	stats, err := in.IngestPath(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)
	assert.Greater(t, stats.Chunks, 2)
	assert.Equal(t, []string{filepath.Join(dir, "logo.png")}, stats.Skipped)
	assert.GreaterOrEqual(t, emb.Calls(), 2)

	count, err := store.Count(ctx, retrievaltool.DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, stats.Chunks, count)

	vec, err := emb.Embed(ctx, "HAN-SGN price")
	require.NoError(t, err)
	hits, err := store.Search(ctx, retrievaltool.DefaultCollection, vec, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "fares.xlsx", hits[0].MetadataString(retrievaltool.MetaSource))
	assert.Equal(t, "Fares", hits[0].MetadataString(retrievaltool.MetaSection))

	// Re-ingesting replaces rather than duplicates.
	again, err := in.IngestPath(ctx, dir)
	require.NoError(t, err)
	count, err = store.Count(ctx, retrievaltool.DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, again.Chunks, count)
}

func TestIngestFile_EmbedderFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", "some text to index")

	in, store, emb := newIngester(t, 4)
	emb.Err = errors.New("quota exceeded")

	_, err := in.IngestPath(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")

	count, err := store.Count(context.Background(), retrievaltool.DefaultCollection)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIngestPath_UnsupportedFile(t *testing.T) {
	in, _, _ := newIngester(t, 4)
	_, err := in.IngestPath(context.Background(), writeFile(t, t.TempDir(), "x.bin", "x"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestImportTable(t *testing.T) {
	cfg := testutils.TestConfig(t)
	dbs := config.NewDBPool()
	defer dbs.Close()
	db, err := dbs.Get(context.Background(), cfg.Databases[config.DefaultDatabase])
	require.NoError(t, err)

	dir := t.TempDir()
	csvPath := writeFile(t, dir, "Airport Codes.csv",
		"Code,City,Runways,Elevation (m),Code\nHAN,Hanoi,2,12.5,VVNB\nSGN,Ho Chi Minh City,2,,VVTS\n,,,,\nDAD,Danang,1,10,VVDN\n")

	ctx := context.Background()
	stats, err := ImportTable(ctx, db, config.DialectSQLite, csvPath, TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, "airport_codes", stats.Table)
	assert.Equal(t, 3, stats.Rows)
	assert.Equal(t, map[string]string{
		"code":        "TEXT",
		"city":        "TEXT",
		"runways":     "BIGINT",
		"elevation_m": "DOUBLE PRECISION",
		"code_2":      "TEXT",
	}, stats.Columns)

	var runways int
	var elevation *float64
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT runways, elevation_m FROM airport_codes WHERE code = 'SGN'`).Scan(&runways, &elevation))
	assert.Equal(t, 2, runways)
	assert.Nil(t, elevation)

	// Without Replace the existing table blocks the import.
	_, err = ImportTable(ctx, db, config.DialectSQLite, csvPath, TableOptions{})
	assert.Error(t, err)

	xlsx := writeXLSX(t, dir, "fares.xlsx", map[string][][]any{
		"Fares": {{"route", "price"}, {"HAN-SGN", 120}},
	})
	stats, err = ImportTable(ctx, db, config.DialectSQLite, xlsx, TableOptions{Table: "airport_codes", Replace: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rows)

	var route string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT route FROM airport_codes`).Scan(&route))
	assert.Equal(t, "HAN-SGN", route)
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, "flight_no", Identifier(" Flight No. "))
	assert.Equal(t, "t_2024_sales", Identifier("2024 Sales"))
	assert.Equal(t, "col", Identifier("%%"))
}
