// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ingest loads documents into the vector store and spreadsheets
// into SQL tables.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupported is returned for file types no reader handles.
var ErrUnsupported = errors.New("unsupported file type")

// Section is a located piece of a source file: a PDF page or a sheet.
type Section struct {
	Page  int
	Title string
	Text  string
}

// Document is the extracted text of one file.
type Document struct {
	Source   string
	Sections []Section
}

// Text joins all sections.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Sections))
	for _, s := range d.Sections {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, "\n\n")
}

type readFunc func(ctx context.Context, path string) ([]Section, error)

var readers = map[string]readFunc{
	".pdf":  readPDF,
	".docx": readDOCX,
	".xlsx": readXLSX,
	".txt":  readPlain,
	".md":   readPlain,
	".csv":  readPlain,
}

// Supported reports whether path has a readable extension.
func Supported(path string) bool {
	_, ok := readers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ReadFile extracts text from a PDF, DOCX, XLSX or plain text file.
func ReadFile(ctx context.Context, path string) (*Document, error) {
	read, ok := readers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
	sections, err := read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &Document{Source: path, Sections: sections}, nil
}

func readPDF(ctx context.Context, path string) ([]Section, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Section
	for n := 1; n <= r.NumPage(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		if strings.TrimSpace(text) != "" {
			out = append(out, Section{Page: n, Text: text})
		}
	}
	return out, nil
}

func readDOCX(_ context.Context, path string) ([]Section, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	text := stripXML(doc.Editable().GetContent())
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []Section{{Text: text}}, nil
}

// stripXML drops markup from the raw document body, turning paragraph ends
// into newlines.
func stripXML(s string) string {
	s = strings.ReplaceAll(s, "</w:p>", "\n")
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func readXLSX(ctx context.Context, path string) ([]Section, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Section
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheet, err)
		}
		var b strings.Builder
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " | "))
			if strings.Trim(line, " |") == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if b.Len() > 0 {
			out = append(out, Section{Title: sheet, Text: b.String()})
		}
	}
	return out, nil
}

func readPlain(_ context.Context, path string) ([]Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	return []Section{{Text: string(data)}}, nil
}
