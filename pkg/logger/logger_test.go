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

package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLineHandler_SimpleFormat(t *testing.T) {
	var buf bytes.Buffer
	h := &lineHandler{out: &buf, level: slog.LevelInfo, mu: &sync.Mutex{}}

	record := slog.NewRecord(time.Now(), slog.LevelWarn, "Credential cooling down", 0)
	record.AddAttrs(slog.String("credential", "key-1"))
	if err := h.WithAttrs([]slog.Attr{slog.Int("pool", 3)}).Handle(context.Background(), record); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got := buf.String()
	if got != "WARN Credential cooling down pool=3 credential=key-1\n" {
		t.Errorf("unexpected line %q", got)
	}
}

func TestLineHandler_VerboseHasTimestamp(t *testing.T) {
	var buf bytes.Buffer
	h := &lineHandler{out: &buf, level: slog.LevelDebug, verbose: true, mu: &sync.Mutex{}}

	ts := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	record := slog.NewRecord(ts, slog.LevelDebug, "step", 0)
	if err := h.WithGroup("engine").Handle(context.Background(), record); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "2025/03/01 10:30:00 DEBUG step") {
		t.Errorf("unexpected line %q", buf.String())
	}
}

func TestModuleFilter_DropsBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	next := &lineHandler{out: &buf, level: slog.LevelDebug, mu: &sync.Mutex{}}
	f := &moduleFilter{next: next, minLevel: slog.LevelWarn}

	if f.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("INFO should be disabled at WARN")
	}
	if !f.Enabled(context.Background(), slog.LevelError) {
		t.Error("ERROR should be enabled at WARN")
	}
}

func TestInit_GetLoggerReturnsConfigured(t *testing.T) {
	path := filepath.Join(t.TempDir(), "querydesk.log")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	defer f.Close()

	prev := slog.Default()
	defer slog.SetDefault(prev)

	Init(slog.LevelDebug, f, FormatSimple)
	l := GetLogger()
	if l == nil {
		t.Fatal("GetLogger returned nil")
	}
	l.Debug("Schema cache refreshed", "tables", 4)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "Schema cache refreshed") {
		t.Errorf("log output %q missing message", data)
	}
}
