package model

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		DataDir:     "./data",
		Timezone:    "Europe/Rome",
		PollSeconds: 60,
		IMAP: IMAPConfig{
			Host:        "imap.example.com",
			Username:    "me@example.com",
			FolderInbox: "INBOX",
			FilingMode:  "move",
		},
		Classification: ClassificationConfig{Folders: DefaultClassificationFolders},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing host", mutate: func(c *Config) { c.IMAP.Host = "" }, wantErr: true},
		{name: "missing username", mutate: func(c *Config) { c.IMAP.Username = "" }, wantErr: true},
		{name: "missing inbox", mutate: func(c *Config) { c.IMAP.FolderInbox = "" }, wantErr: true},
		{name: "bad filing mode", mutate: func(c *Config) { c.IMAP.FilingMode = "archive" }, wantErr: true},
		{name: "copy mode ok", mutate: func(c *Config) { c.IMAP.FilingMode = "copy" }},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "zero poll", mutate: func(c *Config) { c.PollSeconds = 0 }, wantErr: true},
		{name: "no folders", mutate: func(c *Config) { c.Classification.Folders = nil }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClassificationFolder(t *testing.T) {
	cfg := validConfig()
	if got := cfg.ClassificationFolder(CategoryReceipts); got != "Receipts" {
		t.Errorf("Receipts folder = %q", got)
	}
	if got := cfg.ClassificationFolder(Category("Garbage")); got != "NeedsReview" {
		t.Errorf("unknown category folder = %q, want NeedsReview fallback", got)
	}

	cfg.Classification.Folders = map[string]string{
		"Receipts":    "Archive/Receipts",
		"NeedsReview": "Review",
	}
	if got := cfg.ClassificationFolder(CategoryReceipts); got != "Archive/Receipts" {
		t.Errorf("overridden folder = %q", got)
	}
}

func TestAllRequiredFolders(t *testing.T) {
	cfg := validConfig()
	cfg.IMAP.FolderDrafts = "Drafts"
	cfg.IMAP.FolderReplied = "Replied"
	// Two categories sharing one folder must not duplicate it.
	cfg.Classification.Folders = map[string]string{
		"ToReply":     "ToReply",
		"Receipts":    "Archive",
		"Newsletters": "Archive",
		"NeedsReview": "NeedsReview",
	}

	folders := cfg.AllRequiredFolders()
	seen := make(map[string]int)
	for _, f := range folders {
		seen[f]++
	}
	for _, want := range []string{"ToReply", "Archive", "NeedsReview", "Drafts", "Replied"} {
		if seen[want] != 1 {
			t.Errorf("folder %q appears %d times, want once", want, seen[want])
		}
	}
	if len(folders) != 5 {
		t.Errorf("folders = %v, want 5 entries", folders)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.IMAP.FolderInbox != "INBOX" || cfg.PollSeconds != 60 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if !cfg.Tasks.ExecutiveBrief.Enabled || cfg.Tasks.ExecutiveBrief.TimeLocal != "07:30" {
		t.Errorf("task defaults not applied: %+v", cfg.Tasks.ExecutiveBrief)
	}
}

func TestLoadConfigReadsFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
imap:
  host: mail.corp.com
  username: me@corp.com
poll_seconds: 15
vip_senders:
  - boss@corp.com
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("POSTINO_IMAP_PASSWORD", "hunter2")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.IMAP.Host != "mail.corp.com" || cfg.PollSeconds != 15 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.IMAP.Password != "hunter2" {
		t.Errorf("env password not applied, got %q", cfg.IMAP.Password)
	}
	if len(cfg.VIPSenders) != 1 || cfg.VIPSenders[0] != "boss@corp.com" {
		t.Errorf("vip senders = %v", cfg.VIPSenders)
	}
	// File did not set the inbox; the default must survive.
	if cfg.IMAP.FolderInbox != "INBOX" {
		t.Errorf("inbox default lost: %q", cfg.IMAP.FolderInbox)
	}
}
