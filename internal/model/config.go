package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// DefaultClassificationFolders maps each category to its filing folder when
// no override is configured.
var DefaultClassificationFolders = map[string]string{
	"ToReply":         "ToReply",
	"Receipts":        "Receipts",
	"Newsletters":     "Newsletters",
	"Notifications":   "Notifications",
	"CalendarCreated": "CalendarCreated",
	"NoAction":        "NoAction",
	"NeedsReview":     "NeedsReview",
}

// IMAPConfig holds the mail store endpoint and folder layout.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`

	FolderInbox   string `mapstructure:"folder_inbox" yaml:"folder_inbox"`
	FolderDrafts  string `mapstructure:"folder_drafts" yaml:"folder_drafts"`
	FolderSent    string `mapstructure:"folder_sent" yaml:"folder_sent"`
	FolderReplied string `mapstructure:"folder_replied" yaml:"folder_replied"`

	// MailboxPrefix is applied uniformly to every non-INBOX folder operation
	// (e.g. "INBOX." on Dovecot-style namespaces). Empty means autodetect.
	MailboxPrefix string `mapstructure:"mailbox_prefix" yaml:"mailbox_prefix"`

	FilingMode             string `mapstructure:"filing_mode" yaml:"filing_mode"`
	CreateFoldersOnStartup bool   `mapstructure:"create_folders_on_startup" yaml:"create_folders_on_startup"`
	InitialLookbackDays    int    `mapstructure:"initial_lookback_days" yaml:"initial_lookback_days"`
	SkipAnswered           bool   `mapstructure:"skip_answered" yaml:"skip_answered"`
}

// ClassificationConfig controls how classifier output is turned into a plan.
type ClassificationConfig struct {
	// Folders maps category names to filing folders.
	Folders map[string]string `mapstructure:"folders" yaml:"folders"`

	// ConfidenceThreshold demotes low-confidence classifications to
	// NeedsReview before actions are decided.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`

	// DeadlineRegexFallback forces event extraction when keyword and date
	// heuristics both fire even though the classifier saw no event request.
	DeadlineRegexFallback bool `mapstructure:"deadline_regex_fallback" yaml:"deadline_regex_fallback"`
}

// TaskConfig configures one recurring task. Which cadence fields apply
// depends on the task: daily tasks use TimeLocal, the weekly recap also uses
// DayLocal, interval tasks use IntervalMinutes.
type TaskConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	TimeLocal       string `mapstructure:"time_local" yaml:"time_local"`
	DayLocal        string `mapstructure:"day_local" yaml:"day_local"`
	IntervalMinutes int    `mapstructure:"interval_minutes" yaml:"interval_minutes"`
	LookbackHours   int    `mapstructure:"lookback_hours" yaml:"lookback_hours"`
	LookbackDays    int    `mapstructure:"lookback_days" yaml:"lookback_days"`
	LookbackMinutes int    `mapstructure:"lookback_minutes" yaml:"lookback_minutes"`
	To              string `mapstructure:"to" yaml:"to"`
	SubjectPrefix   string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

// TasksConfig groups the five recurring tasks.
type TasksConfig struct {
	ExecutiveBrief TaskConfig `mapstructure:"executive_brief" yaml:"executive_brief"`
	DailyRecap     TaskConfig `mapstructure:"daily_recap" yaml:"daily_recap"`
	WeeklyRecap    TaskConfig `mapstructure:"weekly_recap" yaml:"weekly_recap"`
	ReplyDigest    TaskConfig `mapstructure:"reply_digest" yaml:"reply_digest"`
	Reconcile      TaskConfig `mapstructure:"reconcile" yaml:"reconcile"`
}

// LLMConfig holds settings for the text-generation collaborator.
type LLMConfig struct {
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	Model          string `mapstructure:"model" yaml:"model"`
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// CalendarConfig holds settings for the calendar collaborator. An absent
// token file disables calendar actions rather than failing startup.
type CalendarConfig struct {
	TokenPath  string `mapstructure:"token_path" yaml:"token_path"`
	CalendarID string `mapstructure:"calendar_id" yaml:"calendar_id"`
}

// Config is the top-level agent configuration.
type Config struct {
	DataDir     string `mapstructure:"data_dir" yaml:"data_dir"`
	Timezone    string `mapstructure:"timezone" yaml:"timezone"`
	PollSeconds int    `mapstructure:"poll_seconds" yaml:"poll_seconds"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`

	IMAP           IMAPConfig           `mapstructure:"imap" yaml:"imap"`
	Classification ClassificationConfig `mapstructure:"classification" yaml:"classification"`
	VIPSenders     []string             `mapstructure:"vip_senders" yaml:"vip_senders"`
	Tasks          TasksConfig          `mapstructure:"tasks" yaml:"tasks"`
	LLM            LLMConfig            `mapstructure:"llm" yaml:"llm"`
	Calendar       CalendarConfig       `mapstructure:"calendar" yaml:"calendar"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/postino/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "postino", "config.yaml")
}

// DatabasePath returns the location of the durable state store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "agent_state.db")
}

// ClassificationFolder resolves the filing folder for a category, falling
// back to the NeedsReview folder for unknown labels.
func (c *Config) ClassificationFolder(category Category) string {
	if folder, ok := c.Classification.Folders[string(category)]; ok {
		return folder
	}
	return c.Classification.Folders[string(CategoryNeedsReview)]
}

// AllRequiredFolders lists every folder the agent files into, including
// Drafts and Replied, deduplicated.
func (c *Config) AllRequiredFolders() []string {
	seen := make(map[string]bool)
	var folders []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		folders = append(folders, name)
	}
	for _, f := range c.Classification.Folders {
		add(f)
	}
	add(c.IMAP.FolderDrafts)
	add(c.IMAP.FolderReplied)
	return folders
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks the settings the agent cannot run without. It is called
// once at startup, before the poll loop starts.
func (c *Config) Validate() error {
	if c.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	if c.IMAP.Username == "" {
		return fmt.Errorf("imap.username is required")
	}
	if c.IMAP.FolderInbox == "" {
		return fmt.Errorf("imap.folder_inbox is required")
	}
	if m := FilingMode(c.IMAP.FilingMode); m != FilingMove && m != FilingCopy {
		return fmt.Errorf("imap.filing_mode must be %q or %q, got %q", FilingMove, FilingCopy, c.IMAP.FilingMode)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.PollSeconds <= 0 {
		return fmt.Errorf("poll_seconds must be positive, got %d", c.PollSeconds)
	}
	if len(c.Classification.Folders) == 0 {
		return fmt.Errorf("classification.folders must not be empty")
	}
	return nil
}

// defaultConfig returns the configuration used when keys are missing.
func defaultConfig() *Config {
	return &Config{
		DataDir:     "./data",
		Timezone:    "UTC",
		PollSeconds: 60,
		LogLevel:    "info",
		IMAP: IMAPConfig{
			Port:                   "993",
			TLS:                    true,
			FolderInbox:            "INBOX",
			FolderDrafts:           "Drafts",
			FolderReplied:          "Replied",
			FilingMode:             string(FilingMove),
			CreateFoldersOnStartup: true,
			InitialLookbackDays:    14,
			SkipAnswered:           true,
		},
		Classification: ClassificationConfig{
			Folders:             DefaultClassificationFolders,
			ConfidenceThreshold: 0.75,
		},
		Tasks: TasksConfig{
			ExecutiveBrief: TaskConfig{Enabled: true, TimeLocal: "07:30", LookbackHours: 24, SubjectPrefix: "[Executive Brief]"},
			DailyRecap:     TaskConfig{Enabled: true, TimeLocal: "18:00", LookbackHours: 24, SubjectPrefix: "[Daily Recap]"},
			WeeklyRecap:    TaskConfig{Enabled: true, DayLocal: "Mon", TimeLocal: "08:00", LookbackDays: 7, SubjectPrefix: "[Weekly Recap]"},
			ReplyDigest:    TaskConfig{Enabled: true, IntervalMinutes: 60, LookbackMinutes: 60, SubjectPrefix: "[Reply Digest]"},
			Reconcile:      TaskConfig{Enabled: true, IntervalMinutes: 1},
		},
		LLM: LLMConfig{
			BaseURL:        "https://openrouter.ai/api/v1",
			TimeoutSeconds: 60,
		},
		Calendar: CalendarConfig{
			CalendarID: "primary",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns the default configuration. The IMAP
// password and LLM API key may also come from the POSTINO_IMAP_PASSWORD and
// POSTINO_LLM_API_KEY environment variables, which take precedence over the
// file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	def := defaultConfig()
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("timezone", def.Timezone)
	v.SetDefault("poll_seconds", def.PollSeconds)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("imap.port", def.IMAP.Port)
	v.SetDefault("imap.tls", def.IMAP.TLS)
	v.SetDefault("imap.folder_inbox", def.IMAP.FolderInbox)
	v.SetDefault("imap.folder_drafts", def.IMAP.FolderDrafts)
	v.SetDefault("imap.folder_replied", def.IMAP.FolderReplied)
	v.SetDefault("imap.filing_mode", def.IMAP.FilingMode)
	v.SetDefault("imap.create_folders_on_startup", def.IMAP.CreateFoldersOnStartup)
	v.SetDefault("imap.initial_lookback_days", def.IMAP.InitialLookbackDays)
	v.SetDefault("imap.skip_answered", def.IMAP.SkipAnswered)
	v.SetDefault("classification.confidence_threshold", def.Classification.ConfidenceThreshold)
	v.SetDefault("llm.base_url", def.LLM.BaseURL)
	v.SetDefault("llm.timeout_seconds", def.LLM.TimeoutSeconds)
	v.SetDefault("calendar.calendar_id", def.Calendar.CalendarID)
	setTaskDefaults(v, "tasks.executive_brief", def.Tasks.ExecutiveBrief)
	setTaskDefaults(v, "tasks.daily_recap", def.Tasks.DailyRecap)
	setTaskDefaults(v, "tasks.weekly_recap", def.Tasks.WeeklyRecap)
	setTaskDefaults(v, "tasks.reply_digest", def.Tasks.ReplyDigest)
	setTaskDefaults(v, "tasks.reconcile", def.Tasks.Reconcile)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if pw := os.Getenv("POSTINO_IMAP_PASSWORD"); pw != "" {
		cfg.IMAP.Password = pw
	}
	if key := os.Getenv("POSTINO_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if len(cfg.Classification.Folders) == 0 {
		cfg.Classification.Folders = DefaultClassificationFolders
	}
	if cfg.Calendar.TokenPath == "" {
		cfg.Calendar.TokenPath = filepath.Join(cfg.DataDir, "google_token.json")
	}

	return cfg, nil
}

func setTaskDefaults(v *viper.Viper, prefix string, t TaskConfig) {
	v.SetDefault(prefix+".enabled", t.Enabled)
	v.SetDefault(prefix+".time_local", t.TimeLocal)
	v.SetDefault(prefix+".day_local", t.DayLocal)
	v.SetDefault(prefix+".interval_minutes", t.IntervalMinutes)
	v.SetDefault(prefix+".lookback_hours", t.LookbackHours)
	v.SetDefault(prefix+".lookback_days", t.LookbackDays)
	v.SetDefault(prefix+".lookback_minutes", t.LookbackMinutes)
	v.SetDefault(prefix+".subject_prefix", t.SubjectPrefix)
}
