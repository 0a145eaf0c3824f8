package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"videointerview/internal/interview"
)

// MaxQuestions is the number of question videos an interview may carry.
const MaxQuestions = 5

// FileName is the interview definition looked up in a workspace.
const FileName = "interview.yml"

// Config models interview.yml.
type Config struct {
	Interview struct {
		Title      string `yaml:"title"`
		IntroVideo string `yaml:"intro_video"`
	} `yaml:"interview"`
	Questions []Question `yaml:"questions"`
	Capture   struct {
		MaxDuration        Duration `yaml:"max_duration"`
		MinDuration        Duration `yaml:"min_duration"`
		RequirePlaybackEnd bool     `yaml:"require_playback_end"`
	} `yaml:"capture"`
	Storage struct {
		ArtifactsDir string `yaml:"artifacts_dir"`
	} `yaml:"storage"`
	Server struct {
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Question struct {
	Video string `yaml:"video"`
	Text  string `yaml:"text"`
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Active reports whether the webhook should receive deliveries.
func (w Webhook) Active() bool { return w.Enabled == nil || *w.Enabled }

// Duration accepts "90s", "2m" or a plain number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var raw string
	if err := n.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	if v, err := time.ParseDuration(raw); err == nil {
		*d = Duration(v)
		return nil
	}
	var secs int
	if _, err := fmt.Sscanf(raw, "%d", &secs); err != nil || fmt.Sprint(secs) != raw {
		return fmt.Errorf("invalid duration %q", raw)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with vinterview init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Interview.IntroVideo) == "" {
		return fmt.Errorf("config.interview.intro_video is required")
	}
	if len(c.Questions) == 0 {
		return fmt.Errorf("config.questions must list at least one question")
	}
	if len(c.Questions) > MaxQuestions {
		return fmt.Errorf("config.questions has %d entries; at most %d are allowed", len(c.Questions), MaxQuestions)
	}
	for i, q := range c.Questions {
		if strings.TrimSpace(q.Video) == "" {
			return fmt.Errorf("question %d has no video", i+1)
		}
	}
	if c.Capture.MaxDuration < 0 || c.Capture.MinDuration < 0 {
		return fmt.Errorf("config.capture durations must not be negative")
	}
	if c.Capture.MaxDuration > 0 && c.Capture.MinDuration > c.Capture.MaxDuration {
		return fmt.Errorf("config.capture.min_duration exceeds max_duration")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has no url", i+1)
		}
		if !strings.HasPrefix(wh.URL, "http://") && !strings.HasPrefix(wh.URL, "https://") {
			return fmt.Errorf("webhook %d url must be http or https", i+1)
		}
		if wh.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d timeout_seconds must not be negative", i+1)
		}
	}
	return nil
}

// Prompts converts the question list for the orchestrator.
func (c *Config) Prompts() []interview.QuestionPrompt {
	out := make([]interview.QuestionPrompt, len(c.Questions))
	for i, q := range c.Questions {
		text := q.Text
		if strings.TrimSpace(text) == "" {
			text = fmt.Sprintf("Question %d", i+1)
		}
		out[i] = interview.QuestionPrompt{Index: i, VideoRef: q.Video, Text: text}
	}
	return out
}

// ArtifactsDir resolves the artifact directory against workspace.
func (c *Config) ArtifactsDir(workspace string) string {
	dir := c.Storage.ArtifactsDir
	if dir == "" {
		dir = "artifacts"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dir)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(title string) string {
	if title == "" {
		title = "Video Interview"
	}
	return fmt.Sprintf(defaultTemplate, title)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault("")), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `interview:
  title: %q
  intro_video: https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/BigBuckBunny.mp4

questions:
  - video: https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ElephantsDream.mp4
    text: "Tell us about a challenging project you worked on and how you overcame obstacles."
  - video: https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ForBiggerBlazes.mp4
    text: "Describe a time when you had to work with a difficult team member. How did you handle it?"
  - video: https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ForBiggerEscapes.mp4
    text: "What are your greatest strengths and how do they relate to this position?"
  - video: https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ForBiggerFun.mp4
    text: "Where do you see yourself in 5 years and how does this role fit into your career goals?"
  - video: https://commondatastorage.googleapis.com/gtv-videos-bucket/sample/ForBiggerJoyrides.mp4
    text: "Tell us about a time you failed and what you learned from the experience."

capture:
  max_duration: 0s
  min_duration: 0s
  require_playback_end: false

storage:
  artifacts_dir: artifacts

server:
  cors_origins: ["*"]
`
