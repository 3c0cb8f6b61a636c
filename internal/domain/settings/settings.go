package settings

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/bytedance/sonic"
)

var (
	ErrUnknownKey = errors.New("unknown settings key")
	ErrInvalid    = errors.New("invalid settings")
)

// Settings are the user preferences shared by every tab.
type Settings struct {
	IsActive        bool    `json:"isActive" yaml:"isActive" toml:"isActive"`
	GazeCursor      bool    `json:"gazeCursor" yaml:"gazeCursor" toml:"gazeCursor"`
	BlinkClick      bool    `json:"blinkClick" yaml:"blinkClick" toml:"blinkClick"`
	AutoZoom        bool    `json:"autoZoom" yaml:"autoZoom" toml:"autoZoom"`
	TextSpeech      bool    `json:"textSpeech" yaml:"textSpeech" toml:"textSpeech"`
	EdgeNavigation  bool    `json:"edgeNavigation" yaml:"edgeNavigation" toml:"edgeNavigation"`
	AutoScroll      bool    `json:"autoScroll" yaml:"autoScroll" toml:"autoScroll"`
	GazeSensitivity int     `json:"gazeSensitivity" yaml:"gazeSensitivity" toml:"gazeSensitivity"`
	BlinkDelay      int     `json:"blinkDelay" yaml:"blinkDelay" toml:"blinkDelay"` // milliseconds
	ZoomDelay       float64 `json:"zoomDelay" yaml:"zoomDelay" toml:"zoomDelay"`    // seconds
	SpeechRate      float64 `json:"speechRate" yaml:"speechRate" toml:"speechRate"`
	EdgeSize        int     `json:"edgeSize" yaml:"edgeSize" toml:"edgeSize"` // percent of viewport
	ScrollSpeed     int     `json:"scrollSpeed" yaml:"scrollSpeed" toml:"scrollSpeed"`
	Calibrated      bool    `json:"calibrated" yaml:"calibrated" toml:"calibrated"`
}

// Defaults returns the install-time settings.
func Defaults() Settings {
	return Settings{
		IsActive:        true,
		GazeCursor:      true,
		BlinkClick:      true,
		AutoZoom:        true,
		TextSpeech:      true,
		EdgeNavigation:  true,
		AutoScroll:      true,
		GazeSensitivity: 5,
		BlinkDelay:      500,
		ZoomDelay:       2,
		SpeechRate:      1,
		EdgeSize:        10,
		ScrollSpeed:     5,
		Calibrated:      false,
	}
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	switch {
	case s.GazeSensitivity < 1 || s.GazeSensitivity > 10:
		return fmt.Errorf("%w: gazeSensitivity must be between 1 and 10", ErrInvalid)
	case s.BlinkDelay < 0:
		return fmt.Errorf("%w: blinkDelay must not be negative", ErrInvalid)
	case s.ZoomDelay < 0:
		return fmt.Errorf("%w: zoomDelay must not be negative", ErrInvalid)
	case s.SpeechRate <= 0:
		return fmt.Errorf("%w: speechRate must be positive", ErrInvalid)
	case s.EdgeSize < 0 || s.EdgeSize > 50:
		return fmt.Errorf("%w: edgeSize must be between 0 and 50", ErrInvalid)
	case s.ScrollSpeed < 0:
		return fmt.Errorf("%w: scrollSpeed must not be negative", ErrInvalid)
	}
	return nil
}

// Values is the untyped key/value form exchanged with agents.
type Values map[string]interface{}

// Values converts s to its key/value form.
func (s Settings) Values() Values {
	data, _ := sonic.Marshal(s)
	v := Values{}
	_ = sonic.Unmarshal(data, &v)
	return v
}

// Apply overlays v on s. Unknown keys and mistyped values are rejected.
func (s Settings) Apply(v Values) (Settings, error) {
	known := Defaults().Values()
	for k := range v {
		if _, ok := known[k]; !ok {
			return s, fmt.Errorf("%w: %s", ErrUnknownKey, k)
		}
	}

	data, err := sonic.Marshal(v)
	if err != nil {
		return s, fmt.Errorf("encode settings: %w", err)
	}
	out := s
	if err := sonic.Unmarshal(data, &out); err != nil {
		return s, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := out.Validate(); err != nil {
		return s, err
	}
	return out, nil
}

// Settings decodes v over the defaults, ignoring anything it cannot read.
func (v Values) Settings() Settings {
	s := Defaults()
	data, err := sonic.Marshal(v)
	if err != nil {
		return s
	}
	_ = sonic.Unmarshal(data, &s)
	return s
}

// Select returns only keys. No keys selects everything. Missing keys are
// omitted rather than reported.
func (v Values) Select(keys ...string) Values {
	if len(keys) == 0 {
		out := make(Values, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out
	}
	out := make(Values, len(keys))
	for _, k := range keys {
		if val, ok := v[k]; ok {
			out[k] = val
		}
	}
	return out
}

// Keys lists the keys in sorted order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reader reads settings.
type Reader interface {
	Get(ctx context.Context, keys ...string) (Values, error)
}

// Store reads and writes settings.
type Store interface {
	Reader
	// Set merges partial into the stored settings and returns the result.
	Set(ctx context.Context, partial Values) (Values, error)
}

// Load reads every setting from r in typed form.
func Load(ctx context.Context, r Reader) (Settings, error) {
	v, err := r.Get(ctx)
	if err != nil {
		return Defaults(), err
	}
	return v.Settings(), nil
}
