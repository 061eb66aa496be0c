// Package validation enforces the input rules for a note submission before
// any external service is contacted.
package validation

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/voicenote/internal/config"
	"github.com/fyrsmithlabs/voicenote/internal/faults"
	"github.com/fyrsmithlabs/voicenote/internal/note"
)

// Caller-facing validation messages.
const (
	MsgNoInput   = "either an audio file or text content is required"
	MsgBothInput = "provide only one of audio file or text content"
)

// noInputLiteral is what some clients send for an empty text field.
const noInputLiteral = "no input"

var baseAudioExtensions = []string{".mp3", ".wav", ".m4a"}

// Input is an unvalidated submission. Audio is present when Filename is set
// or Audio is non-empty.
type Input struct {
	Audio    []byte
	Filename string
	// Size is the declared upload size. Zero means len(Audio). Uploads read
	// through a limit reader may hold fewer bytes than were sent.
	Size int64
	Text string
}

func (in Input) hasAudio() bool {
	return in.Filename != "" || len(in.Audio) > 0
}

func (in Input) hasText() bool {
	t := strings.TrimSpace(in.Text)
	return t != "" && !strings.EqualFold(t, noInputLiteral)
}

func (in Input) size() int64 {
	if in.Size > 0 {
		return in.Size
	}
	return int64(len(in.Audio))
}

// Validated is a submission that passed every rule.
type Validated struct {
	Type     note.InputType
	Audio    []byte
	Filename string // base name only
	Text     string
}

// Validator checks submissions against the configured audio rules.
type Validator struct {
	maxSize    int64
	extensions map[string]struct{}
	supported  string
}

// New creates a Validator from the audio settings.
func New(cfg config.AudioConfig) *Validator {
	exts := append([]string(nil), baseAudioExtensions...)
	if cfg.AllowWebm {
		exts = append(exts, ".webm")
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		allowed[e] = struct{}{}
	}
	return &Validator{
		maxSize:    cfg.MaxSize.Int64(),
		extensions: allowed,
		supported:  strings.Join(exts, ", "),
	}
}

// Extensions returns the accepted audio extensions, sorted.
func (v *Validator) Extensions() []string {
	out := make([]string, 0, len(v.extensions))
	for e := range v.extensions {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// MaxSize returns the audio size ceiling in bytes.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// Validate returns the accepted submission or a validation *faults.Error.
func (v *Validator) Validate(in Input) (*Validated, error) {
	audio, text := in.hasAudio(), in.hasText()
	switch {
	case !audio && !text:
		return nil, faults.Validation(MsgNoInput)
	case audio && text:
		return nil, faults.Validation(MsgBothInput)
	case text:
		return &Validated{Type: note.InputText, Text: in.Text}, nil
	}

	name := filepath.Base(filepath.Clean("/" + in.Filename))
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := v.extensions[ext]; !ok {
		shown := ext
		if shown == "" {
			shown = "none"
		}
		return nil, faults.Validationf("unsupported audio format: %s (supported: %s)", shown, v.supported)
	}

	if size := in.size(); size > v.maxSize {
		return nil, faults.Validationf("audio file too large: %d bytes (max %d bytes)", size, v.maxSize)
	}

	return &Validated{Type: note.InputAudio, Audio: in.Audio, Filename: name}, nil
}
