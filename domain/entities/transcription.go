package entities

import (
	"errors"
	"fmt"
)

const (
	DefaultLanguageCode    = "en-US"
	DefaultSampleRateHertz = 44100
	// LanguageCodeAuto is accepted but not mapped to a concrete language yet
	LanguageCodeAuto = "auto"
	// MediaEncodingPCM is the only encoding the session produces
	MediaEncodingPCM = "pcm"
)

// TranscriptionOptions is the caller-supplied request for one session
type TranscriptionOptions struct {
	APIToken             string `json:"api_token" yaml:"api_token"`
	LanguageCode         string `json:"language_code,omitempty" yaml:"language_code"`
	MediaSampleRateHertz int    `json:"sample_rate,omitempty" yaml:"sample_rate"`
}

// WithDefaults fills the optional fields
func (o TranscriptionOptions) WithDefaults() TranscriptionOptions {
	if o.LanguageCode == "" {
		o.LanguageCode = DefaultLanguageCode
	}
	if o.MediaSampleRateHertz == 0 {
		o.MediaSampleRateHertz = DefaultSampleRateHertz
	}
	return o
}

// Validate validates the options
func (o TranscriptionOptions) Validate() error {
	if o.APIToken == "" {
		return errors.New("api token is required")
	}
	if o.MediaSampleRateHertz < 0 {
		return fmt.Errorf("sample rate must be positive, got %d", o.MediaSampleRateHertz)
	}
	return nil
}

// ServiceLanguageCode returns the language code sent to the transcription service.
func (o TranscriptionOptions) ServiceLanguageCode() string {
	switch o.LanguageCode {
	case "":
		return DefaultLanguageCode
	case LanguageCodeAuto:
		// TODO: map "auto" to the client's preferred language once the relay
		// forwards Accept-Language. Until then it is passed through untouched.
		return LanguageCodeAuto
	default:
		return o.LanguageCode
	}
}

// Credentials are short-lived, service-scoped keys issued by the credential broker.
// They are never persisted.
type Credentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken"`
	Region          string `json:"region"`
}

// Validate checks that the credentials can sign a request
func (c Credentials) Validate() error {
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return errors.New("access key pair is required")
	}
	if c.Region == "" {
		return errors.New("region is required")
	}
	return nil
}

// Alternative is one candidate transcription of a result
type Alternative struct {
	Transcript string `json:"transcript"`
}

// TranscriptResult is a partial or final segment with its candidates, best first
type TranscriptResult struct {
	IsPartial    bool          `json:"is_partial"`
	Alternatives []Alternative `json:"alternatives"`
}

// TranscriptEvent is one inbound message of the service's result stream
type TranscriptEvent struct {
	Results []TranscriptResult `json:"results"`
}

// FirstAlternative returns the best candidate of the first result, if any.
func (e TranscriptEvent) FirstAlternative() (TranscriptResult, Alternative, bool) {
	if len(e.Results) == 0 {
		return TranscriptResult{}, Alternative{}, false
	}
	result := e.Results[0]
	if len(result.Alternatives) == 0 {
		return TranscriptResult{}, Alternative{}, false
	}
	return result, result.Alternatives[0], true
}
