package queue

import "strings"

// PrimaryIdentity is the bot identity whose queues carry no suffix.
const PrimaryIdentity = "derf"

// TranscriptionQueue is shared by every identity: capture pushes into it and
// the transcription worker routes hits by wake word.
const TranscriptionQueue = "whisper_queue"

// Names holds the queue names and mailbox prefixes of one bot identity.
type Names struct {
	Identity string

	ResponseQueue   string
	ResponsePrefix  string
	SummaryQueue    string
	SummaryPrefix   string
	SpeechQueue     string // "id|index|text" lines awaiting synthesis
	PlaybackQueue   string // "id|path" items awaiting playback
	VoiceQueue      string // transcribed voice requests
	TranscribeQueue string
}

// NamesFor returns the names for identity. The empty identity and
// [PrimaryIdentity] get the unsuffixed names; any other identity gets queues
// suffixed with "_{identity}" and mailbox prefixes prefixed with
// "{identity}_".
func NamesFor(identity string) Names {
	identity = strings.ToLower(strings.TrimSpace(identity))
	if identity == "" {
		identity = PrimaryIdentity
	}
	q := func(base string) string {
		if identity == PrimaryIdentity {
			return base
		}
		return base + "_" + identity
	}
	p := func(base string) string {
		if identity == PrimaryIdentity {
			return base
		}
		return identity + "_" + base
	}
	return Names{
		Identity:        identity,
		ResponseQueue:   q("response_queue"),
		ResponsePrefix:  p("response"),
		SummaryQueue:    q("summarizer_queue"),
		SummaryPrefix:   p("summarizer"),
		SpeechQueue:     q("audio_queue"),
		PlaybackQueue:   q("playback_queue"),
		VoiceQueue:      q("voice_response_queue"),
		TranscribeQueue: TranscriptionQueue,
	}
}

// MailboxKey returns the result key "{prefix}:{id}".
func MailboxKey(prefix, id string) string {
	return prefix + ":" + id
}
