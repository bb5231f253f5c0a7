// Package bot interprets chat commands and drives the settings store,
// enrollment flow and synthesis queue, replying over the message bus.
package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mynahbot/mynah/pkg/assets"
	"github.com/mynahbot/mynah/pkg/bus"
	"github.com/mynahbot/mynah/pkg/enroll"
	"github.com/mynahbot/mynah/pkg/logger"
	"github.com/mynahbot/mynah/pkg/ratelimit"
	"github.com/mynahbot/mynah/pkg/settings"
	"github.com/mynahbot/mynah/pkg/store"
	"github.com/mynahbot/mynah/pkg/synth"
	"github.com/mynahbot/mynah/pkg/voice"
)

// voiceEncoder converts finished WAV artifacts to voice notes.
// *audio.Transcoder satisfies it.
type voiceEncoder interface {
	ToVoiceNote(ctx context.Context, wavPath string) (string, error)
}

// Config tunes the command service.
type Config struct {
	BuiltinVoices []string
	SamplesMax    int
}

// Service is the channel-agnostic command layer. One instance serves all
// chat channels through the shared bus.
type Service struct {
	store       *store.Store
	assets      *assets.Store
	queue       *synth.Queue
	enroll      *enroll.Manager
	encoder     voiceEncoder
	transcriber voice.Transcriber // optional, may be nil
	limiter     *ratelimit.Limiter
	bus         *bus.MessageBus
	cfg         Config

	mu       sync.Mutex
	lastText map[int64]string // last generation input per user, for /retry
}

func NewService(
	st *store.Store,
	as *assets.Store,
	q *synth.Queue,
	en *enroll.Manager,
	enc voiceEncoder,
	tr voice.Transcriber,
	lim *ratelimit.Limiter,
	mb *bus.MessageBus,
	cfg Config,
) *Service {
	if cfg.SamplesMax <= 0 {
		cfg.SamplesMax = settings.SamplesMax
	}
	return &Service{
		store:       st,
		assets:      as,
		queue:       q,
		enroll:      en,
		encoder:     enc,
		transcriber: tr,
		limiter:     lim,
		bus:         mb,
		cfg:         cfg,
		lastText:    make(map[int64]string),
	}
}

// Run consumes inbound messages until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	logger.InfoC("bot", "Command service started")
	for {
		msg, ok := s.bus.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("bot", "Command service stopped")
			return
		}
		s.handle(ctx, msg)
	}
}

func (s *Service) handle(ctx context.Context, msg bus.InboundMessage) {
	uid, err := strconv.ParseInt(msg.SenderID, 10, 64)
	if err != nil {
		logger.WarnCF("bot", "Ignoring message with non-numeric sender", map[string]any{
			"channel": msg.Channel, "sender": msg.SenderID,
		})
		return
	}

	if err := s.store.EnsureUser(ctx, uid); err != nil {
		logger.ErrorCF("bot", "Failed to ensure user", map[string]any{
			"user": uid, "error": err.Error(),
		})
		s.reply(msg, "Something went wrong, please try again.")
		return
	}

	// An active enrollment session captures all input until it ends.
	if _, active := s.enroll.Active(uid); active {
		s.handleEnrollment(ctx, uid, msg)
		return
	}

	cmd, args := splitCommand(msg.Content)
	switch cmd {
	case "/start", "/help":
		s.reply(msg, helpText)
	case "/gen":
		s.generate(ctx, uid, msg, args)
	case "/retry":
		s.retry(ctx, uid, msg)
	case "/voices":
		s.listVoices(ctx, uid, msg)
	case "/voice":
		s.setVoice(ctx, uid, msg, args)
	case "/del_voice":
		s.removeVoice(ctx, uid, msg, args)
	case "/add_voice":
		s.beginEnrollment(ctx, uid, msg)
	case "/emotion":
		s.setEmotion(ctx, uid, msg, args)
	case "/samples":
		s.setSampleCount(ctx, uid, msg, args)
	case "/settings":
		s.showSettings(ctx, uid, msg)
	case "/accept", "/cancel":
		s.reply(msg, "There is no voice enrollment in progress. Use /add_voice to start one.")
	default:
		// Bare text and voice notes are generation requests.
		if msg.Content == "" && len(msg.Media) > 0 {
			s.generateFromVoiceNote(ctx, uid, msg)
			return
		}
		s.generate(ctx, uid, msg, msg.Content)
	}
}

func (s *Service) generate(ctx context.Context, uid int64, msg bus.InboundMessage, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		s.reply(msg, "Send me the text to speak, for example: /gen hello there")
		return
	}

	if s.limiter != nil && !s.limiter.AllowGeneration(msg.SenderID) {
		s.reply(msg, "You are sending requests too quickly. Please wait a moment.")
		return
	}

	us, err := s.store.Settings(ctx, uid)
	if err != nil {
		logger.ErrorCF("bot", "Failed to load settings", map[string]any{
			"user": uid, "error": err.Error(),
		})
		s.reply(msg, "Something went wrong, please try again.")
		return
	}

	job := &synth.Job{
		UserID:     uid,
		Channel:    msg.Channel,
		ChatID:     msg.ChatID,
		Text:       text,
		Emotion:    us.Emotion,
		Candidates: us.SampleCount,
	}
	if us.UsesCustomVoice() {
		samples, err := s.assets.ListSamples(msg.SenderID, us.CustomVoice.Name)
		if err != nil || len(samples) == 0 {
			logger.ErrorCF("bot", "Custom voice has no usable samples", map[string]any{
				"user": uid, "voice": us.CustomVoice.Name,
			})
			s.reply(msg, fmt.Sprintf("Your voice %q has no samples; falling back needs a /voice change.", us.CustomVoice.Name))
			return
		}
		job.SamplePaths = samples
	} else {
		job.Voice = us.DefaultVoice
	}

	s.mu.Lock()
	s.lastText[uid] = text
	s.mu.Unlock()

	if err := s.queue.Submit(job); err != nil {
		s.reply(msg, "The service is shutting down, please try again later.")
		return
	}
	s.reply(msg, fmt.Sprintf("Queued: %d take(s) with voice %q. I will send the audio when it is ready.",
		job.Candidates, us.ActiveVoiceName()))
}

// retry resubmits the user's last generation input. If the previous job is
// still waiting it is superseded by this one.
func (s *Service) retry(ctx context.Context, uid int64, msg bus.InboundMessage) {
	s.mu.Lock()
	text, ok := s.lastText[uid]
	s.mu.Unlock()
	if !ok {
		s.reply(msg, "Nothing to retry yet. Send some text first.")
		return
	}
	s.generate(ctx, uid, msg, text)
}

func (s *Service) generateFromVoiceNote(ctx context.Context, uid int64, msg bus.InboundMessage) {
	if s.transcriber == nil || !s.transcriber.IsAvailable() {
		s.reply(msg, "Voice input is not enabled; please type your text instead.")
		return
	}

	result, err := s.transcriber.Transcribe(ctx, msg.Media[0])
	os.Remove(msg.Media[0])
	if err != nil {
		logger.ErrorCF("bot", "Transcription failed", map[string]any{
			"user": uid, "error": err.Error(),
		})
		s.reply(msg, "I could not understand that recording, please try again.")
		return
	}
	s.generate(ctx, uid, msg, result.Text)
}

// OnResult delivers a finished job back to its chat. Wire it into the
// queue's Notify option.
func (s *Service) OnResult(r synth.Result) {
	out := bus.OutboundMessage{Channel: r.Job.Channel, ChatID: r.Job.ChatID}

	if r.Err != nil {
		out.Content = "Generation failed, sorry. Use /retry to try again."
		s.bus.PublishOutbound(out)
		return
	}

	ctx := context.Background()
	for i, wav := range r.Outputs {
		ogg, err := s.encoder.ToVoiceNote(ctx, wav)
		if err != nil {
			logger.WarnCF("bot", "Voice note encode failed, sending raw audio", map[string]any{
				"job": r.Job.ID, "error": err.Error(),
			})
			out.Attachments = append(out.Attachments, bus.Attachment{
				Type:     "audio",
				Path:     wav,
				FileName: fmt.Sprintf("take_%d.wav", i),
				MIMEType: "audio/wav",
			})
			continue
		}
		os.Remove(wav)
		out.Attachments = append(out.Attachments, bus.Attachment{
			Type:     "voice",
			Path:     ogg,
			FileName: filepath.Base(ogg),
			MIMEType: "audio/ogg",
		})
	}
	s.bus.PublishOutbound(out)
}

func (s *Service) listVoices(ctx context.Context, uid int64, msg bus.InboundMessage) {
	voices, err := s.store.ListVoices(ctx, uid)
	if err != nil {
		s.reply(msg, "Something went wrong, please try again.")
		return
	}

	var b strings.Builder
	b.WriteString("Built-in voices:\n")
	for _, name := range s.cfg.BuiltinVoices {
		fmt.Fprintf(&b, "  %s\n", name)
	}
	if len(voices) > 0 {
		b.WriteString("Your voices:\n")
		for _, v := range voices {
			fmt.Fprintf(&b, "  %s\n", v.Name)
		}
	}
	b.WriteString("Switch with /voice <name>.")
	s.reply(msg, b.String())
}

// setVoice activates a voice by name, custom voices taking precedence over
// builtins on a name clash.
func (s *Service) setVoice(ctx context.Context, uid int64, msg bus.InboundMessage, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		s.reply(msg, "Usage: /voice <name>. See /voices for the list.")
		return
	}

	voices, err := s.store.ListVoices(ctx, uid)
	if err != nil {
		s.reply(msg, "Something went wrong, please try again.")
		return
	}
	for _, v := range voices {
		if v.Name == name {
			if err := s.store.SetCustomVoice(ctx, uid, v.ID); err != nil {
				s.reply(msg, "Something went wrong, please try again.")
				return
			}
			s.reply(msg, fmt.Sprintf("Now speaking with your voice %q.", name))
			return
		}
	}

	for _, builtin := range s.cfg.BuiltinVoices {
		if builtin == name {
			if err := s.store.SetDefaultVoice(ctx, uid, name); err != nil {
				s.reply(msg, "Something went wrong, please try again.")
				return
			}
			s.reply(msg, fmt.Sprintf("Now speaking with %q.", name))
			return
		}
	}

	s.reply(msg, fmt.Sprintf("Unknown voice %q. See /voices for what is available.", name))
}

func (s *Service) removeVoice(ctx context.Context, uid int64, msg bus.InboundMessage, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		s.reply(msg, "Usage: /del_voice <name>.")
		return
	}

	voices, err := s.store.ListVoices(ctx, uid)
	if err != nil {
		s.reply(msg, "Something went wrong, please try again.")
		return
	}
	for _, v := range voices {
		if v.Name != name {
			continue
		}
		path, err := s.store.RemoveVoice(ctx, uid, v.ID)
		if err != nil {
			s.reply(msg, "Something went wrong, please try again.")
			return
		}
		if err := s.assets.RemovePath(path); err != nil {
			logger.ErrorCF("bot", "Failed to remove voice directory", map[string]any{
				"user": uid, "path": path, "error": err.Error(),
			})
		}
		s.reply(msg, fmt.Sprintf("Deleted voice %q.", name))
		return
	}
	s.reply(msg, fmt.Sprintf("You have no voice named %q.", name))
}

func (s *Service) beginEnrollment(ctx context.Context, uid int64, msg bus.InboundMessage) {
	err := s.enroll.Begin(ctx, uid)
	switch {
	case errors.Is(err, enroll.ErrVoiceLimit):
		s.reply(msg, "You already have the maximum number of voices. Delete one first with /del_voice.")
	case errors.Is(err, enroll.ErrSessionActive):
		s.reply(msg, "Enrollment is already in progress. Send audio, /accept, or /cancel.")
	case err != nil:
		s.reply(msg, "Something went wrong, please try again.")
	default:
		s.reply(msg, "Let's add a new voice. First, send me a name for it.")
	}
}

func (s *Service) handleEnrollment(ctx context.Context, uid int64, msg bus.InboundMessage) {
	cmd, _ := splitCommand(msg.Content)
	switch cmd {
	case "/cancel":
		s.enroll.Cancel(uid)
		s.reply(msg, "Enrollment cancelled, nothing was saved.")
		return
	case "/accept":
		v, err := s.enroll.Accept(ctx, uid)
		switch {
		case errors.Is(err, enroll.ErrNotEnoughAudio):
			total, minSecs, _ := s.enroll.Progress(uid)
			s.reply(msg, fmt.Sprintf("Not enough audio yet: %.0fs of the required %.0fs. Send more clips.", total, minSecs))
		case errors.Is(err, enroll.ErrWrongState):
			s.reply(msg, "Pick a name first, then send audio.")
		case err != nil:
			s.reply(msg, "Could not save the voice, enrollment was discarded.")
		default:
			if err := s.store.SetCustomVoice(ctx, uid, v.ID); err != nil {
				logger.WarnCF("bot", "Could not activate new voice", map[string]any{
					"user": uid, "voice": v.Name, "error": err.Error(),
				})
			}
			s.reply(msg, fmt.Sprintf("Voice %q saved and selected. Send text to hear it!", v.Name))
		}
		return
	}

	state, _ := s.enroll.Active(uid)
	switch state {
	case enroll.StateAwaitingName:
		name, err := s.enroll.SetName(ctx, uid, msg.Content)
		switch {
		case errors.Is(err, enroll.ErrNameRequired):
			s.reply(msg, "That name has no usable characters, try another one.")
		case errors.Is(err, store.ErrDuplicateName):
			s.reply(msg, "You already have a voice with that name, try another one.")
		case err != nil:
			s.reply(msg, "Something went wrong, please try again.")
		default:
			s.reply(msg, fmt.Sprintf("Voice will be called %q. Now send voice recordings; /accept when done, /cancel to abort.", name))
		}
	case enroll.StateAwaitingAudio:
		if len(msg.Media) == 0 {
			s.reply(msg, "Send an audio recording, or /accept to finish, /cancel to abort.")
			return
		}
		for _, clip := range msg.Media {
			total, err := s.enroll.AddSample(ctx, uid, clip)
			switch {
			case errors.Is(err, enroll.ErrClipTooLong):
				s.reply(msg, "That clip would push the total past the limit; it was discarded. /accept to finish.")
			case err != nil:
				s.reply(msg, "I could not process that recording, please send it again.")
			default:
				_, minSecs, _ := s.enroll.Progress(uid)
				if total >= minSecs {
					s.reply(msg, fmt.Sprintf("Got %.0fs of audio. /accept to save, or keep sending clips.", total))
				} else {
					s.reply(msg, fmt.Sprintf("Got %.0fs of audio, need at least %.0fs.", total, minSecs))
				}
			}
		}
	}
}

func (s *Service) setEmotion(ctx context.Context, uid int64, msg bus.InboundMessage, arg string) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		names := make([]string, 0, len(settings.Emotions()))
		for _, e := range settings.Emotions() {
			names = append(names, e.String())
		}
		s.reply(msg, "Usage: /emotion <name>. One of: "+strings.Join(names, ", "))
		return
	}

	e, err := settings.ParseEmotion(arg)
	if err != nil {
		s.reply(msg, fmt.Sprintf("Unknown emotion %q.", arg))
		return
	}
	if err := s.store.SetEmotion(ctx, uid, e); err != nil {
		s.reply(msg, "Something went wrong, please try again.")
		return
	}
	s.reply(msg, fmt.Sprintf("Emotion set to %s.", e))
}

func (s *Service) setSampleCount(ctx context.Context, uid int64, msg bus.InboundMessage, arg string) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		s.reply(msg, fmt.Sprintf("Usage: /samples <1-%d>.", s.cfg.SamplesMax))
		return
	}
	if err := s.store.SetSampleCount(ctx, uid, n); err != nil {
		if errors.Is(err, store.ErrSampleCountRange) {
			s.reply(msg, fmt.Sprintf("Sample count must be between 1 and %d.", s.cfg.SamplesMax))
		} else {
			s.reply(msg, "Something went wrong, please try again.")
		}
		return
	}
	s.reply(msg, fmt.Sprintf("You will now get %d take(s) per request.", n))
}

func (s *Service) showSettings(ctx context.Context, uid int64, msg bus.InboundMessage) {
	us, err := s.store.Settings(ctx, uid)
	if err != nil {
		s.reply(msg, "Something went wrong, please try again.")
		return
	}
	kind := "built-in"
	if us.UsesCustomVoice() {
		kind = "your own"
	}
	s.reply(msg, fmt.Sprintf("Voice: %s (%s)\nEmotion: %s\nTakes per request: %d",
		us.ActiveVoiceName(), kind, us.Emotion, us.SampleCount))
}

func (s *Service) reply(msg bus.InboundMessage, text string) {
	s.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: text,
	})
}

// splitCommand separates a leading slash command from its argument text.
// "@botname" suffixes are stripped so group mentions still match.
func splitCommand(content string) (cmd, args string) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "/") {
		return "", content
	}
	cmd, args, _ = strings.Cut(content, " ")
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, strings.TrimSpace(args)
}

const helpText = `I turn text into speech, optionally in your own voice.

/gen <text> - speak the text (or just send me text)
/retry - regenerate the last request
/voices - list available voices
/voice <name> - switch voice
/add_voice - enroll your own voice from recordings
/del_voice <name> - delete one of your voices
/emotion <name> - set the speaking emotion
/samples <n> - takes generated per request
/settings - show your current settings`
