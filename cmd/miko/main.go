// Command miko runs the conversational persona agent: it wires the local
// LLM, speech synthesis, transcription and audio devices into an
// orchestrator and keeps the conversation loop alive until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	orchestration "github.com/mikanbako-lab/miko-core/core"
	"github.com/mikanbako-lab/miko-core/core/audio/miniaudio"
	"github.com/mikanbako-lab/miko-core/core/audio/portaudio"
	"github.com/mikanbako-lab/miko-core/core/llms/koboldcpp"
	"github.com/mikanbako-lab/miko-core/core/messenger"
	"github.com/mikanbako-lab/miko-core/core/speechtotext/whisper"
	"github.com/mikanbako-lab/miko-core/core/texttospeech/voicevox"
)

// captureBufferFrames sizes the PortAudio read buffer at 100ms of audio.
const captureBufferFrames = 1600

var (
	configFile  string
	textOnly    bool
	noDisplay   bool
	chatCommand string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "miko",
		Short: "Run the local conversational persona agent",
		Long: `Starts the conversation loop against locally hosted services:
KoboldCpp for generation, VOICEVOX for speech synthesis and a whisper.cpp
server for transcription. Speech is captured from the default microphone
and responses are spoken through the default output device while the
conversation is mirrored to a separate chat window.`,
		SilenceUsage: true,
		RunE:         run,
	}

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the config file (defaults to ./miko.yaml)")
	rootCmd.Flags().BoolVar(&textOnly, "text-only", false, "Disable microphone capture and speech playback")
	rootCmd.Flags().BoolVar(&noDisplay, "no-display", false, "Do not spawn the chat window")
	rootCmd.Flags().StringVar(&chatCommand, "chat-command", "", "Chat window command (overrides chat.command)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() error {
	viper.SetDefault("koboldcpp.url", "http://localhost:5001")
	viper.SetDefault("voicevox.url", "http://localhost:50021")
	viper.SetDefault("voicevox.speaker", 3)
	viper.SetDefault("voicevox.speed_scale", 1.0)
	viper.SetDefault("voicevox.pitch_scale", 0.0)
	viper.SetDefault("whisper.url", "http://localhost:8080")
	viper.SetDefault("whisper.language", "ja")
	viper.SetDefault("capture.backend", "miniaudio")
	viper.SetDefault("capture.vad_threshold", 300.0)
	viper.SetDefault("capture.silence_ms", 800)
	viper.SetDefault("capture.min_voiced_ms", 300)
	viper.SetDefault("segment.max_runes", 120)
	viper.SetDefault("synthesis.concurrency", 2)
	viper.SetDefault("chat.command", "miko-chat")

	viper.SetEnvPrefix("miko")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		return viper.ReadInConfig()
	}

	viper.SetConfigName("miko")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/miko")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}

	return nil
}

func persona() orchestration.Persona {
	return orchestration.Persona{
		Name:             viper.GetString("persona.name"),
		UserName:         viper.GetString("persona.user_name"),
		WorldSetting:     viper.GetString("persona.world"),
		CharacterSetting: viper.GetString("persona.character"),
		SceneSetting:     viper.GetString("persona.scene"),
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llm := koboldcpp.NewClient(koboldcpp.WithBaseURL(viper.GetString("koboldcpp.url")))
	if !llm.Healthy(ctx) {
		logrus.Warnf("KoboldCpp is not reachable at %s, generation will fail until it comes up", viper.GetString("koboldcpp.url"))
	}

	tts := voicevox.NewClient(
		voicevox.WithBaseURL(viper.GetString("voicevox.url")),
		voicevox.WithSpeaker(viper.GetInt("voicevox.speaker")),
		voicevox.WithSpeedScale(viper.GetFloat64("voicevox.speed_scale")),
		voicevox.WithPitchScale(viper.GetFloat64("voicevox.pitch_scale")),
	)
	if !tts.Healthy(ctx) {
		logrus.Warnf("VOICEVOX is not reachable at %s, responses will be silent until it comes up", viper.GetString("voicevox.url"))
	}
	if dict := viper.GetString("voicevox.user_dict"); dict != "" {
		if err := tts.ImportUserDict(ctx, dict); err != nil {
			logrus.Warnf("Could not import VOICEVOX user dictionary %s: %v", dict, err)
		}
	}

	stt := whisper.NewClient(
		whisper.WithBaseURL(viper.GetString("whisper.url")),
		whisper.WithLanguage(viper.GetString("whisper.language")),
	)
	if !stt.Healthy(ctx) {
		logrus.Warnf("whisper.cpp is not reachable at %s, voice input will be discarded until it comes up", viper.GetString("whisper.url"))
	}

	options := []orchestration.OrchestratorOption{
		orchestration.WithStreamingLLM(llm),
		orchestration.WithSynthesisClient(tts),
		orchestration.WithTranscriptionClient(stt),
		orchestration.WithPersona(persona()),
		orchestration.WithMaxSegmentLength(viper.GetInt("segment.max_runes")),
		orchestration.WithSynthesisConcurrency(viper.GetInt("synthesis.concurrency")),
		orchestration.WithVoiceActivityThreshold(viper.GetFloat64("capture.vad_threshold")),
		orchestration.WithSilenceDuration(time.Duration(viper.GetInt("capture.silence_ms")) * time.Millisecond),
		orchestration.WithMinimumVoicedDuration(time.Duration(viper.GetInt("capture.min_voiced_ms")) * time.Millisecond),
	}

	if !textOnly {
		audioClient, err := miniaudio.NewClient()
		if err != nil {
			logrus.Warnf("Audio devices unavailable, continuing text-only: %v", err)
		} else {
			defer audioClient.Close()
			options = append(options, orchestration.WithAudioOutput(audioClient))

			switch backend := viper.GetString("capture.backend"); backend {
			case "portaudio":
				capture, err := portaudio.NewClient(captureBufferFrames)
				if err != nil {
					logrus.Warnf("PortAudio capture unavailable, continuing without voice input: %v", err)
				} else {
					defer capture.Close()
					options = append(options, orchestration.WithAudioInput(capture))
				}
			case "miniaudio":
				options = append(options, orchestration.WithAudioInput(audioClient))
			default:
				return fmt.Errorf("unknown capture backend %q", backend)
			}
		}
	}

	// The window's callbacks close over the orchestrator before it exists.
	// The subprocess cannot connect before Open, and Open is called after
	// the assignment below, so the callbacks never see a nil orchestrator.
	var orchestrator *orchestration.Orchestrator

	var window *messenger.Window
	if !noDisplay {
		command := chatCommand
		if command == "" {
			command = viper.GetString("chat.command")
		}

		window = messenger.NewWindow(
			messenger.WithCommand(command),
			messenger.WithSubmitCallback(func(text string) {
				if err := orchestrator.SendPrompt(text); err != nil {
					logrus.Warnf("Dropped prompt: %v", err)
				}
			}),
			messenger.WithCancelCallback(func() {
				orchestrator.CancelTurn()
			}),
			messenger.WithClearHistoryCallback(func() {
				if err := orchestrator.ClearHistory(); err != nil {
					logrus.Warnf("Could not clear history: %v", err)
				}
			}),
		)
		options = append(options, orchestration.WithDisplayClient(window))
	}

	orchestrator = orchestration.NewOrchestrator(options...)
	defer orchestrator.Close()

	if window != nil {
		if err := window.Open(ctx); err != nil {
			return fmt.Errorf("failed to open chat window: %w", err)
		}
		defer window.Close()
	}

	if err := orchestrator.Orchestrate(ctx); err != nil {
		return err
	}

	logrus.Info("Conversation loop running, press Ctrl+C to exit")
	<-ctx.Done()

	return nil
}
