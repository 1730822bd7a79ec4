package config

// Default returns the built-in configuration values applied before a config
// file is decoded on top of them.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: "~/.local/share/redub",
			LogDir:  "~/.local/share/redub/logs",
			APIBind: "127.0.0.1:8765",
		},
		ASR: ASR{
			Binary:    "whisperx",
			Model:     "large-v3",
			Language:  "en",
			BatchSize: 8,
		},
		Diarization: Diarization{
			Binary:      "pyannote-audio",
			Model:       "pyannote/speaker-diarization-3.1",
			MinSpeakers: 1,
			MaxSpeakers: 2,
			HFTokenEnv:  "HF_TOKEN",
		},
		Merge: Merge{
			MinSegmentDuration: 0.5,
			Smoothing:          false,
			SmoothingWindow:    3,
		},
		Translation: Translation{
			Binary:         "nllb-translate",
			Model:          "facebook/nllb-200-distilled-600M",
			SourceLanguage: "en",
			TargetLanguage: "es",
			Cache:          true,
		},
		TTS: TTS{
			Binary:          "xtts",
			Model:           "tts_models/multilingual/multi-dataset/xtts_v2",
			SampleRate:      22050,
			MaxCharsPerCall: 350,
			RefMinDuration:  6.0,
			RefMaxDuration:  30.0,
			Cache:           true,
		},
		Render: Render{
			SampleRate:  44100,
			CrossfadeMS: 50,
			StretchMin:  0.7,
			StretchMax:  1.5,
			TargetLUFS:  -16.0,
		},
		Workflow: Workflow{
			MaxConcurrentJobs: 2,
			MaxInputMinutes:   180,
			DownloadTimeout:   600,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
		Download: Download{
			Binary: "yt-dlp",
		},
	}
}
